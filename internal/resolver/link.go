package resolver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/cache"
	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// ErrNoMatch signals that every relaxation of the query came up empty.
// The empty result is cached, so only the first lookup for a key pays the
// full chain of searches.
var ErrNoMatch = errors.New("no track match found")

// multiArtistSeparator splits collaborator credits ("Artist A / Artist B")
const multiArtistSeparator = "/"

// searchQuery is one (title, artist) pair to try against the search service
type searchQuery struct {
	title  string
	artist string
}

// relaxationChain returns the queries to try, in order: the exact pair first,
// then the first artist of a multi-artist credit, then title alone. Keeping
// the chain an explicit list makes the fallback policy testable without a
// network call.
func relaxationChain(title, artist string) []searchQuery {
	chain := []searchQuery{{title: title, artist: artist}}
	if parts := strings.Split(artist, multiArtistSeparator); len(parts) > 1 {
		chain = append(chain, searchQuery{title: title, artist: strings.TrimSpace(parts[0])})
	}
	if artist != "" {
		chain = append(chain, searchQuery{title: title, artist: ""})
	}
	return chain
}

// LinkResolver resolves a (title, artist, album) triple to an external track
// link through the search service, memoized by the result cache
type LinkResolver struct {
	logger   *zap.Logger
	cache    *cache.ResultCache
	searcher domain.TrackSearcher
}

// NewLinkResolver creates a link resolver backed by the given searcher
func NewLinkResolver(logger *zap.Logger, c *cache.ResultCache, searcher domain.TrackSearcher) *LinkResolver {
	return &LinkResolver{logger: logger, cache: c, searcher: searcher}
}

// Resolve returns the external link for the given track, or "" with
// ErrNoMatch when nothing usable was found. Results, including failures, are
// cached under the key derived from the original (unrelaxed) inputs so
// relaxed queries never create diverging entries.
func (r *LinkResolver) Resolve(ctx context.Context, title, artist, album string) (string, error) {
	key := title + artist + album
	if key == "" {
		return "", nil
	}

	for _, q := range relaxationChain(title, artist) {
		// Fresh cache lookup per step: a concurrent resolution for the
		// same key may have landed while we were searching.
		if link, ok := r.cache.Get(key); ok {
			return link, nil
		}

		r.logger.Debug("Searching for track",
			zap.String("title", q.title),
			zap.String("artist", q.artist))

		candidates, err := r.searcher.SearchTrack(ctx, q.title, q.artist)
		if err != nil {
			r.logger.Warn("Track search failed",
				zap.String("title", q.title),
				zap.String("artist", q.artist),
				zap.Error(err))
			continue
		}

		for _, c := range candidates {
			if c.ExternalURL == "" {
				continue
			}
			r.cache.Put(ctx, key, c.ExternalURL, "")
			return c.ExternalURL, nil
		}
	}

	r.cache.Put(ctx, key, "", "")
	return "", ErrNoMatch
}
