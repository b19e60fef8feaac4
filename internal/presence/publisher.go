package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

const (
	// defaultLargeImage and defaultSmallImage are asset names registered
	// with the presence application, used whenever no hosted URL resolved
	defaultLargeImage = "roon-main"
	defaultSmallImage = "roon-small"

	// placeholder stands in for empty display lines
	placeholder = "--"

	maxTextLen        = 128
	buttonLabelPrefix = "Spotify Link for "
	maxButtonLabelLen = 32

	// DefaultMinInterval is the minimum spacing between emitted updates
	DefaultMinInterval = 10 * time.Second
)

type artworkResolver interface {
	Resolve(ctx context.Context, imageKey string) (string, error)
}

type linkResolver interface {
	Resolve(ctx context.Context, title, artist, album string) (string, error)
}

// Publisher renders a zone snapshot into a presence payload and emits it
// through the gateway. Playing-state updates are rate limited; paused and
// stopped zones clear the presence; loading shows a fixed placeholder.
type Publisher struct {
	logger      *zap.Logger
	gateway     domain.PresenceGateway
	artwork     artworkResolver
	links       linkResolver
	minInterval time.Duration
	now         func() time.Time
	lastSent    time.Time
}

// NewPublisher creates a publisher with the default rate-limit interval
func NewPublisher(
	logger *zap.Logger,
	gateway domain.PresenceGateway,
	artwork artworkResolver,
	links linkResolver,
) *Publisher {
	return &Publisher{
		logger:      logger,
		gateway:     gateway,
		artwork:     artwork,
		links:       links,
		minInterval: DefaultMinInterval,
		now:         time.Now,
	}
}

// Publish emits the presence for one zone snapshot
func (p *Publisher) Publish(ctx context.Context, zone domain.ZoneSnapshot) {
	if !p.gateway.Connected() {
		return
	}

	switch zone.State {
	case domain.StateStopped, domain.StatePaused:
		p.Clear(ctx)
	case domain.StateLoading:
		p.publishLoading(ctx, zone)
	case domain.StatePlaying:
		p.publishPlaying(ctx, zone)
	default:
		// Snapshot without a usable state, nothing to show
	}
}

// Clear removes the displayed presence
func (p *Publisher) Clear(ctx context.Context) {
	if !p.gateway.Connected() {
		return
	}
	if err := p.gateway.ClearActivity(ctx); err != nil {
		p.logger.Warn("Failed to clear presence", zap.Error(err))
	}
}

// publishLoading shows a fixed "Loading..." card carrying only the zone
// name. It bypasses the rate limit and the resolvers.
func (p *Publisher) publishLoading(ctx context.Context, zone domain.ZoneSnapshot) {
	activity := domain.Activity{
		Details:        "Loading...",
		LargeImageKey:  defaultLargeImage,
		LargeImageText: "Zone: " + zone.DisplayName,
		SmallImageKey:  defaultSmallImage,
		SmallImageText: "Roon",
	}
	if err := p.gateway.SetActivity(ctx, activity); err != nil {
		p.logger.Warn("Failed to set loading presence", zap.Error(err))
	}
}

func (p *Publisher) publishPlaying(ctx context.Context, zone domain.ZoneSnapshot) {
	np := zone.NowPlaying
	if np == nil {
		return
	}

	now := p.now()
	start := now.Unix() - int64(np.SeekPosition)
	end := start + int64(np.Length)

	// Updates inside the window are dropped, not queued. The next change
	// event will carry fresher data anyway.
	if now.Sub(p.lastSent) < p.minInterval {
		p.logger.Debug("Presence update dropped by rate limit",
			zap.String("zone", zone.DisplayName))
		return
	}
	p.lastSent = now

	artist := truncate(np.Line2, maxTextLen)
	if artist == "" {
		artist = placeholder
	}
	details := truncate(np.Line1, maxTextLen)
	buttonLabel := truncate(np.Line1, maxButtonLabelLen-len(buttonLabelPrefix))
	if details == "" {
		details = placeholder
		buttonLabel = placeholder
	}

	var largeURL, smallURL, link string
	smallKey := ""
	if len(np.ArtistImageKeys) > 0 {
		smallKey = np.ArtistImageKeys[0]
	}

	// The three resolutions run concurrently; none is cancelled when a
	// sibling fails, the results of a failed wave are simply discarded.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		largeURL, err = p.artwork.Resolve(ctx, np.ImageKey)
		return err
	})
	g.Go(func() error {
		var err error
		smallURL, err = p.artwork.Resolve(ctx, smallKey)
		return err
	})
	g.Go(func() error {
		var err error
		link, err = p.links.Resolve(ctx, details, artist, "")
		return err
	})
	resolveErr := g.Wait()

	activity := domain.Activity{
		Details:        details,
		State:          artist,
		StartTimestamp: start,
		EndTimestamp:   end,
		LargeImageText: "Zone: " + zone.DisplayName,
		SmallImageText: artist,
	}

	if resolveErr != nil {
		// Presence always shows something: fall back to the bundled
		// asset rather than a blank card.
		p.logger.Warn("Resolution failed, using default presence art",
			zap.Error(resolveErr))
		activity.LargeImageKey = defaultLargeImage
		activity.SmallImageKey = defaultLargeImage
	} else {
		activity.LargeImageKey = orDefault(largeURL, defaultLargeImage)
		activity.SmallImageKey = orDefault(smallURL, defaultSmallImage)
		if link != "" {
			activity.Buttons = []domain.ActivityButton{{
				Label: buttonLabelPrefix + buttonLabel,
				URL:   link,
			}}
		}
	}

	if err := p.gateway.SetActivity(ctx, activity); err != nil {
		p.logger.Warn("Failed to set presence", zap.Error(err))
	}
}

// truncate returns at most n runes of s
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
