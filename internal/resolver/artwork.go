package resolver

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/cache"
	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// Normalizer prepares raw artwork bytes for upload
type Normalizer interface {
	Normalize(imageData []byte) ([]byte, error)
}

// ArtworkResolver resolves an artwork key to a hosted image URL: fetch the
// bytes from the media source, upload them to the image host, and memoize
// the resulting URL. Cache entries carry the upload's deletion handle so
// eviction cleans up the remote copy.
type ArtworkResolver struct {
	logger     *zap.Logger
	cache      *cache.ResultCache
	source     domain.ImageSource
	host       domain.ImageHost
	normalizer Normalizer
	opts       domain.ImageOptions
}

// NewArtworkResolver creates an artwork resolver. The normalizer may be nil,
// in which case fetched bytes are uploaded as-is.
func NewArtworkResolver(
	logger *zap.Logger,
	c *cache.ResultCache,
	source domain.ImageSource,
	host domain.ImageHost,
	normalizer Normalizer,
) *ArtworkResolver {
	return &ArtworkResolver{
		logger:     logger,
		cache:      c,
		source:     source,
		host:       host,
		normalizer: normalizer,
		opts:       domain.ImageOptions{Scale: "fit", Width: 200, Height: 200},
	}
}

// Resolve returns the hosted URL for the given artwork key. Fetch and upload
// failures resolve to "" and are cached so the same broken key is not
// retried on every track; only a local persistence failure is an error.
func (r *ArtworkResolver) Resolve(ctx context.Context, imageKey string) (string, error) {
	if imageKey == "" {
		return "", nil
	}
	if url, ok := r.cache.Get(imageKey); ok {
		return url, nil
	}

	r.logger.Debug("Downloading image", zap.String("imageKey", imageKey))

	data, err := r.source.FetchImage(ctx, imageKey, r.opts)
	if err != nil || len(data) == 0 {
		r.logger.Warn("Failed to fetch artwork",
			zap.String("imageKey", imageKey),
			zap.Error(err))
		r.cache.Put(ctx, imageKey, "", "")
		return "", nil
	}

	if r.normalizer != nil {
		if normalized, nerr := r.normalizer.Normalize(data); nerr == nil {
			data = normalized
		} else {
			r.logger.Warn("Artwork normalization failed, uploading raw bytes",
				zap.String("imageKey", imageKey),
				zap.Error(nerr))
		}
	}

	path, err := r.persist(data)
	if err != nil {
		return "", err
	}

	up, err := r.host.Upload(ctx, path)
	if rmErr := os.Remove(path); rmErr != nil {
		r.logger.Debug("Failed to remove temp artwork file",
			zap.String("path", path),
			zap.Error(rmErr))
	}
	if err != nil {
		r.logger.Warn("Artwork upload failed",
			zap.String("imageKey", imageKey),
			zap.Error(err))
		r.cache.Put(ctx, imageKey, "", "")
		return "", nil
	}

	r.logger.Info("Artwork uploaded",
		zap.String("imageKey", imageKey),
		zap.String("url", up.URL))

	r.cache.Put(ctx, imageKey, up.URL, up.DeleteHash)
	return up.URL, nil
}

func (r *ArtworkResolver) persist(data []byte) (string, error) {
	f, err := os.CreateTemp("", "artwork-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artwork file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp artwork file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp artwork file: %w", err)
	}
	return f.Name(), nil
}
