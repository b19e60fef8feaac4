package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/artproc"
	"github.com/LGGGreg/roon-discord-publish/internal/cache"
	"github.com/LGGGreg/roon-discord-publish/internal/config"
	"github.com/LGGGreg/roon-discord-publish/internal/discord"
	"github.com/LGGGreg/roon-discord-publish/internal/domain"
	"github.com/LGGGreg/roon-discord-publish/internal/imgur"
	"github.com/LGGGreg/roon-discord-publish/internal/mpris"
	"github.com/LGGGreg/roon-discord-publish/internal/presence"
	"github.com/LGGGreg/roon-discord-publish/internal/resolver"
	"github.com/LGGGreg/roon-discord-publish/internal/roon"
	"github.com/LGGGreg/roon-discord-publish/internal/spotify"
	"github.com/LGGGreg/roon-discord-publish/internal/supervisor"
	"github.com/LGGGreg/roon-discord-publish/internal/tracker"
)

const (
	// Resolved links and hosted images kept around per cache
	linkCacheSize  = 3
	imageCacheSize = 3

	autoShutdownAfter = 30 * time.Minute
)

// AppOptions is the daemon's full dependency graph
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		newLogger,
		config.Load,
		func(cfg *config.AppConfig) domain.Config { return cfg },
		newTransport,
		newImgur,
		newSpotify,
		artproc.New,
		newArtworkResolver,
		newLinkResolver,
		newSupervisor,
		newPublisher,
		newTracker,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	<-app.Wait()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newTransport selects the media source implementation from configuration
func newTransport(logger *zap.Logger, cfg domain.Config) (domain.Transport, error) {
	switch cfg.MediaSource() {
	case config.SourceRoon:
		return roon.New(logger, cfg), nil
	case config.SourceMPRIS:
		return mpris.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown media source %q", cfg.MediaSource())
	}
}

func newImgur(logger *zap.Logger, cfg domain.Config) *imgur.Client {
	return imgur.New(logger, cfg.ImgurClientID())
}

func newSpotify(logger *zap.Logger, cfg domain.Config) *spotify.Client {
	return spotify.New(logger, cfg.SpotifyClientID(), cfg.SpotifyClientSecret())
}

func newArtworkResolver(
	logger *zap.Logger,
	transport domain.Transport,
	host *imgur.Client,
	normalizer *artproc.Normalizer,
) *resolver.ArtworkResolver {
	// Evicted image entries delete their remote upload
	images := cache.New(logger, imageCacheSize, host)
	return resolver.NewArtworkResolver(logger, images, transport, host, normalizer)
}

func newLinkResolver(logger *zap.Logger, searcher *spotify.Client) *resolver.LinkResolver {
	links := cache.New(logger, linkCacheSize, nil)
	return resolver.NewLinkResolver(logger, links, searcher)
}

func newSupervisor(logger *zap.Logger, cfg domain.Config, transport domain.Transport) *supervisor.Supervisor {
	factory := func() domain.PresenceClient {
		return discord.New(logger)
	}
	return supervisor.New(logger, factory, cfg.DiscordClientID(), transport)
}

func newPublisher(
	logger *zap.Logger,
	sup *supervisor.Supervisor,
	artwork *resolver.ArtworkResolver,
	links *resolver.LinkResolver,
) *presence.Publisher {
	return presence.NewPublisher(logger, sup, artwork, links)
}

func newTracker(
	logger *zap.Logger,
	transport domain.Transport,
	publisher *presence.Publisher,
	cfg domain.Config,
) *tracker.Tracker {
	return tracker.New(logger, transport, publisher, cfg.PinnedZoneID())
}

// registerHooks wires the runtime pieces into the application lifecycle
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg domain.Config,
	sup *supervisor.Supervisor,
	trk *tracker.Tracker,
	transport domain.Transport,
	shutdowner fx.Shutdowner,
) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Roon Discord presence daemon started")

			runCtx, c := context.WithCancel(context.Background())
			cancel = c

			go trk.Run(runCtx)
			go sup.Start(runCtx)

			if cfg.AutoShutdown() {
				time.AfterFunc(autoShutdownAfter, func() {
					logger.Info("Auto-shutdown timer fired")
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Shutdown failed", zap.Error(err))
					}
				})
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			if cancel != nil {
				cancel()
			}
			sup.Stop()
			if err := transport.Close(); err != nil {
				logger.Warn("Failed to close media transport", zap.Error(err))
			}
			return nil
		},
	})
}
