package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	// SourceRoon selects the networked Roon core as the media source
	SourceRoon = "roon"
	// SourceMPRIS selects local MPRIS players as the media source
	SourceMPRIS = "mpris"
)

// AppSettings holds the daemon-level options
type AppSettings struct {
	// ZoneID pins tracking to one zone and disables automatic selection
	ZoneID string `koanf:"zone_id"`
	// AutoShutdown makes the process exit on its own after 30 minutes
	AutoShutdown bool `koanf:"auto_shutdown"`
	// UseDiscovery finds the Roon core by network discovery instead of core_ip
	UseDiscovery bool `koanf:"use_discovery"`
	// CoreIP is the Roon core host for direct connection mode
	CoreIP string `koanf:"core_ip"`
	// Source selects the media transport: "roon" (default) or "mpris"
	Source string `koanf:"source"`
}

// DiscordSettings identifies the presence application
type DiscordSettings struct {
	ClientID string `koanf:"client_id"`
}

// SpotifySettings identifies the metadata-search application
type SpotifySettings struct {
	Client string `koanf:"client"`
	Secret string `koanf:"secret"`
}

// ImgurSettings identifies the image-hosting application
type ImgurSettings struct {
	ClientID string `koanf:"client_id"`
}

// AppConfig is the full configuration surface, loaded from TOML
type AppConfig struct {
	App     AppSettings     `koanf:"app"`
	Discord DiscordSettings `koanf:"discord"`
	Spotify SpotifySettings `koanf:"spotify"`
	Imgur   ImgurSettings   `koanf:"imgur"`
}

// Load reads configuration files in priority order (last wins):
// ~/.config/roon-discord-publish/config.toml, then ./config.toml.
func Load(logger *zap.Logger) (*AppConfig, error) {
	k := koanf.New(".")

	for _, path := range configPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.App.Source == "" {
		cfg.App.Source = SourceRoon
	}

	logger.Info("Configuration loaded",
		zap.String("source", cfg.App.Source),
		zap.Bool("useDiscovery", cfg.App.UseDiscovery),
		zap.Bool("autoShutdown", cfg.App.AutoShutdown),
		zap.String("pinnedZone", cfg.App.ZoneID))

	return cfg, nil
}

func configPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "roon-discord-publish", "config.toml"))
	}
	paths = append(paths, "config.toml")
	return paths
}

// PinnedZoneID returns the operator-pinned zone id, or "" for automatic selection
func (c *AppConfig) PinnedZoneID() string { return c.App.ZoneID }

// UseDiscovery reports whether the Roon core is located by discovery
func (c *AppConfig) UseDiscovery() bool { return c.App.UseDiscovery }

// CoreHost returns the Roon core host for direct connection mode
func (c *AppConfig) CoreHost() string { return c.App.CoreIP }

// AutoShutdown reports whether the auto-shutdown timer is armed
func (c *AppConfig) AutoShutdown() bool { return c.App.AutoShutdown }

// MediaSource returns the selected media transport
func (c *AppConfig) MediaSource() string { return c.App.Source }

// DiscordClientID returns the presence application id
func (c *AppConfig) DiscordClientID() string { return c.Discord.ClientID }

// SpotifyClientID returns the metadata-search application id
func (c *AppConfig) SpotifyClientID() string { return c.Spotify.Client }

// SpotifyClientSecret returns the metadata-search application secret
func (c *AppConfig) SpotifyClientSecret() string { return c.Spotify.Secret }

// ImgurClientID returns the image-hosting application id
func (c *AppConfig) ImgurClientID() string { return c.Imgur.ClientID }
