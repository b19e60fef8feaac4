package domain

import "context"

//go:generate mockgen -destination=mocks/interfaces_mock.go -package=mocks github.com/LGGGreg/roon-discord-publish/internal/domain Transport,ImageSource,PresenceClient,PresenceGateway,ImageHost,TrackSearcher,Deleter

// Transport defines the interface for the media-control client.
// Implementations own zone discovery, subscription and snapshot bookkeeping.
type Transport interface {
	// Connect establishes the media-source connection (discovery or direct
	// per configuration) and starts the zone subscription
	Connect(ctx context.Context) error

	// Close tears down the connection
	Close() error

	// Events returns the ordered stream of zone change notifications.
	// One event is fully handled by the consumer before the next is read.
	Events() <-chan ZoneEvent

	// Zone returns the current snapshot of the given zone, if known
	Zone(id string) (ZoneSnapshot, bool)

	// ZoneIDs returns all known zone ids in stable enumeration order
	ZoneIDs() []string

	// FetchImage downloads raw image bytes for an artwork key
	FetchImage(ctx context.Context, key string, opts ImageOptions) ([]byte, error)
}

// ImageSource is the artwork-fetching slice of Transport, split out so the
// artwork resolver does not depend on zone bookkeeping
type ImageSource interface {
	FetchImage(ctx context.Context, key string, opts ImageOptions) ([]byte, error)
}

// PresenceClient defines the interface for one presence-channel connection.
// A client is single-use: once its transport closes it must be destroyed
// and a fresh one constructed.
type PresenceClient interface {
	// Login authenticates the connection for the given application id
	Login(ctx context.Context, clientID string) error

	// Events returns lifecycle events (ready, closed) for this connection
	Events() <-chan PresenceEvent

	// SetActivity publishes a presence payload
	SetActivity(ctx context.Context, activity Activity) error

	// ClearActivity removes the displayed presence
	ClearActivity(ctx context.Context) error

	// Alive reports whether the underlying transport still looks usable
	Alive() bool

	// Destroy tears the connection down
	Destroy() error
}

// PresenceGateway is the always-valid facade over whichever presence
// connection currently exists. The publisher talks to this, never to a
// PresenceClient directly, so reconnections are invisible to it.
type PresenceGateway interface {
	// Connected reports whether a ready connection is available
	Connected() bool

	SetActivity(ctx context.Context, activity Activity) error
	ClearActivity(ctx context.Context) error
}

// ImageHost defines the interface for the external image-hosting service
type ImageHost interface {
	// Upload pushes the file at path to the host
	Upload(ctx context.Context, path string) (Upload, error)

	// Delete removes a previous upload by its deletion handle
	Delete(ctx context.Context, deleteHash string) error
}

// TrackSearcher defines the interface for the metadata-search service
type TrackSearcher interface {
	// SearchTrack looks up candidates matching the given title and artist.
	// An empty artist widens the search to title only.
	SearchTrack(ctx context.Context, title, artist string) ([]TrackCandidate, error)
}

// Deleter is the remote-cleanup hook invoked when a cache entry carrying a
// deletion handle is evicted
type Deleter interface {
	Delete(ctx context.Context, deleteHash string) error
}

// Config defines the interface for application configuration
type Config interface {
	// PinnedZoneID returns the operator-pinned zone id, or "" for automatic
	// selection
	PinnedZoneID() string

	// UseDiscovery reports whether the media source is found via discovery
	// rather than a direct address
	UseDiscovery() bool

	// CoreHost returns the media-source host for direct connection mode
	CoreHost() string

	// AutoShutdown reports whether the process exits on its own after a
	// fixed wall-clock duration
	AutoShutdown() bool

	// MediaSource selects the media transport ("roon" or "mpris")
	MediaSource() string

	// DiscordClientID returns the presence-channel application id
	DiscordClientID() string

	// SpotifyClientID and SpotifyClientSecret identify the metadata-search
	// application
	SpotifyClientID() string
	SpotifyClientSecret() string

	// ImgurClientID identifies the image-hosting application
	ImgurClientID() string
}
