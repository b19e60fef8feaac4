package domain

// ZoneState represents the playback state of a zone
type ZoneState string

const (
	// StatePlaying indicates the zone is actively playing
	StatePlaying ZoneState = "playing"
	// StatePaused indicates the zone is paused
	StatePaused ZoneState = "paused"
	// StateLoading indicates the zone is buffering the next track
	StateLoading ZoneState = "loading"
	// StateStopped indicates the zone is stopped
	StateStopped ZoneState = "stopped"
)

// NowPlaying describes the track a zone is currently rendering
type NowPlaying struct {
	// Line1 is the primary display line (track title)
	Line1 string
	// Line2 is the secondary display line (artist)
	Line2 string
	// Length is the total track duration in seconds
	Length int
	// SeekPosition is the elapsed position in seconds
	SeekPosition int
	// ImageKey identifies the album artwork on the media source
	ImageKey string
	// ArtistImageKeys identifies artist portraits, most relevant first
	ArtistImageKeys []string
}

// ZoneSnapshot is the read-only state of one playback zone at an instant.
// The media-control transport replaces it wholesale on every change event;
// nothing in the core mutates one in place.
type ZoneSnapshot struct {
	ID          string
	DisplayName string
	State       ZoneState
	NowPlaying  *NowPlaying
}

// ZoneEventKind discriminates the change notifications a transport emits
type ZoneEventKind int

const (
	// ZonesSubscribed is the initial full zone list after subscribing
	ZonesSubscribed ZoneEventKind = iota
	// ZonesChanged carries the snapshots that changed in this batch
	ZonesChanged
	// ZonesRemoved carries the ids of zones that disappeared
	ZonesRemoved
	// ZonesUpdated signals a generic change (e.g. seek) with no batch payload;
	// consumers re-read the active zone's snapshot from the transport
	ZonesUpdated
)

// ZoneEvent is one change notification from the media-control transport
type ZoneEvent struct {
	Kind    ZoneEventKind
	Removed []string
	Changed []ZoneSnapshot
}

// ImageOptions is the size hint passed to the media source when fetching artwork
type ImageOptions struct {
	Scale  string
	Width  int
	Height int
}

// ActivityButton is a clickable link element on a presence payload
type ActivityButton struct {
	Label string
	URL   string
}

// Activity is the presence payload shown on the display channel
type Activity struct {
	Details        string
	State          string
	StartTimestamp int64
	EndTimestamp   int64
	LargeImageKey  string
	LargeImageText string
	SmallImageKey  string
	SmallImageText string
	Buttons        []ActivityButton
}

// PresenceEventKind discriminates presence-channel lifecycle events
type PresenceEventKind int

const (
	// PresenceReady means authentication succeeded and the channel accepts payloads
	PresenceReady PresenceEventKind = iota
	// PresenceClosed means the transport dropped
	PresenceClosed
)

// PresenceEvent is one lifecycle event from the presence channel
type PresenceEvent struct {
	Kind PresenceEventKind
	// User is the authenticated account name, set on ready
	User string
}

// TrackCandidate is one result from the metadata-search collaborator
type TrackCandidate struct {
	Title       string
	Artist      string
	ExternalURL string
}

// Upload is the result of hosting an image externally
type Upload struct {
	// URL is the public address of the hosted image
	URL string
	// DeleteHash is the handle used to remove the upload later
	DeleteHash string
}
