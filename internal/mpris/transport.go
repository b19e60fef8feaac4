// Package mpris exposes local MPRIS media players as playback zones, as an
// alternative to a networked Roon core. Each player bus name is one zone.
package mpris

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

const (
	busPrefix  = "org.mpris.MediaPlayer2."
	objectPath = "/org/mpris/MediaPlayer2"

	propMetadata = "org.mpris.MediaPlayer2.Player.Metadata"
	propStatus   = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
	propPosition = "org.mpris.MediaPlayer2.Player.Position"

	maxArtSize = 10 * 1024 * 1024 // 10 MB
)

// Transport implements domain.Transport over the session bus
type Transport struct {
	logger *zap.Logger
	events chan domain.ZoneEvent
	http   *http.Client

	mu     sync.RWMutex
	conn   DBusClient
	zones  map[string]domain.ZoneSnapshot
	order  []string
	owners map[string]string // unique bus names (:1.45) -> well-known player names
	cancel context.CancelFunc
	closed bool

	lastDropWarning time.Time
}

// New creates an unconnected MPRIS transport
func New(logger *zap.Logger) *Transport {
	return &Transport{
		logger: logger,
		events: make(chan domain.ZoneEvent, 16),
		zones:  make(map[string]domain.ZoneSnapshot),
		owners: make(map[string]string),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Events returns the ordered stream of zone change notifications
func (t *Transport) Events() <-chan domain.ZoneEvent {
	return t.events
}

// Connect attaches to the session bus, scans for existing players and
// starts following property changes
func (t *Transport) Connect(ctx context.Context) error {
	conn, err := newSessionBusClient()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.detectExistingPlayers(); err != nil {
		t.logger.Warn("Failed to detect existing players", zap.Error(err))
	}
	t.emit(domain.ZoneEvent{Kind: domain.ZonesSubscribed})

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		cancel()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		// Non-fatal, continue without dynamic player tracking
		t.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)
	go t.signalLoop(loopCtx, signals)

	t.logger.Info("MPRIS transport connected")
	return nil
}

// Close stops the signal loop and drops the bus connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// Zone returns the current snapshot of the given player, if known
func (t *Transport) Zone(id string) (domain.ZoneSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	z, ok := t.zones[id]
	return z, ok
}

// ZoneIDs returns all known player names in detection order
func (t *Transport) ZoneIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, len(t.order))
	copy(ids, t.order)
	return ids
}

// FetchImage resolves an MPRIS artUrl to raw bytes. Local file and HTTP
// URLs are supported; the size hint is ignored since players serve the art
// at a fixed size anyway.
func (t *Transport) FetchImage(ctx context.Context, key string, _ domain.ImageOptions) ([]byte, error) {
	switch {
	case strings.HasPrefix(key, "file://"):
		data, err := os.ReadFile(strings.TrimPrefix(key, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to read art file: %w", err)
		}
		return data, nil

	case strings.HasPrefix(key, "http://"), strings.HasPrefix(key, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create art request: %w", err)
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("network error: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
			return nil, fmt.Errorf("art url is not an image: %s", resp.Header.Get("Content-Type"))
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read art body: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported art url %q", key)
	}
}

// detectExistingPlayers scans the bus for MPRIS names and loads their state
func (t *Transport) detectExistingPlayers() error {
	names, err := t.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, busPrefix) {
			continue
		}
		owner, err := t.conn.GetNameOwner(name)
		if err != nil {
			t.logger.Warn("Failed to resolve player owner",
				zap.String("player", name), zap.Error(err))
			continue
		}
		t.mu.Lock()
		t.owners[owner] = name
		t.mu.Unlock()

		if err := t.refreshPlayer(name); err != nil {
			t.logger.Warn("Failed to read player state",
				zap.String("player", name), zap.Error(err))
		}
	}
	return nil
}

func (t *Transport) signalLoop(ctx context.Context, signals <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("MPRIS signal loop stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *Transport) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		t.handleNameOwnerChanged(sig)

	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		t.mu.RLock()
		player := t.owners[sig.Sender]
		t.mu.RUnlock()
		if player == "" {
			return
		}
		if err := t.refreshPlayer(player); err != nil {
			t.logger.Warn("Failed to refresh player",
				zap.String("player", player), zap.Error(err))
			return
		}
		if z, ok := t.Zone(player); ok {
			t.emit(domain.ZoneEvent{Kind: domain.ZonesChanged, Changed: []domain.ZoneSnapshot{z}})
		}
	}
}

func (t *Transport) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if !strings.HasPrefix(name, busPrefix) {
		return
	}

	if newOwner == "" {
		t.mu.Lock()
		for owner, player := range t.owners {
			if player == name {
				delete(t.owners, owner)
			}
		}
		t.removeLocked(name)
		t.mu.Unlock()
		t.logger.Info("Player disappeared", zap.String("player", name))
		t.emit(domain.ZoneEvent{Kind: domain.ZonesRemoved, Removed: []string{name}})
		return
	}

	t.mu.Lock()
	t.owners[newOwner] = name
	t.mu.Unlock()
	t.logger.Info("Player appeared", zap.String("player", name))
	if err := t.refreshPlayer(name); err != nil {
		t.logger.Warn("Failed to read new player state",
			zap.String("player", name), zap.Error(err))
		return
	}
	if z, ok := t.Zone(name); ok {
		t.emit(domain.ZoneEvent{Kind: domain.ZonesChanged, Changed: []domain.ZoneSnapshot{z}})
	}
}

// refreshPlayer rebuilds one player's zone snapshot from its bus properties
func (t *Transport) refreshPlayer(player string) error {
	metaVariant, err := t.conn.GetProperty(player, objectPath, propMetadata)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}
	meta, ok := metaVariant.Value().(map[string]dbus.Variant)
	if !ok {
		// Player answered with something unusable; skip it rather than fail
		t.logger.Debug("Player metadata has unexpected type", zap.String("player", player))
		return nil
	}

	statusVariant, err := t.conn.GetProperty(player, objectPath, propStatus)
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	status, _ := statusVariant.Value().(string)

	snap := domain.ZoneSnapshot{
		ID:          player,
		DisplayName: strings.TrimPrefix(player, busPrefix),
		State:       mapStatus(status),
	}

	if snap.State == domain.StatePlaying || snap.State == domain.StatePaused {
		np := &domain.NowPlaying{
			Line1:    stringProp(meta, "xesam:title"),
			Line2:    artistProp(meta),
			ImageKey: stringProp(meta, "mpris:artUrl"),
		}
		if length, ok := int64Prop(meta, "mpris:length"); ok {
			np.Length = int(length / 1_000_000) // microseconds to seconds
		}
		if posVariant, err := t.conn.GetProperty(player, objectPath, propPosition); err == nil {
			if pos, ok := posVariant.Value().(int64); ok {
				np.SeekPosition = int(pos / 1_000_000)
			}
		}
		snap.NowPlaying = np
	}

	t.mu.Lock()
	t.upsertLocked(snap)
	t.mu.Unlock()
	return nil
}

func (t *Transport) upsertLocked(snap domain.ZoneSnapshot) {
	if _, known := t.zones[snap.ID]; !known {
		t.order = append(t.order, snap.ID)
	}
	t.zones[snap.ID] = snap
}

func (t *Transport) removeLocked(id string) {
	if _, known := t.zones[id]; !known {
		return
	}
	delete(t.zones, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Transport) emit(ev domain.ZoneEvent) {
	select {
	case t.events <- ev:
	default:
		if time.Since(t.lastDropWarning) > 10*time.Second {
			t.lastDropWarning = time.Now()
			t.logger.Warn("Zone event channel full, dropping event")
		}
	}
}

func mapStatus(status string) domain.ZoneState {
	switch status {
	case "Playing":
		return domain.StatePlaying
	case "Paused":
		return domain.StatePaused
	default:
		return domain.StateStopped
	}
}

func stringProp(meta map[string]dbus.Variant, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func artistProp(meta map[string]dbus.Variant) string {
	v, ok := meta["xesam:artist"]
	if !ok {
		return ""
	}
	switch artists := v.Value().(type) {
	case []string:
		return strings.Join(artists, " / ")
	case string:
		return artists
	}
	return ""
}

func int64Prop(meta map[string]dbus.Variant, key string) (int64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.Value().(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
