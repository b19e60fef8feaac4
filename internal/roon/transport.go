package roon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

const (
	corePort       = 9100
	requestTimeout = 15 * time.Second

	serviceRegistry  = "com.roonlabs.registry:1"
	serviceTransport = "com.roonlabs.transport:2"
	serviceImage     = "com.roonlabs.image:1"
)

// Transport talks to a Roon core over its websocket API: it registers as an
// extension, subscribes to zone changes and serves artwork fetches. It
// implements domain.Transport.
type Transport struct {
	logger *zap.Logger
	cfg    domain.Config
	events chan domain.ZoneEvent

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	mu      sync.RWMutex
	conn    *websocket.Conn
	zones   map[string]domain.ZoneSnapshot
	order   []string // zone enumeration order, as first announced by the core
	pending map[int]chan *message
	nextID  int
	subID   int
	closed  bool

	lastDropWarning time.Time
}

// New creates an unconnected Roon transport
func New(logger *zap.Logger, cfg domain.Config) *Transport {
	return &Transport{
		logger:  logger,
		cfg:     cfg,
		events:  make(chan domain.ZoneEvent, 16),
		zones:   make(map[string]domain.ZoneSnapshot),
		pending: make(map[int]chan *message),
		subID:   -1,
	}
}

// Events returns the ordered stream of zone change notifications
func (t *Transport) Events() <-chan domain.ZoneEvent {
	return t.events
}

// Connect locates the core (discovery or direct address), dials its
// websocket, registers the extension and subscribes to zone changes
func (t *Transport) Connect(ctx context.Context) error {
	host := t.cfg.CoreHost()
	if t.cfg.UseDiscovery() {
		discovered, err := discover(ctx, t.logger)
		if err != nil {
			return fmt.Errorf("core discovery failed: %w", err)
		}
		host = discovered
	}
	if host == "" {
		return fmt.Errorf("no core host configured")
	}

	url := fmt.Sprintf("ws://%s:%d/api", host, corePort)
	t.logger.Info("Connecting to Roon core", zap.String("url", url))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)

	if err := t.register(ctx); err != nil {
		conn.Close()
		return err
	}
	if err := t.subscribeZones(ctx); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Close tears down the websocket connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// Zone returns the current snapshot of the given zone, if known
func (t *Transport) Zone(id string) (domain.ZoneSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	z, ok := t.zones[id]
	return z, ok
}

// ZoneIDs returns all known zone ids in announcement order
func (t *Transport) ZoneIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, len(t.order))
	copy(ids, t.order)
	return ids
}

// FetchImage downloads raw image bytes for an artwork key
func (t *Transport) FetchImage(ctx context.Context, key string, opts domain.ImageOptions) ([]byte, error) {
	resp, err := t.request(ctx, serviceImage+"/get_image", map[string]any{
		"image_key": key,
		"scale":     opts.Scale,
		"width":     opts.Width,
		"height":    opts.Height,
		"format":    "image/jpeg",
	})
	if err != nil {
		return nil, err
	}
	if resp.Name != "Success" {
		return nil, fmt.Errorf("image fetch answered %s", resp.Name)
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("image fetch returned no bytes")
	}
	return resp.Body, nil
}

// register announces the extension to the core and waits for acceptance
func (t *Transport) register(ctx context.Context) error {
	resp, err := t.request(ctx, serviceRegistry+"/register", map[string]any{
		"extension_id":      "moe.tdr.roon-discord-rp",
		"display_name":      "Discord Rich Presence",
		"display_version":   "1.1",
		"publisher":         "Echo Fox",
		"email":             "lgg.greg@gmail.com",
		"website":           "https://boxfox.rocks",
		"required_services": []string{serviceTransport, serviceImage},
		"optional_services": []string{},
		"provided_services": []string{},
	})
	if err != nil {
		return fmt.Errorf("extension registration failed: %w", err)
	}
	if resp.Name != "Registered" {
		return fmt.Errorf("core answered registration with %s", resp.Name)
	}

	var info struct {
		CoreID      string `json:"core_id"`
		DisplayName string `json:"display_name"`
	}
	if err := resp.decodeJSON(&info); err == nil {
		t.logger.Info("Registered with Roon core",
			zap.String("coreID", info.CoreID),
			zap.String("core", info.DisplayName))
	}
	return nil
}

// subscribeZones starts the zone subscription; continuations for its
// request id are routed to the zone table for the life of the connection
func (t *Transport) subscribeZones(ctx context.Context) error {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subID = id
	conn := t.conn
	t.mu.Unlock()

	data, err := encodeMessage(verbRequest, serviceTransport+"/subscribe_zones", id,
		map[string]any{"subscription_key": 0})
	if err != nil {
		return err
	}
	return t.write(conn, data)
}

func (t *Transport) request(ctx context.Context, name string, body any) (*message, error) {
	t.mu.Lock()
	if t.conn == nil || t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	id := t.nextID
	t.nextID++
	ch := make(chan *message, 1)
	t.pending[id] = ch
	conn := t.conn
	t.mu.Unlock()

	cleanup := func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}

	data, err := encodeMessage(verbRequest, name, id, body)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := t.write(conn, data); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("request %s timed out", name)
	case msg := <-ch:
		return msg, nil
	}
}

func (t *Transport) write(conn *websocket.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// readLoop decodes incoming messages and routes them: subscription
// continuations feed the zone table, everything else answers a pending
// request
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if !closed {
				t.logger.Error("Roon connection lost", zap.Error(err))
			}
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			t.logger.Warn("Discarding undecodable message", zap.Error(err))
			continue
		}

		t.mu.Lock()
		isSub := msg.RequestID == t.subID
		ch, hasPending := t.pending[msg.RequestID]
		if hasPending && msg.Verb != verbContinue {
			delete(t.pending, msg.RequestID)
		}
		t.mu.Unlock()

		switch {
		case isSub:
			t.handleZoneMessage(msg)
		case hasPending:
			ch <- msg
		default:
			t.logger.Debug("Unsolicited message",
				zap.String("name", msg.Name),
				zap.Int("requestID", msg.RequestID))
		}
	}
}

// emit forwards a zone event without ever blocking the read loop. A full
// channel means the consumer is far behind; newest event wins by dropping.
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
