package discord

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// IPC opcodes, per the local rich-presence socket protocol
const (
	opHandshake uint32 = iota
	opFrame
	opClose
	opPing
	opPong
)

const (
	dialTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
	maxFrameSize = 64 * 1024
)

// Client is one connection to the local Discord client's IPC socket. It is
// single-use: after the transport closes it must be destroyed and a new
// client dialed.
type Client struct {
	logger *zap.Logger

	mu     sync.Mutex // guards writes and conn replacement
	conn   net.Conn
	events chan domain.PresenceEvent
	closed atomic.Bool
	nonce  atomic.Uint64
}

// New creates an unconnected client; Login dials and authenticates
func New(logger *zap.Logger) *Client {
	return &Client{
		logger: logger,
		events: make(chan domain.PresenceEvent, 4),
	}
}

// Events returns this connection's lifecycle events
func (c *Client) Events() <-chan domain.PresenceEvent {
	return c.events
}

// Alive reports whether the transport still looks usable
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed.Load()
}

// Login dials the IPC socket, performs the handshake for clientID and waits
// for the ready dispatch. On success a reader goroutine takes over the
// socket and surfaces the close event when the transport drops. On failure
// the events channel is closed so watchers do not block on a dead client.
func (c *Client) Login(ctx context.Context, clientID string) error {
	conn, err := dial(ctx)
	if err != nil {
		return c.loginFailed(nil, fmt.Errorf("failed to reach discord socket: %w", err))
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	handshake := map[string]any{"v": 1, "client_id": clientID}
	if err := c.writeFrame(opHandshake, handshake); err != nil {
		return c.loginFailed(conn, fmt.Errorf("handshake write failed: %w", err))
	}

	op, payload, err := readFrame(conn)
	if err != nil {
		return c.loginFailed(conn, fmt.Errorf("handshake read failed: %w", err))
	}
	if op == opClose {
		return c.loginFailed(conn, fmt.Errorf("discord rejected handshake: %s", string(payload)))
	}

	var ready struct {
		Evt  string `json:"evt"`
		Data struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &ready); err != nil {
		return c.loginFailed(conn, fmt.Errorf("malformed handshake response: %w", err))
	}
	if ready.Evt != "READY" {
		return c.loginFailed(conn, fmt.Errorf("unexpected handshake event %q", ready.Evt))
	}

	go c.readLoop(conn)

	c.events <- domain.PresenceEvent{
		Kind: domain.PresenceReady,
		User: ready.Data.User.Username,
	}
	return nil
}

func (c *Client) loginFailed(conn net.Conn, err error) error {
	if conn != nil {
		conn.Close()
	}
	c.closed.Store(true)
	close(c.events)
	return err
}

// activityArgs is the wire shape of a SET_ACTIVITY command
type activityArgs struct {
	PID      int           `json:"pid"`
	Activity *wireActivity `json:"activity,omitempty"`
}

type wireActivity struct {
	Details    string          `json:"details,omitempty"`
	State      string          `json:"state,omitempty"`
	Timestamps *wireTimestamps `json:"timestamps,omitempty"`
	Assets     *wireAssets     `json:"assets,omitempty"`
	Buttons    []wireButton    `json:"buttons,omitempty"`
}

type wireTimestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type wireAssets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type wireButton struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// SetActivity publishes a presence payload
func (c *Client) SetActivity(ctx context.Context, activity domain.Activity) error {
	wire := &wireActivity{
		Details: activity.Details,
		State:   activity.State,
	}
	if activity.StartTimestamp != 0 || activity.EndTimestamp != 0 {
		// The socket wants millisecond timestamps
		wire.Timestamps = &wireTimestamps{
			Start: activity.StartTimestamp * 1000,
			End:   activity.EndTimestamp * 1000,
		}
	}
	if activity.LargeImageKey != "" || activity.SmallImageKey != "" {
		wire.Assets = &wireAssets{
			LargeImage: activity.LargeImageKey,
			LargeText:  activity.LargeImageText,
			SmallImage: activity.SmallImageKey,
			SmallText:  activity.SmallImageText,
		}
	}
	for _, b := range activity.Buttons {
		wire.Buttons = append(wire.Buttons, wireButton{Label: b.Label, URL: b.URL})
	}

	return c.command("SET_ACTIVITY", activityArgs{PID: os.Getpid(), Activity: wire})
}

// ClearActivity removes the displayed presence
func (c *Client) ClearActivity(ctx context.Context) error {
	return c.command("SET_ACTIVITY", activityArgs{PID: os.Getpid()})
}

// Destroy tears the connection down. The reader goroutine notices the
// closed socket and emits the close event.
func (c *Client) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) command(cmd string, args any) error {
	if c.closed.Load() {
		return fmt.Errorf("connection destroyed")
	}
	payload := map[string]any{
		"cmd":   cmd,
		"args":  args,
		"nonce": fmt.Sprintf("%d", c.nonce.Add(1)),
	}
	return c.writeFrame(opFrame, payload)
}

func (c *Client) writeFrame(op uint32, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	buf := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:], body)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("frame write failed: %w", err)
	}
	return nil
}

// readLoop drains the socket: command responses are discarded, pings are
// answered, a read error or close opcode ends the connection
func (c *Client) readLoop(conn net.Conn) {
	for {
		op, payload, err := readFrame(conn)
		if err != nil {
			break
		}
		switch op {
		case opPing:
			if err := c.writeFrame(opPong, json.RawMessage(payload)); err != nil {
				c.logger.Debug("Failed to answer ping", zap.Error(err))
			}
		case opClose:
			c.logger.Debug("Close frame received", zap.String("payload", string(payload)))
		}
		if op == opClose {
			break
		}
	}

	c.closed.Store(true)
	c.events <- domain.PresenceEvent{Kind: domain.PresenceClosed}
	close(c.events)
}

func readFrame(conn net.Conn) (uint32, []byte, error) {
	header := make([]byte, 8)
	if _, err := readFull(conn, header); err != nil {
		return 0, nil, err
	}
	op := binary.LittleEndian.Uint32(header[0:4])
	size := binary.LittleEndian.Uint32(header[4:8])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := readFull(conn, payload); err != nil {
		return 0, nil, err
	}
	return op, payload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if err != nil {
			return read, err
		}
		read += n
	}
	return read, nil
}

// dial tries the conventional IPC socket paths in order
func dial(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for _, dir := range socketDirs() {
		for i := 0; i < 10; i++ {
			path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
			d := net.Dialer{Timeout: dialTimeout}
			conn, err := d.DialContext(ctx, "unix", path)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate socket directory")
	}
	return nil, lastErr
}

func socketDirs() []string {
	dirs := []string{}
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, "/tmp")
}
