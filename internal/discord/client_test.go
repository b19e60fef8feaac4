package discord

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// ipcServer fakes the desktop client's IPC socket
type ipcServer struct {
	t        *testing.T
	listener net.Listener
	conns    chan net.Conn
}

func startIPCServer(t *testing.T) *ipcServer {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	listener, err := net.Listen("unix", filepath.Join(dir, "discord-ipc-0"))
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	s := &ipcServer{t: t, listener: listener, conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
	}()
	return s
}

func (s *ipcServer) accept() net.Conn {
	s.t.Helper()
	select {
	case conn := <-s.conns:
		s.t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		s.t.Fatal("no connection arrived")
		return nil
	}
}

func writeTestFrame(t *testing.T, conn net.Conn, op uint32, payload string) {
	t.Helper()
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func readTestFrame(t *testing.T, conn net.Conn) (uint32, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	header := make([]byte, 8)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	op := binary.LittleEndian.Uint32(header[0:4])
	payload := make([]byte, binary.LittleEndian.Uint32(header[4:8]))
	_, err = readFull(conn, payload)
	require.NoError(t, err)
	return op, payload
}

// loginReady performs the server half of a successful handshake
func loginReady(t *testing.T, s *ipcServer, c *Client) net.Conn {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- c.Login(context.Background(), "app-123") }()

	conn := s.accept()
	op, payload := readTestFrame(t, conn)
	assert.Equal(t, opHandshake, op)

	var handshake struct {
		V        int    `json:"v"`
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(payload, &handshake))
	assert.Equal(t, 1, handshake.V)
	assert.Equal(t, "app-123", handshake.ClientID)

	writeTestFrame(t, conn, opFrame,
		`{"cmd":"DISPATCH","evt":"READY","data":{"user":{"username":"fox"}}}`)

	require.NoError(t, <-done)
	return conn
}

func TestClient_LoginEmitsReady(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())
	defer c.Destroy()

	loginReady(t, s, c)

	select {
	case ev := <-c.Events():
		assert.Equal(t, domain.PresenceReady, ev.Kind)
		assert.Equal(t, "fox", ev.User)
	case <-time.After(time.Second):
		t.Fatal("no ready event")
	}
	assert.True(t, c.Alive())
}

func TestClient_LoginRejectedByCloseFrame(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Login(context.Background(), "app-123") }()

	conn := s.accept()
	readTestFrame(t, conn)
	writeTestFrame(t, conn, opClose, `{"code":4000,"message":"invalid client id"}`)

	err := <-done
	require.Error(t, err)
	assert.False(t, c.Alive())

	// The events channel is closed so a watcher never blocks
	_, open := <-c.Events()
	assert.False(t, open)
}

func TestClient_LoginWithoutSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	t.Setenv("TMP", "")
	t.Setenv("TEMP", "")

	c := New(zap.NewNop())
	err := c.Login(context.Background(), "app-123")
	require.Error(t, err)

	_, open := <-c.Events()
	assert.False(t, open)
}

func TestClient_SetActivityWireFormat(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())
	defer c.Destroy()

	conn := loginReady(t, s, c)
	<-c.Events()

	require.NoError(t, c.SetActivity(context.Background(), domain.Activity{
		Details:        "My Song",
		State:          "My Artist",
		StartTimestamp: 100,
		EndTimestamp:   340,
		LargeImageKey:  "https://host/cover.jpg",
		LargeImageText: "Zone: Living Room",
		SmallImageKey:  "roon-small",
		SmallImageText: "My Artist",
		Buttons: []domain.ActivityButton{
			{Label: "Spotify Link for My Song", URL: "https://open.spotify.com/track/x"},
		},
	}))

	op, payload := readTestFrame(t, conn)
	assert.Equal(t, opFrame, op)

	var frame struct {
		Cmd   string `json:"cmd"`
		Nonce string `json:"nonce"`
		Args  struct {
			PID      int `json:"pid"`
			Activity *struct {
				Details    string `json:"details"`
				State      string `json:"state"`
				Timestamps struct {
					Start int64 `json:"start"`
					End   int64 `json:"end"`
				} `json:"timestamps"`
				Assets struct {
					LargeImage string `json:"large_image"`
					LargeText  string `json:"large_text"`
					SmallImage string `json:"small_image"`
					SmallText  string `json:"small_text"`
				} `json:"assets"`
				Buttons []struct {
					Label string `json:"label"`
					URL   string `json:"url"`
				} `json:"buttons"`
			} `json:"activity"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))

	assert.Equal(t, "SET_ACTIVITY", frame.Cmd)
	assert.NotEmpty(t, frame.Nonce)
	assert.NotZero(t, frame.Args.PID)
	require.NotNil(t, frame.Args.Activity)
	assert.Equal(t, "My Song", frame.Args.Activity.Details)
	assert.Equal(t, "My Artist", frame.Args.Activity.State)
	// Seconds become milliseconds on the wire
	assert.Equal(t, int64(100_000), frame.Args.Activity.Timestamps.Start)
	assert.Equal(t, int64(340_000), frame.Args.Activity.Timestamps.End)
	assert.Equal(t, "https://host/cover.jpg", frame.Args.Activity.Assets.LargeImage)
	assert.Equal(t, "Zone: Living Room", frame.Args.Activity.Assets.LargeText)
	assert.Equal(t, "roon-small", frame.Args.Activity.Assets.SmallImage)
	require.Len(t, frame.Args.Activity.Buttons, 1)
	assert.Equal(t, "Spotify Link for My Song", frame.Args.Activity.Buttons[0].Label)
	assert.Equal(t, "https://open.spotify.com/track/x", frame.Args.Activity.Buttons[0].URL)
}

func TestClient_ClearActivityOmitsActivity(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())
	defer c.Destroy()

	conn := loginReady(t, s, c)
	<-c.Events()

	require.NoError(t, c.ClearActivity(context.Background()))

	op, payload := readTestFrame(t, conn)
	assert.Equal(t, opFrame, op)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &frame))
	var args map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame["args"], &args))
	_, hasActivity := args["activity"]
	assert.False(t, hasActivity)
}

func TestClient_DroppedSocketEmitsClosed(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())
	defer c.Destroy()

	conn := loginReady(t, s, c)
	<-c.Events()

	conn.Close()

	select {
	case ev := <-c.Events():
		assert.Equal(t, domain.PresenceClosed, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no closed event")
	}

	_, open := <-c.Events()
	assert.False(t, open)
	assert.False(t, c.Alive())
}

func TestClient_AnswersPing(t *testing.T) {
	s := startIPCServer(t)
	c := New(zap.NewNop())
	defer c.Destroy()

	conn := loginReady(t, s, c)
	<-c.Events()

	writeTestFrame(t, conn, opPing, `{"nonce":"ping-1"}`)

	op, payload := readTestFrame(t, conn)
	assert.Equal(t, opPong, op)
	assert.JSONEq(t, `{"nonce":"ping-1"}`, string(payload))
}

func TestClient_CommandAfterDestroyFails(t *testing.T) {
	c := New(zap.NewNop())
	c.closed.Store(true)

	assert.Error(t, c.SetActivity(context.Background(), domain.Activity{}))
	assert.Error(t, c.ClearActivity(context.Background()))
}
