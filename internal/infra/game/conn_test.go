package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/biomes-client/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeServer accepts one connection and hands it to the test.
type fakeServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	hellos chan Hello
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns:  make(chan *websocket.Conn, 1),
		hellos: make(chan Hello, 1),
	}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil || env.Type != TypeHello {
			t.Errorf("expected hello, got %+v (%v)", env, err)
			return
		}
		var hello Hello
		_ = json.Unmarshal(env.Payload, &hello)
		fs.hellos <- hello
		fs.conns <- ws
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func send(t *testing.T, ws *websocket.Conn, typ string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	require.NoError(t, ws.WriteJSON(Envelope{Type: typ, Payload: raw}))
}

func waitStatus(t *testing.T, c *Conn, want domain.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, 5*time.Millisecond,
		"status stuck at %s, want %s", c.Status(), want)
}

func TestConn_Lifecycle(t *testing.T) {
	fs := newFakeServer(t)
	d := NewDialer(Config{URL: fs.url(), HeartbeatTimeout: time.Minute}, slogt.New(t))

	c := d.Open(42)
	defer c.Close()

	var ws *websocket.Conn
	select {
	case ws = <-fs.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received hello")
	}
	defer ws.Close()
	require.Equal(t, domain.UserID(42), (<-fs.hellos).UserID)

	waitStatus(t, c, domain.ConnectionWaitingOnHeartbeat)

	send(t, ws, TypeHeartbeat, nil)
	waitStatus(t, c, domain.ConnectionReady)
	require.False(t, c.Bootstrapped())

	send(t, ws, TypeBootstrap, BootstrapPayload{Entities: []uint64{1, 2, 42}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitBootstrapped(ctx))
	require.True(t, c.Bootstrapped())
	require.Equal(t, 3, c.EntityCount())

	send(t, ws, TypeEntity, EntityPayload{ID: 2, Deleted: true})
	send(t, ws, TypeEntity, EntityPayload{ID: 7})
	require.Eventually(t, func() bool { return c.HasEntity(7) && !c.HasEntity(2) }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Equal(t, domain.ConnectionDisconnected, c.Status())
	require.NoError(t, c.Close())
}

func TestConn_ServerDropIsDisconnected(t *testing.T) {
	fs := newFakeServer(t)
	c := NewDialer(Config{URL: fs.url(), HeartbeatTimeout: time.Minute}, slogt.New(t)).Open(1)
	defer c.Close()

	ws := <-fs.conns
	waitStatus(t, c, domain.ConnectionWaitingOnHeartbeat)
	_ = ws.Close()

	waitStatus(t, c, domain.ConnectionDisconnected)
	err := c.WaitBootstrapped(context.Background())
	require.ErrorIs(t, err, domain.ErrBroken)
}

func TestConn_HeartbeatTimeoutIsUnhealthy(t *testing.T) {
	fs := newFakeServer(t)
	c := NewDialer(Config{URL: fs.url(), HeartbeatTimeout: 50 * time.Millisecond}, slogt.New(t)).Open(1)
	defer c.Close()

	ws := <-fs.conns
	defer ws.Close()

	send(t, ws, TypeHeartbeat, nil)
	waitStatus(t, c, domain.ConnectionUnhealthy)

	// A late heartbeat restores the connection.
	send(t, ws, TypeHeartbeat, nil)
	require.Eventually(t, func() bool {
		s := c.Status()
		return s == domain.ConnectionReady || s == domain.ConnectionUnhealthy
	}, time.Second, 5*time.Millisecond)
}

func TestConn_DialFailureIsDisconnected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	c := NewDialer(Config{URL: url}, slogt.New(t)).Open(1)
	defer c.Close()

	waitStatus(t, c, domain.ConnectionDisconnected)
}

func TestConn_CloseWhileConnecting(t *testing.T) {
	// A listener that accepts TCP but never answers the upgrade keeps the dial pending.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewDialer(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http")}, slogt.New(t)).Open(1)
	require.Equal(t, domain.ConnectionConnecting, c.Status())

	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending dial")
	}
	require.Equal(t, domain.ConnectionDisconnected, c.Status())
}
