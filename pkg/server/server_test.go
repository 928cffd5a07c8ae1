package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/document"
	"github.com/jammwork/jammwork-sub000/pkg/protocol"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  *session.MemoryStore
	reg    *prometheus.Registry
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(WithRegistry(reg))
	store := session.NewMemoryStore()
	registry := session.NewRegistry(store, session.DefaultRegistryConfig(), discardLogger(),
		session.WithMetrics(metrics))

	config := DefaultConfig()
	config.CheckOrigin = AllowAllOrigins
	config.HeartbeatInterval = 10 * time.Second

	opts = append([]Option{
		WithLogger(discardLogger()),
		WithMetrics(metrics),
		WithGatherer(reg),
	}, opts...)
	s := New(config, registry, opts...)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return &testEnv{server: s, http: ts, store: store, reg: reg}
}

func (e *testEnv) dial(t *testing.T, room, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/" + room + "?user=" + user
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	msg, err := protocol.DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

func readSync(t *testing.T, ws *websocket.Conn) *protocol.SyncMessage {
	t.Helper()
	msg := readMessage(t, ws)
	require.Equal(t, protocol.MessageSync, msg.Type)
	sm, err := protocol.DecodeSync(msg.Payload)
	require.NoError(t, err)
	return sm
}

func readPresence(t *testing.T, ws *websocket.Conn) []protocol.PresenceUpdate {
	t.Helper()
	msg := readMessage(t, ws)
	require.Equal(t, protocol.MessagePresence, msg.Type)
	updates, err := protocol.DecodePresence(msg.Payload)
	require.NoError(t, err)
	return updates
}

// expectSilence asserts that nothing arrives within a short window.
func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func send(t *testing.T, ws *websocket.Conn, frame []byte) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
}

func TestServerHandshake(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "doc-1", "alice")

	step1 := readSync(t, ws)
	assert.Equal(t, protocol.SyncStep1, step1.Type)

	send(t, ws, protocol.EncodeSyncStep1(nil))
	step2 := readSync(t, ws)
	assert.Equal(t, protocol.SyncStep2, step2.Type)

	require.Eventually(t, func() bool { return env.server.Connections() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestServerRelaysUpdatesToOtherPeers(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "doc", "alice")
	b := env.dial(t, "doc", "bob")
	readSync(t, a)
	readSync(t, b)

	local := document.NewLogDocument(7)
	update := local.Insert([]byte("hello"))
	send(t, a, protocol.EncodeSyncUpdate(update))

	got := readSync(t, b)
	assert.Equal(t, protocol.SyncUpdate, got.Type)

	remote := document.NewLogDocument(8)
	require.NoError(t, remote.ApplyUpdate(got.Data, "test"))
	assert.Equal(t, local.EncodeState(), remote.EncodeState())

	expectSilence(t, a)

	// A late joiner catches up through the handshake.
	c := env.dial(t, "doc", "carol")
	sv := readSync(t, c)
	require.Equal(t, protocol.SyncStep1, sv.Type)
	send(t, c, protocol.EncodeSyncStep1(nil))
	step2 := readSync(t, c)
	late := document.NewLogDocument(9)
	require.NoError(t, late.ApplyUpdate(step2.Data, "test"))
	assert.Equal(t, local.EncodeState(), late.EncodeState())
}

func TestServerPresenceExcludesOriginAndClearsOnClose(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "doc", "alice")
	b := env.dial(t, "doc", "bob")
	readSync(t, a)
	readSync(t, b)

	send(t, a, protocol.EncodePresence([]protocol.PresenceUpdate{
		{ClientID: "a1", Clock: 1, State: json.RawMessage(`{"cursor":3}`)},
	}))

	updates := readPresence(t, b)
	require.Len(t, updates, 1)
	assert.Equal(t, "a1", updates[0].ClientID)
	assert.JSONEq(t, `{"cursor":3}`, string(updates[0].State))
	expectSilence(t, a)

	// New joiners receive the presence snapshot after step1.
	c := env.dial(t, "doc", "carol")
	readSync(t, c)
	snapshot := readPresence(t, c)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "a1", snapshot[0].ClientID)

	require.NoError(t, a.Close())

	removed := readPresence(t, b)
	require.Len(t, removed, 1)
	assert.Equal(t, "a1", removed[0].ClientID)
	assert.True(t, removed[0].Removed())
}

func TestServerMalformedMessageIsolation(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.dial(t, "room-a", "a1")
	a2 := env.dial(t, "room-a", "a2")
	b := env.dial(t, "room-b", "b")
	b2 := env.dial(t, "room-b", "b2")
	readSync(t, a1)
	readSync(t, a2)
	readSync(t, b)
	readSync(t, b2)

	send(t, a1, []byte{0xff, 0x01})
	send(t, a1, []byte{byte(protocol.MessageSync), byte(protocol.SyncUpdate), 0x05, 0x01})
	send(t, a1, []byte{byte(protocol.MessagePresence), 0x02})

	// The sender stays connected and keeps relaying.
	send(t, a1, protocol.EncodePresence([]protocol.PresenceUpdate{
		{ClientID: "a1", Clock: 1, State: json.RawMessage(`{"name":"a"}`)},
	}))
	updates := readPresence(t, a2)
	require.Len(t, updates, 1)
	assert.Equal(t, "a1", updates[0].ClientID)

	// The other room still relays, and only its own traffic.
	local := document.NewLogDocument(1)
	update := local.Insert([]byte("b"))
	send(t, b, protocol.EncodeSyncUpdate(update))
	relayed := readSync(t, b2)
	assert.Equal(t, protocol.SyncUpdate, relayed.Type)

	remote := document.NewLogDocument(2)
	require.NoError(t, remote.ApplyUpdate(relayed.Data, "b"))
	assert.Equal(t, local.EncodeState(), remote.EncodeState())

	expectSilence(t, a2)
	expectSilence(t, b)
}

func TestServerRejectsMissingRoom(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.http.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerQueryRoomParameter(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?room=q&user=u"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	readSync(t, ws)
	assert.NotNil(t, env.server.Registry().Get("q"))
}

func TestServerHealthzAndStats(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "stats-room", "alice")
	readSync(t, ws)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["rooms"])

	resp, err = http.Get(env.http.URL + "/stats")
	require.NoError(t, err)
	var stats session.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.Connections)
	require.Len(t, stats.Details, 1)
	assert.Equal(t, "stats-room", stats.Details[0].ID)

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerShutdownPersistsRooms(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "persist-me", "alice")
	readSync(t, ws)

	local := document.NewLogDocument(3)
	send(t, ws, protocol.EncodeSyncUpdate(local.Insert([]byte("saved"))))

	require.Eventually(t, func() bool {
		room := env.server.Registry().Get("persist-me")
		return room != nil && room.Dirty()
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, env.server.Shutdown(context.Background()))
	assert.Zero(t, env.server.Connections())

	state, _, err := env.store.Load(context.Background(), "persist-me")
	require.NoError(t, err)
	restored := document.NewLogDocument(4)
	require.NoError(t, restored.ApplyUpdate(state, "store"))
	assert.Equal(t, local.EncodeState(), restored.EncodeState())

	// The client sees the socket close.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}

func TestServerHeartbeatTerminatesSilentClient(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	env := newTestEnv(t, WithClock(clk))
	env.server.StartMaintenance()
	require.Eventually(t, func() bool { return clk.Pending() >= 2 },
		time.Second, 10*time.Millisecond)

	// The client never reads, so pings go unanswered.
	env.dial(t, "hb", "silent")
	require.Eventually(t, func() bool { return env.server.Monitor().Len() == 1 },
		time.Second, 10*time.Millisecond)

	stats := env.server.Registry().Stats()
	require.Len(t, stats.Details, 1)
	require.Len(t, stats.Details[0].Peers, 1)
	id := stats.Details[0].Peers[0]

	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return env.server.Monitor().State(id) == StateProbation },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.server.Connections())

	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return env.server.Connections() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateTerminated, env.server.Monitor().State(id))
}

func TestConfigWithDefaults(t *testing.T) {
	c := (&Config{Address: ":9999"}).withDefaults()
	assert.Equal(t, ":9999", c.Address)
	assert.Equal(t, 256, c.SendQueueSize)
	assert.EqualValues(t, 1<<20, c.MaxMessageSize)
	assert.NotNil(t, c.CheckOrigin)
	assert.NoError(t, c.Validate())

	bad := &Config{SendQueueSize: -1, HeartbeatInterval: -time.Second}
	assert.Error(t, bad.Validate())
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin", "example.com", "", true},
		{"same host", "example.com", "https://example.com", true},
		{"same host with port", "localhost:8080", "http://localhost:8080", true},
		{"different host", "example.com", "https://evil.com", false},
		{"different port", "localhost:8080", "http://localhost:9090", false},
		{"bad origin", "example.com", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, SameOriginCheck(r))
		})
	}
}
