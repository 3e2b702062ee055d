package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/sandbox"
	"walkersim.dev/internal/sim/tuning"
	"walkersim.dev/internal/telemetryproto"
)

func newSim(t *testing.T) *population.Simulation {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.HalfSize = 512
	cfg.Players = 1
	cfg.POIs = 4
	w := sandbox.New(cfg)
	sim := population.New(population.Options{Tuning: tuning.Defaults(), World: w, Log: zaptest.NewLogger(t), Seed: 9})
	sim.Reset()
	sim.Update(0.05)
	return sim
}

func newTestServer(t *testing.T, sim *population.Simulation) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(sim, Options{Log: zaptest.NewLogger(t), MinInterval: -1})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/telemetry/ws", srv.WSHandler())
	mux.HandleFunc("/v1/telemetry/bootstrap", srv.BootstrapHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return srv, hs
}

func dial(t *testing.T, hs *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/telemetry/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", name+".schema.json"))
	require.NoError(t, err, name)
	return s
}

// readJSON returns the message type and the decoded document.
func readJSON(t *testing.T, conn *websocket.Conn) (string, any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var doc any
	require.NoError(t, json.Unmarshal(b, &doc))
	typ, _ := doc.(map[string]any)["type"].(string)
	return typ, doc
}

func TestWS_ConnectSendsWorldInfoThenState(t *testing.T) {
	sim := newSim(t)
	_, hs := newTestServer(t, sim)
	conn := dial(t, hs, "")

	typ, doc := readJSON(t, conn)
	require.Equal(t, telemetryproto.TypeWorldInfo, typ)
	require.NoError(t, compile(t, telemetryproto.TypeWorldInfo).Validate(doc))
	m := doc.(map[string]any)
	assert.EqualValues(t, sim.Tuning().WorldZoneDivider, m["divider"])
	assert.Len(t, m["world_zones"], sim.Tuning().WorldZoneDivider*sim.Tuning().WorldZoneDivider)

	typ, doc = readJSON(t, conn)
	require.Equal(t, telemetryproto.TypeState, typ)
	require.NoError(t, compile(t, telemetryproto.TypeState).Validate(doc))
}

func TestBroadcast_StateOnlyWhenChanged(t *testing.T) {
	sim := newSim(t)
	srv, hs := newTestServer(t, sim)
	conn := dial(t, hs, "")
	readJSON(t, conn)
	readJSON(t, conn)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	// drain any pending change signal with a first broadcast
	srv.Broadcast()
	for {
		typ, _ := readJSON(t, conn)
		if typ == telemetryproto.TypeActiveAgents {
			break
		}
	}

	srv.Broadcast()
	var got []string
	for i := 0; i < 3; i++ {
		typ, doc := readJSON(t, conn)
		got = append(got, typ)
		require.NoError(t, compile(t, typ).Validate(doc), typ)
	}
	assert.Equal(t, []string{
		telemetryproto.TypePlayerZones,
		telemetryproto.TypeInactiveAgents,
		telemetryproto.TypeActiveAgents,
	}, got)

	sim.State().SetTimescale(2)
	srv.Broadcast()
	typ, doc := readJSON(t, conn)
	require.Equal(t, telemetryproto.TypeState, typ)
	assert.EqualValues(t, 2, doc.(map[string]any)["timescale"])
}

// readUntilActive reads frames until an ActiveAgents message and returns
// every type seen on the way.
func readUntilActive(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var seen []string
	for {
		typ, _ := readJSON(t, conn)
		seen = append(seen, typ)
		if typ == telemetryproto.TypeActiveAgents {
			return seen
		}
	}
}

func TestBroadcast_BrokenClientDoesNotAffectOthers(t *testing.T) {
	sim := newSim(t)
	srv, hs := newTestServer(t, sim)
	broken := dial(t, hs, "")
	healthy := dial(t, hs, "")
	for _, c := range []*websocket.Conn{broken, healthy} {
		readJSON(t, c)
		readJSON(t, c)
	}
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, 5*time.Second, 5*time.Millisecond)

	srv.Broadcast()
	readUntilActive(t, healthy)

	// drop the TCP connection without a close handshake
	require.NoError(t, broken.UnderlyingConn().Close())
	srv.Broadcast()
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		srv.Broadcast()
		assert.Contains(t, readUntilActive(t, healthy), telemetryproto.TypePlayerZones)
	}
	assert.Equal(t, 1, srv.ClientCount())
}

func TestWS_Msgpack(t *testing.T) {
	sim := newSim(t)
	_, hs := newTestServer(t, sim)
	conn := dial(t, hs, "?encoding=msgpack")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)

	var info telemetryproto.WorldInfoMsg
	require.NoError(t, EncodingMsgpack.Unmarshal(b, &info))
	assert.Equal(t, telemetryproto.TypeWorldInfo, info.Type)
	assert.Equal(t, sim.WorldInfo(), info)
}

func TestWS_RejectsUnknownEncoding(t *testing.T) {
	srv := NewServer(newSim(t), Options{})
	req := httptest.NewRequest(http.MethodGet, "/v1/telemetry/ws?encoding=xml", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	srv.WSHandler()(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBootstrap(t *testing.T) {
	sim := newSim(t)
	_, hs := newTestServer(t, sim)

	resp, err := http.Get(hs.URL + "/v1/telemetry/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.NoError(t, compile(t, "bootstrap").Validate(doc))
	assert.Equal(t, telemetryproto.Version, doc.(map[string]any)["protocol_version"])
}

func TestLoopbackOnlyByDefault(t *testing.T) {
	sim := newSim(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/telemetry/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"

	rec := httptest.NewRecorder()
	NewServer(sim, Options{}).BootstrapHandler()(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	NewServer(sim, Options{AllowRemote: true}).BootstrapHandler()(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBroadcast_NoClients(t *testing.T) {
	srv := NewServer(newSim(t), Options{})
	srv.Broadcast()
	assert.Equal(t, uint64(0), srv.Stats().Broadcasts)
}

func TestBroadcast_RateLimited(t *testing.T) {
	now := time.Unix(100, 0)
	srv := NewServer(newSim(t), Options{MinInterval: time.Second, Now: func() time.Time { return now }})
	c := &client{id: "c", out: make(chan frame, 64)}
	srv.add(c)

	srv.Broadcast()
	now = now.Add(500 * time.Millisecond)
	srv.Broadcast()
	assert.Equal(t, uint64(1), srv.Stats().Broadcasts)
	now = now.Add(600 * time.Millisecond)
	srv.Broadcast()
	assert.Equal(t, uint64(2), srv.Stats().Broadcasts)
}

func TestClientPush_DropsOldest(t *testing.T) {
	c := &client{out: make(chan frame, 2)}
	for i := 0; i < 5; i++ {
		c.push(frame{data: []byte{byte(i)}})
	}
	assert.Equal(t, uint64(3), c.dropped.Load())
	assert.Equal(t, byte(3), (<-c.out).data[0])
	assert.Equal(t, byte(4), (<-c.out).data[0])
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, e)
	e, err = ParseEncoding("msgpack")
	require.NoError(t, err)
	assert.Equal(t, EncodingMsgpack, e)
	_, err = ParseEncoding("cbor")
	assert.Error(t, err)
}
