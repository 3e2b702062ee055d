package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"walkersim.dev/internal/persistence/indexdb"
	"walkersim.dev/internal/persistence/journal"
	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/sandbox"
	"walkersim.dev/internal/sim/tuning"
)

type fixture struct {
	sim   *population.Simulation
	admin *adminAPI
	mux   *http.ServeMux
	dir   string
}

func newFixture(t *testing.T, keyHash []byte) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	idx, err := indexdb.OpenSQLite(context.Background(), filepath.Join(dir, "index.sqlite"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	jr, err := journal.Open(filepath.Join(dir, "journal"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jr.Close() })

	cfg := sandbox.DefaultConfig()
	cfg.HalfSize = 512
	sim := population.New(population.Options{
		Tuning:   tuning.Defaults(),
		World:    sandbox.New(cfg),
		Log:      log,
		Seed:     3,
		Recorder: recorders{jr, idx},
	})
	sim.Reset()

	a := &adminAPI{
		sim:     sim,
		ckpt:    &checkpointer{sim: sim, path: filepath.Join(dir, "population.snap.zst"), idx: idx, log: log},
		idx:     idx,
		journal: jr,
		steps:   func() uint64 { return 42 },
		keyHash: keyHash,
		log:     log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", a.handleMetrics)
	a.register(mux)
	return &fixture{sim: sim, admin: a, mux: mux, dir: dir}
}

func (f *fixture) do(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:51000"
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_State(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/admin/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1.0, st.Timescale)
	assert.Equal(t, f.sim.MaxAgents(), st.Counts.Inactive)
	assert.Equal(t, uint64(42), st.Steps)

	rec = f.do(http.MethodPost, "/admin/v1/state", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdmin_LoopbackOnlyWithoutKey(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/admin/v1/state", "", func(r *http.Request) { r.RemoteAddr = "10.0.0.8:4000" })
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_BearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, hash)

	remote := func(r *http.Request) { r.RemoteAddr = "10.0.0.8:4000" }
	rec := f.do(http.MethodGet, "/admin/v1/state", "", remote)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/v1/state", "", remote, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/v1/state", "", remote, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer s3cret")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_Timescale(t *testing.T) {
	f := newFixture(t, nil)
	epoch := f.sim.State().Epoch()
	rec := f.do(http.MethodPost, "/admin/v1/timescale", `{"timescale": 4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, f.sim.State().Timescale())
	assert.Greater(t, f.sim.State().Epoch(), epoch)

	rec = f.do(http.MethodPost, "/admin/v1/timescale", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_Noise(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/admin/v1/noise", `{"source":"explosion","x":10,"z":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":true`)
	assert.Equal(t, 1, f.sim.PendingEvents())

	rec = f.do(http.MethodPost, "/admin/v1/noise", `{"source":"footstep"}`)
	assert.Contains(t, rec.Body.String(), `"queued":false`)

	rec = f.do(http.MethodPost, "/admin/v1/noise", `{"radius":50,"x":1}`)
	assert.Contains(t, rec.Body.String(), `"queued":true`)
	assert.Equal(t, 2, f.sim.PendingEvents())

	rec = f.do(http.MethodPost, "/admin/v1/noise", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_CheckpointAndList(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/admin/v1/checkpoint", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved struct {
		OK     bool   `json:"ok"`
		SaveID string `json:"save_id"`
		Agents int    `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.True(t, saved.OK)
	assert.Equal(t, f.sim.Counts().Total(), saved.Agents)

	rec = f.do(http.MethodGet, "/admin/v1/checkpoints?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Checkpoints []indexdb.Checkpoint `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Checkpoints, 1)
	assert.Equal(t, saved.SaveID, list.Checkpoints[0].SaveID)

	rec = f.do(http.MethodGet, "/admin/v1/checkpoints?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/admin/v1/state", "")
	assert.Contains(t, rec.Body.String(), saved.SaveID)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `walkersim_agents{state="inactive"} `)
	assert.Contains(t, body, "# TYPE walkersim_steps_total counter\nwalkersim_steps_total 42\n")
	assert.Contains(t, body, "walkersim_timescale 1\n")
	assert.Contains(t, body, "walkersim_journal_written_total")
	assert.Contains(t, body, "walkersim_index_queue_depth")
}

func TestOpenIndex(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	idx, err := openIndex(ctx, "none", "", t.TempDir(), log)
	require.NoError(t, err)
	assert.Nil(t, idx)

	_, err = openIndex(ctx, "postgres", "", t.TempDir(), log)
	assert.Error(t, err)

	_, err = openIndex(ctx, "mysql", "", t.TempDir(), log)
	assert.Error(t, err)

	idx, err = openIndex(ctx, "sqlite", "", t.TempDir(), log)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, indexdb.DialectSQLite, idx.Dialect())
	require.NoError(t, idx.Close())
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := newLogger("debug", format)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(-1))
	}
	log, err := newLogger("nonsense", "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1))
}
