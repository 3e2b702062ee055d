package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"walkersim.dev/internal/persistence/indexdb"
	"walkersim.dev/internal/persistence/journal"
	"walkersim.dev/internal/persistence/offsite"
	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/transport/telemetry"
)

// adminAPI serves the operator endpoints. Without a key hash only loopback
// callers are accepted; with one every request needs the matching bearer
// token.
type adminAPI struct {
	sim       *population.Simulation
	ckpt      *checkpointer
	idx       *indexdb.Index
	journal   *journal.Journal
	mirror    *offsite.Mirror
	telemetry *telemetry.Server
	steps     func() uint64
	keyHash   []byte
	log       *zap.Logger
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.guard(http.MethodGet, a.handleState))
	mux.HandleFunc("/admin/v1/timescale", a.guard(http.MethodPost, a.handleTimescale))
	mux.HandleFunc("/admin/v1/noise", a.guard(http.MethodPost, a.handleNoise))
	mux.HandleFunc("/admin/v1/checkpoint", a.guard(http.MethodPost, a.handleCheckpoint))
	mux.HandleFunc("/admin/v1/checkpoints", a.guard(http.MethodGet, a.handleCheckpoints))
}

func (a *adminAPI) guard(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !a.authorized(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) authorized(r *http.Request) bool {
	if len(a.keyHash) == 0 {
		return isLoopbackRemote(r.RemoteAddr)
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.keyHash, []byte(token)) == nil
}

type stateResponse struct {
	Timescale      float64           `json:"timescale"`
	WalkSpeedScale float64           `json:"walk_speed_scale"`
	BloodMoon      bool              `json:"blood_moon"`
	Paused         bool              `json:"paused"`
	Players        int               `json:"players"`
	MaxAgents      int               `json:"max_agents"`
	Counts         population.Counts `json:"counts"`
	Stats          population.Stats  `json:"stats"`
	Steps          uint64            `json:"steps"`
	PendingEvents  int               `json:"pending_events"`
	LastSaveID     string            `json:"last_save_id,omitempty"`
	LastSavedAt    *time.Time        `json:"last_saved_at,omitempty"`
}

func (a *adminAPI) state() stateResponse {
	v := a.sim.State().View()
	resp := stateResponse{
		Timescale:      v.Timescale,
		WalkSpeedScale: v.WalkSpeedScale,
		BloodMoon:      v.BloodMoon,
		Paused:         v.Paused,
		Players:        a.sim.PlayerCount(),
		MaxAgents:      a.sim.MaxAgents(),
		Counts:         a.sim.Counts(),
		Stats:          a.sim.Stats(),
		PendingEvents:  a.sim.PendingEvents(),
	}
	if a.steps != nil {
		resp.Steps = a.steps()
	}
	if a.ckpt != nil {
		if h := a.ckpt.Last(); h.SaveID != "" {
			resp.LastSaveID = h.SaveID
			t := h.SavedAt
			resp.LastSavedAt = &t
		}
	}
	return resp
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, a.state())
}

func (a *adminAPI) handleTimescale(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Timescale *float64 `json:"timescale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Timescale == nil {
		http.Error(rw, "expected {\"timescale\": number}", http.StatusBadRequest)
		return
	}
	a.sim.State().SetTimescale(*body.Timescale)
	a.log.Info("timescale changed", zap.Float64("timescale", a.sim.State().Timescale()))
	writeJSON(rw, http.StatusOK, a.state())
}

func (a *adminAPI) handleNoise(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string   `json:"source"`
		Radius *float64 `json:"radius"`
		X      float64  `json:"x"`
		Y      float64  `json:"y"`
		Z      float64  `json:"z"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(rw, "bad json", http.StatusBadRequest)
		return
	}
	pos := mathx.V(body.X, body.Y, body.Z)
	var queued bool
	switch {
	case body.Radius != nil:
		queued = *body.Radius > 0
		a.sim.AddSoundEvent(pos, *body.Radius)
	case body.Source != "":
		queued = a.sim.AddNoise(body.Source, pos)
	default:
		http.Error(rw, "expected source or radius", http.StatusBadRequest)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"queued": queued, "pending_events": a.sim.PendingEvents()})
}

func (a *adminAPI) handleCheckpoint(rw http.ResponseWriter, r *http.Request) {
	h, size, err := a.ckpt.Save()
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok":       true,
		"save_id":  h.SaveID,
		"saved_at": h.SavedAt,
		"agents":   h.Agents,
		"bytes":    size,
	})
}

func (a *adminAPI) handleCheckpoints(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		http.Error(rw, "index disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	// rows recorded just before the call should be visible
	if err := a.idx.Sync(ctx); err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	cps, err := a.idx.Checkpoints(ctx, limit)
	if err != nil {
		a.log.Error("list checkpoints", zap.Error(err))
		http.Error(rw, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"checkpoints": cps})
}

// handleMetrics writes the Prometheus text exposition format.
func (a *adminAPI) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := a.state()

	gauge := func(name, help string, v float64, labels ...string) {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n", name, help, name)
		writeSample(rw, name, v, labels...)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}

	fmt.Fprintf(rw, "# HELP walkersim_agents Agents by collection.\n# TYPE walkersim_agents gauge\n")
	writeSample(rw, "walkersim_agents", float64(st.Counts.Inactive), "state", "inactive")
	writeSample(rw, "walkersim_agents", float64(st.Counts.Queued), "state", "queued")
	writeSample(rw, "walkersim_agents", float64(st.Counts.Active), "state", "active")
	gauge("walkersim_max_agents", "Population size for the current world area.", float64(st.MaxAgents))
	gauge("walkersim_players", "Players with a zone.", float64(st.Players))
	gauge("walkersim_timescale", "Simulation speed multiplier.", st.Timescale)
	gauge("walkersim_paused", "1 while the pause policy holds the simulation.", boolFloat(st.Paused))
	gauge("walkersim_blood_moon", "1 during a blood moon.", boolFloat(st.BloodMoon))
	gauge("walkersim_pending_events", "Queued world events.", float64(st.PendingEvents))

	counter("walkersim_steps_total", "Fixed simulation steps executed.", st.Steps)
	counter("walkersim_activations_total", "Agents materialized into entities.", st.Stats.Activations)
	counter("walkersim_spawn_failures_total", "Spawn requests that failed placement.", st.Stats.SpawnFailed)
	counter("walkersim_despawns_total", "Active agents returned to the inactive population.", st.Stats.Despawns)
	counter("walkersim_deaths_total", "Active agents that died.", st.Stats.Deaths)
	counter("walkersim_out_of_bounds_total", "Agents respawned at the world border.", st.Stats.OutOfBounds)
	counter("walkersim_events_heard_total", "World events consumed by the inactive simulation.", st.Stats.EventsHeard)

	if a.telemetry != nil {
		ts := a.telemetry.Stats()
		gauge("walkersim_telemetry_clients", "Connected telemetry viewers.", float64(ts.Clients))
		counter("walkersim_telemetry_dropped_frames_total", "Telemetry frames evicted from full client queues.", ts.Dropped)
	}
	if a.journal != nil {
		counter("walkersim_journal_written_total", "Transitions written to the journal.", a.journal.Written())
		counter("walkersim_journal_dropped_total", "Transitions dropped by the journal.", a.journal.Dropped())
	}
	if a.idx != nil {
		is := a.idx.Stats()
		gauge("walkersim_index_queue_depth", "Index writer backlog.", float64(is.QueueDepth))
		counter("walkersim_index_dropped_total", "Index rows dropped while the writer was behind.", is.DropTransitionTotal+is.DropCheckpointTotal)
	}
	if a.mirror != nil {
		ms := a.mirror.Stats()
		counter("walkersim_offsite_uploaded_total", "Checkpoints uploaded offsite.", ms.Uploaded)
		counter("walkersim_offsite_failed_total", "Checkpoint uploads that gave up.", ms.Failed)
		counter("walkersim_offsite_dropped_total", "Checkpoints not mirrored.", ms.Dropped)
	}
}

func writeSample(rw http.ResponseWriter, name string, v float64, labels ...string) {
	if len(labels) == 0 {
		fmt.Fprintf(rw, "%s %g\n", name, v)
		return
	}
	var b strings.Builder
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", labels[i], labels[i+1])
	}
	fmt.Fprintf(rw, "%s{%s} %g\n", name, b.String(), v)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
