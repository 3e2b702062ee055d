package population

import (
	"sync/atomic"
	"time"
)

const (
	EventActivated   = "activated"
	EventSpawnFailed = "spawn_failed"
	EventDespawned   = "despawned"
	EventDied        = "died"
	EventOutOfBounds = "out_of_bounds"
	EventBehavior    = "behavior"
)

// Transition is one lifecycle change of an agent.
type Transition struct {
	Time    time.Time  `json:"time"`
	AgentID int        `json:"agent_id"`
	Event   string     `json:"event"`
	Detail  string     `json:"detail,omitempty"`
	Pos     [3]float64 `json:"pos"`
}

// Recorder receives transitions from both the host frame callback and the
// scheduler goroutine. It must be safe for concurrent use and must not
// block.
type Recorder interface {
	Record(Transition)
}

type nopRecorder struct{}

func (nopRecorder) Record(Transition) {}

type stats struct {
	activations atomic.Uint64
	spawnFailed atomic.Uint64
	despawns    atomic.Uint64
	deaths      atomic.Uint64
	outOfBounds atomic.Uint64
	steps       atomic.Uint64
	eventsHeard atomic.Uint64
	handoffs    atomic.Uint64
}

type Stats struct {
	Activations uint64 `json:"activations"`
	SpawnFailed uint64 `json:"spawn_failed"`
	Despawns    uint64 `json:"despawns"`
	Deaths      uint64 `json:"deaths"`
	OutOfBounds uint64 `json:"out_of_bounds"`
	Steps       uint64 `json:"steps"`
	EventsHeard uint64 `json:"events_heard"`
	Handoffs    uint64 `json:"handoffs"`
}

func (s *Simulation) Stats() Stats {
	return Stats{
		Activations: s.stats.activations.Load(),
		SpawnFailed: s.stats.spawnFailed.Load(),
		Despawns:    s.stats.despawns.Load(),
		Deaths:      s.stats.deaths.Load(),
		OutOfBounds: s.stats.outOfBounds.Load(),
		Steps:       s.stats.steps.Load(),
		EventsHeard: s.stats.eventsHeard.Load(),
		Handoffs:    s.stats.handoffs.Load(),
	}
}

func (s *Simulation) record(a *Agent, event, detail string) {
	s.rec.Record(Transition{
		Time:    time.Now().UTC(),
		AgentID: a.ID,
		Event:   event,
		Detail:  detail,
		Pos:     a.Pos.Array(),
	})
}
