// Package population runs the zombie population: cheap inactive agents that
// roam the whole world on a fixed tick, and the pipeline that materializes
// them as live host entities near players and reclaims them afterwards.
//
// Locks are per collection. When more than one is held they are taken in
// the order inactive, queue, active, returning.
package population

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/tuning"
	"walkersim.dev/internal/sim/zones"
)

const (
	// BaseWalkSpeed is in world units per simulated second.
	BaseWalkSpeed = 1.5
	// ArrivalDistance is measured on the X/Z plane.
	ArrivalDistance = 2.0
	// MaxSpawnsPerTick bounds how many queued agents one host frame
	// materializes.
	MaxSpawnsPerTick = 2
	// MinActiveLifetime is in world seconds.
	MinActiveLifetime = 60.0

	bloodMoonRange = 200.0
	poiScatter     = 256.0
	soundFollow    = 0.75
	spawnRetry     = 5.0
)

var (
	ErrCapacity         = errors.New("no spawn capacity")
	ErrPlacement        = errors.New("placement rejected")
	ErrChunkNotLoaded   = errors.New("chunk not loaded")
	ErrWorldUnavailable = errors.New("world unavailable")
)

// WorldEvent is a noise ping agents within Radius react to.
type WorldEvent struct {
	Pos    mathx.Vec3
	Radius float64
}

type spawnRequest struct {
	agent *Agent
	zone  zones.Ref
}

type Options struct {
	Tuning   tuning.Tuning
	World    host.World
	Log      *zap.Logger
	Seed     int64
	Selector TargetSelector
	Recorder Recorder
}

type Simulation struct {
	tun      tuning.Tuning
	world    host.World
	zones    *zones.Index
	log      *zap.Logger
	selector TargetSelector
	rec      Recorder
	state    *State
	fsm      fsm

	// stepRng is used only from Step, Reset and Restore; hostRng only from
	// Update.
	stepRng *rand.Rand
	hostRng *rand.Rand
	nextID  int

	inactiveMu sync.Mutex
	inactive   []*Agent

	queueMu sync.Mutex
	queue   []spawnRequest

	activeMu sync.Mutex
	active   []*Agent

	returnMu  sync.Mutex
	returning []*Agent

	eventsMu sync.Mutex
	events   []WorldEvent

	activeCount atomic.Int64
	stats       stats
}

func New(opts Options) *Simulation {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	sel := opts.Selector
	if sel == nil {
		sel = DefaultSelector{}
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	mins, maxs := opts.World.Extent()
	var pois []zones.POIZone
	for _, p := range opts.World.PointsOfInterest() {
		pois = append(pois, zones.POIZone{Name: p.Name, Pos: p.Center, Radius: p.Radius})
	}
	ix := zones.New(zones.Options{
		Mins:           mins,
		Maxs:           maxs,
		Divider:        opts.Tuning.WorldZoneDivider,
		PlayerZoneSize: opts.Tuning.PlayerZoneSize,
		BorderMargin:   opts.Tuning.WorldBorderMargin,
	}, pois)

	return &Simulation{
		tun:      opts.Tuning,
		world:    opts.World,
		zones:    ix,
		log:      log.Named("population"),
		selector: sel,
		rec:      rec,
		state:    newState(opts.Tuning.WalkSpeedScale),
		fsm: fsm{
			checkInterval:  behaviorCheckInterval,
			minIdle:        float64(opts.Tuning.MinIdleSeconds),
			maxIdle:        float64(opts.Tuning.MaxIdleSeconds),
			approachRadius: approachRadius,
		},
		stepRng: rand.New(rand.NewSource(opts.Seed)),
		hostRng: rand.New(rand.NewSource(opts.Seed ^ 0x5deece66d)),
	}
}

func (s *Simulation) State() *State { return s.state }

func (s *Simulation) Zones() *zones.Index { return s.zones }

func (s *Simulation) Tuning() tuning.Tuning { return s.tun }

func (s *Simulation) World() host.World { return s.world }

// MaxAgents is floor(area in km² * density).
func (s *Simulation) MaxAgents() int {
	return int(math.Floor(s.zones.Extent().AreaKm2() * float64(s.tun.PopulationDensity)))
}

type Counts struct {
	Inactive int `json:"inactive"`
	Queued   int `json:"queued"`
	Active   int `json:"active"`
}

func (c Counts) Total() int { return c.Inactive + c.Queued + c.Active }

// Counts is exact only while neither Step nor Update is running.
func (s *Simulation) Counts() Counts {
	var c Counts
	s.inactiveMu.Lock()
	c.Inactive = len(s.inactive)
	s.queueMu.Lock()
	c.Queued = len(s.queue)
	s.activeMu.Lock()
	c.Active = len(s.active)
	s.returnMu.Lock()
	c.Inactive += len(s.returning)
	s.returnMu.Unlock()
	s.activeMu.Unlock()
	s.queueMu.Unlock()
	s.inactiveMu.Unlock()
	return c
}

// Reset discards every agent, despawning live ones, and generates a fresh
// population.
func (s *Simulation) Reset() {
	s.clear()

	n := s.MaxAgents()
	agents := make([]*Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, s.newAgent(s.initialPos()))
	}

	s.inactiveMu.Lock()
	s.inactive = agents
	s.inactiveMu.Unlock()

	s.log.Info("population reset",
		zap.Int("agents", n),
		zap.Float64("area_km2", s.zones.Extent().AreaKm2()),
		zap.Int("density", s.tun.PopulationDensity))
}

func (s *Simulation) newAgent(pos mathx.Vec3) *Agent {
	s.nextID++
	return &Agent{
		ID:       s.nextID,
		Pos:      pos,
		Health:   UnknownHealth,
		Inactive: &Inactive{State: Idle},
	}
}

// initialPos places a new agent near a random POI with the POI traveller
// chance, otherwise anywhere in a random world zone.
func (s *Simulation) initialPos() mathx.Vec3 {
	if s.stepRng.Float64() < s.tun.POITravellerChance {
		if poi, ok := s.zones.RandomPOI(s.stepRng); ok {
			p := poi.RandomPoint(s.stepRng)
			p.X += (s.stepRng.Float64()*2 - 1) * poiScatter
			p.Z += (s.stepRng.Float64()*2 - 1) * poiScatter
			return s.zones.WrapPos(p)
		}
	}
	z := s.zones.RandomZone(s.stepRng)
	return z.RandomPoint(s.stepRng)
}

func (s *Simulation) clear() {
	s.activeMu.Lock()
	for _, a := range s.active {
		s.zones.Decrement(a.Active.Zone)
		s.world.RemoveEntity(a.Active.Entity)
	}
	s.active = nil
	s.activeCount.Store(0)
	s.activeMu.Unlock()

	s.inactiveMu.Lock()
	s.inactive = nil
	s.inactiveMu.Unlock()
	s.queueMu.Lock()
	s.queue = nil
	s.queueMu.Unlock()
	s.returnMu.Lock()
	s.returning = nil
	s.returnMu.Unlock()
	s.eventsMu.Lock()
	s.events = nil
	s.eventsMu.Unlock()
	s.nextID = 0
}

// AddPlayer and RemovePlayer only move zones around; they never add or
// remove agents.
func (s *Simulation) AddPlayer(id int, pos mathx.Vec3) {
	s.zones.AddPlayer(id, pos)
	s.log.Info("player zone added", zap.Int("player", id))
}

func (s *Simulation) RemovePlayer(id int) {
	s.zones.RemovePlayer(id)
	s.log.Info("player zone removed", zap.Int("player", id))
}

func (s *Simulation) PlayerCount() int { return s.zones.PlayerCount() }

// AddSoundEvent queues a noise ping for the next step.
func (s *Simulation) AddSoundEvent(pos mathx.Vec3, radius float64) {
	if radius <= 0 {
		return
	}
	s.eventsMu.Lock()
	s.events = append(s.events, WorldEvent{Pos: pos, Radius: radius})
	s.eventsMu.Unlock()
}

// AddNoise looks up the radius configured for source. Unknown or silent
// sources are ignored; the return value reports whether an event was
// queued.
func (s *Simulation) AddNoise(source string, pos mathx.Vec3) bool {
	r := s.tun.SoundRadius(source)
	if r <= 0 {
		return false
	}
	s.AddSoundEvent(pos, r)
	return true
}

// ClearEvents drops every queued world event.
func (s *Simulation) ClearEvents() {
	s.eventsMu.Lock()
	s.events = s.events[:0]
	s.eventsMu.Unlock()
}

func (s *Simulation) PendingEvents() int {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return len(s.events)
}

func (s *Simulation) popEvent() (WorldEvent, bool) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if len(s.events) == 0 {
		return WorldEvent{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}
