// Package scheduler drives the population's fixed tick from its own
// goroutine, independent of the host frame rate.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/tuning"
)

const (
	// FrameBudget bounds catch-up work per iteration; leftover steps stay
	// in the accumulator.
	FrameBudget = 66 * time.Millisecond

	pausedSleep  = 100 * time.Millisecond
	runningSleep = time.Millisecond
	perfWindow   = 60 * time.Second
)

var (
	ErrWorldLost      = errors.New("world no longer available")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Simulation is the part of *population.Simulation the scheduler drives.
type Simulation interface {
	Step(dt float64)
	ClearEvents()
	PlayerCount() int
	State() *population.State
}

// World reports whether the host world is still loaded.
type World interface {
	Available() bool
}

type Options struct {
	Tuning tuning.Tuning
	Sim    Simulation
	World  World
	Log    *zap.Logger
	Clock  Clock

	// OnIteration runs after every iteration, paused or not.
	OnIteration func()
	// OnCheckpoint runs every Tuning.CheckpointInterval of wall time.
	OnCheckpoint func()
}

type Scheduler struct {
	tun    tuning.Tuning
	sim    Simulation
	world  World
	log    *zap.Logger
	clock  Clock
	period float64

	onIteration  func()
	onCheckpoint func()

	// loop state, owned by the loop goroutine
	accumulator    float64
	epoch          uint64
	last           time.Time
	lastCheckpoint time.Time
	perfStart      time.Time
	perfSteps      int

	startOnce sync.Once
	running   atomic.Bool
	stop      atomic.Bool
	lost      atomic.Bool
	steps     atomic.Uint64
	done      chan struct{}
}

func New(opts Options) *Scheduler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	now := clock.Now()
	return &Scheduler{
		tun:            opts.Tuning,
		sim:            opts.Sim,
		world:          opts.World,
		log:            log.Named("scheduler"),
		clock:          clock,
		period:         opts.Tuning.TickPeriod().Seconds(),
		onIteration:    opts.OnIteration,
		onCheckpoint:   opts.OnCheckpoint,
		epoch:          opts.Sim.State().Epoch(),
		last:           now,
		lastCheckpoint: now,
		perfStart:      now,
		done:           make(chan struct{}),
	}
}

// Start launches the loop goroutine. A scheduler runs at most once.
func (s *Scheduler) Start() error {
	started := false
	s.startOnce.Do(func() {
		started = true
		s.running.Store(true)
		s.last = s.clock.Now()
		go s.loop()
	})
	if !started {
		return ErrAlreadyRunning
	}
	return nil
}

// Stop asks the loop to exit and waits for the current iteration to
// finish. It is safe to call more than once and before Start.
func (s *Scheduler) Stop() {
	s.stop.Store(true)
	if s.running.Load() {
		<-s.done
	}
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Run starts the loop and blocks until ctx is cancelled or the loop stops
// on its own. It returns ErrWorldLost when the world went away.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.done:
	}
	if s.lost.Load() {
		return ErrWorldLost
	}
	return nil
}

func (s *Scheduler) loop() {
	defer close(s.done)
	s.log.Info("started", zap.Int("update_interval", s.tun.UpdateInterval))
	for !s.stop.Load() {
		paused, ok := s.Iterate()
		if !ok {
			s.lost.Store(true)
			s.log.Warn("world unavailable, stopping")
			break
		}
		if paused {
			s.clock.Sleep(pausedSleep)
		} else {
			s.clock.Sleep(runningSleep)
		}
	}
	s.log.Info("stopped", zap.Uint64("steps", s.steps.Load()))
}

// Paused reports whether the pause policy currently holds the simulation.
func (s *Scheduler) Paused() bool {
	if s.tun.PauseWithoutPlayers && s.sim.PlayerCount() == 0 {
		return true
	}
	return s.tun.PauseDuringBloodMoon && s.sim.State().BloodMoon()
}

// Iterate runs one loop iteration. ok is false when the world is gone and
// the loop must end.
func (s *Scheduler) Iterate() (paused, ok bool) {
	now := s.clock.Now()
	elapsed := now.Sub(s.last).Seconds()
	s.last = now

	if !s.world.Available() {
		return false, false
	}

	st := s.sim.State()
	if ep := st.Epoch(); ep != s.epoch {
		s.epoch = ep
		s.accumulator = 0
	}

	paused = s.Paused()
	st.SetPaused(paused)
	if paused {
		s.sim.ClearEvents()
		s.perfStart = now
		s.perfSteps = 0
	} else {
		s.accumulator += elapsed * st.Timescale()
		start := s.clock.Now()
		for s.accumulator >= s.period {
			if !s.world.Available() {
				return false, false
			}
			s.accumulator -= s.period
			s.sim.Step(s.period)
			s.perfSteps++
			s.steps.Add(1)
			if s.clock.Now().Sub(start) >= FrameBudget {
				break
			}
		}
		s.checkPerf(now)
	}

	if s.onIteration != nil {
		s.onIteration()
	}
	if s.onCheckpoint != nil && now.Sub(s.lastCheckpoint) >= s.tun.CheckpointInterval {
		s.lastCheckpoint = now
		s.onCheckpoint()
	}
	return paused, true
}

// checkPerf warns when the simulation fell behind over the last window.
func (s *Scheduler) checkPerf(now time.Time) {
	window := now.Sub(s.perfStart)
	if window < perfWindow {
		return
	}
	rate := float64(s.perfSteps) / window.Seconds()
	target := float64(s.tun.UpdateInterval) * s.sim.State().Timescale()
	if rate < target*0.95 {
		s.log.Warn("simulation falling behind",
			zap.Float64("steps_per_second", rate),
			zap.Float64("target", target),
			zap.Float64("backlog_seconds", s.accumulator))
	}
	s.perfStart = now
	s.perfSteps = 0
}

// Accumulator is the unsimulated scaled time in seconds. Only meaningful
// when the loop is not running.
func (s *Scheduler) Accumulator() float64 { return s.accumulator }

func (s *Scheduler) TotalSteps() uint64 { return s.steps.Load() }
