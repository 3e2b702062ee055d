package population

import (
	"sync"
	"sync/atomic"

	"walkersim.dev/internal/sim/mathx"
)

const (
	minScale = 0.01
	maxScale = 100.0
)

// State is the simulation-wide control block. Every mutation that changes
// a value signals Changed.
type State struct {
	mu        sync.Mutex
	timescale float64
	walkScale float64
	bloodMoon bool
	paused    bool

	// epoch bumps on every timescale change so the scheduler can drop its
	// accumulator.
	epoch   atomic.Uint64
	changed chan struct{}
}

type StateView struct {
	Timescale      float64
	WalkSpeedScale float64
	BloodMoon      bool
	Paused         bool
}

func newState(walkScale float64) *State {
	return &State{
		timescale: 1,
		walkScale: mathx.Clamp(walkScale, minScale, maxScale),
		changed:   make(chan struct{}, 1),
	}
}

func (s *State) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Changed fires at least once after any mutation. Multiple mutations
// between reads collapse into one signal.
func (s *State) Changed() <-chan struct{} { return s.changed }

func (s *State) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateView{
		Timescale:      s.timescale,
		WalkSpeedScale: s.walkScale,
		BloodMoon:      s.bloodMoon,
		Paused:         s.paused,
	}
}

func (s *State) Timescale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timescale
}

func (s *State) Epoch() uint64 { return s.epoch.Load() }

// SetTimescale clamps to [0.01, 100].
func (s *State) SetTimescale(v float64) {
	v = mathx.Clamp(v, minScale, maxScale)
	s.mu.Lock()
	s.timescale = v
	s.mu.Unlock()
	s.epoch.Add(1)
	s.signal()
}

func (s *State) SetWalkSpeedScale(v float64) {
	v = mathx.Clamp(v, minScale, maxScale)
	s.mu.Lock()
	changed := s.walkScale != v
	s.walkScale = v
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

func (s *State) BloodMoon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bloodMoon
}

func (s *State) SetBloodMoon(v bool) {
	s.mu.Lock()
	changed := s.bloodMoon != v
	s.bloodMoon = v
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

func (s *State) SetPaused(v bool) {
	s.mu.Lock()
	changed := s.paused != v
	s.paused = v
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

// speedFactor is timescale * walk speed scale.
func (s *State) speedFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timescale * s.walkScale
}
