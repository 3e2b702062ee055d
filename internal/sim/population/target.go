package population

import (
	"math/rand"

	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/zones"
)

type TargetKind uint8

const (
	// TargetDefault applies the built-in rules.
	TargetDefault TargetKind = iota
	TargetPOI
	TargetWorld
	TargetPlayer
)

// TargetQuery is what a selector sees about the agent choosing a target.
// Visited is oldest first and must not be retained.
type TargetQuery struct {
	AgentID   int
	Pos       mathx.Vec3
	Visited   []zones.Ref
	BloodMoon bool
}

// TargetSelector picks which kind of zone an agent heads for next. It is
// only called from the scheduler goroutine.
type TargetSelector interface {
	SelectTarget(q TargetQuery) TargetKind
}

// DefaultSelector defers every choice to the built-in rules. The visited
// history is not used for exclusion.
type DefaultSelector struct{}

func (DefaultSelector) SelectTarget(TargetQuery) TargetKind { return TargetDefault }

// pickTarget returns a zone and a point inside it for a.
func (s *Simulation) pickTarget(a *Agent, bloodMoon bool) (zones.Zone, mathx.Vec3) {
	rng := s.stepRng
	kind := s.selector.SelectTarget(TargetQuery{
		AgentID:   a.ID,
		Pos:       a.Pos,
		Visited:   a.Inactive.Visited,
		BloodMoon: bloodMoon,
	})

	if kind == TargetPlayer || (kind == TargetDefault && bloodMoon) {
		if z, ok := s.zones.FindNearest(a.Pos, bloodMoonRange, zones.KindPlayer, zones.Ref{}); ok {
			return z, z.RandomPoint(rng)
		}
	}
	switch kind {
	case TargetPOI:
		if z, ok := s.zones.RandomPOI(rng); ok {
			return z, z.RandomPoint(rng)
		}
	case TargetWorld:
	default:
		if rng.Float64() < s.tun.POITravellerChance {
			if z, ok := s.zones.RandomPOI(rng); ok {
				return z, z.RandomPoint(rng)
			}
		}
	}
	z := s.zones.RandomZone(rng)
	return z, z.RandomPoint(rng)
}

func (s *Simulation) assignTarget(a *Agent, bloodMoon bool) {
	z, p := s.pickTarget(a, bloodMoon)
	in := a.Inactive
	in.Target = p
	in.TargetZone = z.Ref()
	in.State = Wandering
}

// waitTime draws the arrival wait in agent-local seconds.
func waitTime(base float64, rng *rand.Rand) float64 {
	return base * (0.5 + 0.5*rng.Float64())
}
