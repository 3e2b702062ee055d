package population

import (
	"math"

	"go.uber.org/zap"

	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/zones"
)

// Step advances every inactive agent by one fixed tick of dt seconds. It
// must only be called from one goroutine at a time.
func (s *Simulation) Step(dt float64) {
	s.stats.steps.Add(1)
	s.drainReturning()

	ev, hasEvent := s.popEvent()
	bloodMoon := s.state.BloodMoon()
	speed := BaseWalkSpeed * s.state.speedFactor() * dt
	globalCap := s.tun.GlobalActiveCap()
	active := int(s.activeCount.Load())

	s.inactiveMu.Lock()
	defer s.inactiveMu.Unlock()

	pending, queued := s.queuedByZone()
	var handoff []spawnRequest
	heard := 0

	kept := s.inactive[:0]
	for _, a := range s.inactive {
		in := a.Inactive
		in.LocalTime += dt

		if hasEvent && a.Pos.Dist2D(ev.Pos) <= ev.Radius {
			s.investigate(a, ev)
			heard++
		}
		s.move(a, speed)
		s.updateTarget(a, bloodMoon)

		if in.LocalTime < in.RetryAt {
			kept = append(kept, a)
			continue
		}
		ref, out := s.handoffZone(a, pending, active+queued+len(handoff), globalCap)
		switch {
		case out:
			s.record(a, EventOutOfBounds, "border_respawn")
			s.respawnAtBorder(a)
			s.stats.outOfBounds.Add(1)
			kept = append(kept, a)
		case ref.Valid():
			in.queuedFrom = in.State
			in.State = Queued
			pending[ref]++
			handoff = append(handoff, spawnRequest{agent: a, zone: ref})
		default:
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(s.inactive); i++ {
		s.inactive[i] = nil
	}
	s.inactive = kept

	if len(handoff) > 0 {
		s.queueMu.Lock()
		s.queue = append(s.queue, handoff...)
		s.queueMu.Unlock()
		s.stats.handoffs.Add(uint64(len(handoff)))
	}
	if heard > 0 {
		s.stats.eventsHeard.Add(uint64(heard))
		s.log.Debug("world event heard",
			zap.Float64("x", ev.Pos.X), zap.Float64("z", ev.Pos.Z),
			zap.Float64("radius", ev.Radius), zap.Int("agents", heard))
	}
}

func (s *Simulation) queuedByZone() (map[zones.Ref]int, int) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	m := make(map[zones.Ref]int, len(s.queue))
	for _, r := range s.queue {
		m[r.zone]++
	}
	return m, len(s.queue)
}

func (s *Simulation) drainReturning() {
	s.inactiveMu.Lock()
	s.returnMu.Lock()
	s.inactive = append(s.inactive, s.returning...)
	for i := range s.returning {
		s.returning[i] = nil
	}
	s.returning = s.returning[:0]
	s.returnMu.Unlock()
	s.inactiveMu.Unlock()
}

func (s *Simulation) pushReturning(a *Agent) {
	s.returnMu.Lock()
	s.returning = append(s.returning, a)
	s.returnMu.Unlock()
}

// investigate sends a toward a random point around the event origin at
// 75% of its distance to the origin.
func (s *Simulation) investigate(a *Agent, ev WorldEvent) {
	in := a.Inactive
	dist := a.Pos.Dist2D(ev.Pos) * soundFollow
	angle := s.stepRng.Float64() * 2 * math.Pi
	target := ev.Pos.Add(mathx.V(math.Cos(angle)*dist, 0, math.Sin(angle)*dist))
	in.Target = s.zones.ClampPos(target)
	in.TargetZone = s.zones.WorldZoneAt(in.Target).Ref()
	in.State = Investigating
}

// move walks a curved path: the aim point circles the target at 75% of the
// remaining distance with a phase that differs per agent.
func (s *Simulation) move(a *Agent, speed float64) {
	in := a.Inactive
	if in.State != Wandering && in.State != Investigating {
		return
	}
	dist := a.Pos.Dist2D(in.Target) * 0.75
	t := (in.LocalTime + float64(a.ID)) * 0.2
	offset := mathx.V(math.Cos(t), 0, math.Sin(t)).Scale(dist)
	a.Pos = s.zones.ClampPos(mathx.MoveTowards(a.Pos, in.Target.Add(offset), speed))
}

func (s *Simulation) updateTarget(a *Agent, bloodMoon bool) {
	in := a.Inactive
	switch in.State {
	case Idle:
		s.assignTarget(a, bloodMoon)
	case Wandering, Investigating:
		if a.Pos.Dist2D(in.Target) <= ArrivalDistance {
			in.Visit(in.TargetZone)
			in.State = Waiting
			in.WaitUntil = in.LocalTime + waitTime(s.tun.InactiveWaitAtTarget, s.stepRng)
		}
	case Waiting:
		if in.LocalTime >= in.WaitUntil {
			s.assignTarget(a, bloodMoon)
		}
	case Queued:
	}
}

// handoffZone decides whether a belongs in a player zone. out reports the
// agent stood inside player zones but outside every spawn-eligible region.
func (s *Simulation) handoffZone(a *Agent, pending map[zones.Ref]int, committed, globalCap int) (ref zones.Ref, out bool) {
	return pickHandoffZone(s.zones.FindContaining(a.Pos), a.Pos, pending, committed, globalCap)
}

func pickHandoffZone(containing []zones.Zone, pos mathx.Vec3, pending map[zones.Ref]int, committed, globalCap int) (ref zones.Ref, out bool) {
	outside, eligible := false, false
	for _, z := range containing {
		pz, ok := z.(*zones.PlayerZone)
		if !ok {
			continue
		}
		if !pz.InsideSpawnArea(pos) {
			outside = true
			continue
		}
		eligible = true
		if committed >= globalCap {
			return zones.Ref{}, false
		}
		if pz.Occupancy+pending[pz.Ref()] < pz.Capacity {
			return pz.Ref(), false
		}
	}
	return zones.Ref{}, outside && !eligible
}

// respawnAtBorder turns a into a fresh agent on the world edge.
func (s *Simulation) respawnAtBorder(a *Agent) {
	a.Pos = s.zones.RandomBorderPoint(s.stepRng)
	a.Health = UnknownHealth
	prev := a.Inactive
	in := &Inactive{State: Idle}
	if prev != nil {
		in.LocalTime = prev.LocalTime
	}
	a.becomeInactive(in)
}
