package population

import (
	"fmt"

	"go.uber.org/zap"

	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/zones"
)

// Update is the host frame callback: it refreshes world-derived state,
// reclaims finished live agents, materializes at most MaxSpawnsPerTick
// queued agents and advances the live behaviours. dt is the frame time in
// seconds. It never performs file or network I/O.
func (s *Simulation) Update(dt float64) {
	if !s.world.Available() {
		return
	}
	s.state.SetBloodMoon(s.world.IsBloodMoon())
	s.syncPlayers()

	now := s.world.Time()
	s.maintain(now)
	s.drainSpawns(now)
	s.runBehaviors(dt)
}

func (s *Simulation) syncPlayers() {
	players := s.world.Players()
	pos := make([]zones.PlayerPos, len(players))
	for i, p := range players {
		pos[i] = zones.PlayerPos{ID: p.ID, Pos: p.Pos}
	}
	s.zones.UpdatePlayers(pos, s.tun.GlobalActiveCap())
}

// maintain reclaims dead, terminal and out-of-zone live agents and
// re-attributes zone occupancy for the rest.
func (s *Simulation) maintain(now float64) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	kept := s.active[:0]
	for _, a := range s.active {
		ac := a.Active
		s.zones.Decrement(ac.Zone)
		ac.Zone = zones.Ref{}

		e, ok := s.world.Entity(ac.Entity)
		if !ok || e.Dead {
			if ok {
				s.world.RemoveEntity(ac.Entity)
			}
			s.stats.deaths.Add(1)
			s.record(a, EventDied, "")
			s.log.Debug("active agent lost", zap.Int("agent", a.ID), zap.Bool("entity_found", ok))
			s.activeCount.Add(-1)
			s.respawnAtBorderHost(a)
			s.pushReturning(a)
			continue
		}
		a.Pos = e.Pos
		a.Health = e.Health

		containing := s.zones.FindContaining(e.Pos)
		aged := now-ac.ActivatedAt >= MinActiveLifetime
		// terminal behaviours skip the lifetime check and go on this pass
		if ac.Behavior.Terminal() || (len(containing) == 0 && aged) {
			s.world.RemoveEntity(ac.Entity)
			s.stats.despawns.Add(1)
			s.record(a, EventDespawned, ac.Behavior.String())
			s.log.Debug("active agent despawned",
				zap.Int("agent", a.ID),
				zap.Stringer("behavior", ac.Behavior),
				zap.Float64("age", now-ac.ActivatedAt))
			s.activeCount.Add(-1)
			a.becomeInactive(&Inactive{State: Idle})
			s.pushReturning(a)
			continue
		}
		for _, z := range containing {
			if s.zones.TryIncrement(z.Ref()) {
				ac.Zone = z.Ref()
				break
			}
		}
		if len(containing) > 0 {
			ac.ActivatedAt = now
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
}

// respawnAtBorderHost is respawnAtBorder for the host goroutine.
func (s *Simulation) respawnAtBorderHost(a *Agent) {
	a.Pos = s.zones.RandomBorderPoint(s.hostRng)
	a.Health = UnknownHealth
	a.becomeInactive(&Inactive{State: Idle})
}

func (s *Simulation) drainSpawns(now float64) {
	for i := 0; i < MaxSpawnsPerTick; i++ {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.queueMu.Unlock()
			return
		}
		req := s.queue[0]
		s.queue[0] = spawnRequest{}
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		if err := s.materialize(req, now); err != nil {
			s.stats.spawnFailed.Add(1)
			s.record(req.agent, EventSpawnFailed, err.Error())
			s.log.Debug("spawn failed", zap.Int("agent", req.agent.ID), zap.Error(err))
			in := req.agent.Inactive
			in.State = in.queuedFrom
			in.RetryAt = in.LocalTime + spawnRetry
			s.pushReturning(req.agent)
		}
	}
}

// QueueLen is the number of agents waiting to be materialized.
func (s *Simulation) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// materialize turns a queued agent into a live entity. On error the agent
// is untouched.
func (s *Simulation) materialize(req spawnRequest, now float64) error {
	a := req.agent
	if !s.world.Available() {
		return ErrWorldUnavailable
	}
	z, ok := s.zones.Resolve(req.zone)
	if !ok {
		return fmt.Errorf("zone %v gone: %w", req.zone, ErrCapacity)
	}
	if int(s.activeCount.Load()) >= s.tun.GlobalActiveCap() {
		return fmt.Errorf("global cap %d: %w", s.tun.GlobalActiveCap(), ErrCapacity)
	}
	if !s.zones.HasCapacity(req.zone, 0) {
		return fmt.Errorf("zone %v full: %w", req.zone, ErrCapacity)
	}
	if !s.world.ChunkLoaded(a.Pos.X, a.Pos.Z) {
		return ErrChunkNotLoaded
	}
	h := s.world.TerrainHeight(a.Pos.X, a.Pos.Z)
	if h == 0 {
		return fmt.Errorf("no terrain at %.1f,%.1f: %w", a.Pos.X, a.Pos.Z, ErrPlacement)
	}
	pos := mathx.V(a.Pos.X, h+1, a.Pos.Z)
	if !s.world.CanSpawnMob(pos) {
		return fmt.Errorf("mob placement at %.1f,%.1f: %w", pos.X, pos.Z, ErrPlacement)
	}
	if s.nearSpawnPoint(pos) {
		return fmt.Errorf("inside spawn protection: %w", ErrPlacement)
	}
	if !s.zones.TryIncrement(req.zone) {
		return fmt.Errorf("zone %v full: %w", req.zone, ErrCapacity)
	}
	id, err := s.world.SpawnEntity(pos)
	if err != nil {
		s.zones.Decrement(req.zone)
		return fmt.Errorf("spawn entity: %w", err)
	}

	health := a.Health
	if health != UnknownHealth {
		if err := s.world.SetHealth(id, health); err != nil {
			s.log.Debug("restore health", zap.Int("agent", a.ID), zap.Error(err))
		}
	} else if e, ok := s.world.Entity(id); ok {
		health = e.Health
	}

	ac := &Active{
		Entity:      id,
		Zone:        req.zone,
		ActivatedAt: now,
		Behavior:    BehaviorInitialApproach,
	}
	goal := z.RandomPoint(s.hostRng)
	goal.Y = s.world.TerrainHeight(goal.X, goal.Z) + 1
	if err := s.world.SetInvestigate(id, goal); err == nil {
		ac.Goal = goal
		ac.HasGoal = true
	}

	a.Pos = pos
	a.Health = health
	a.becomeActive(ac)
	s.activeCount.Add(1)

	s.activeMu.Lock()
	s.active = append(s.active, a)
	s.activeMu.Unlock()

	s.stats.activations.Add(1)
	s.record(a, EventActivated, fmt.Sprintf("player:%d", req.zone.ID))
	return nil
}

func (s *Simulation) nearSpawnPoint(pos mathx.Vec3) bool {
	r := s.tun.SpawnProtectionRadius
	if r <= 0 {
		return false
	}
	for _, p := range s.world.Players() {
		for _, sp := range p.SpawnPoints {
			if sp.Dist(pos) < r {
				return true
			}
		}
	}
	return false
}

func (s *Simulation) runBehaviors(dt float64) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for _, a := range s.active {
		ac := a.Active
		e, ok := s.world.Entity(ac.Entity)
		if !ok || e.Dead {
			continue
		}
		obs := observation{
			AgentID: a.ID,
			Entity:  e,
			Dt:      dt,
			Roll:    s.hostRng.Float64(),
		}
		if z, ok := s.zones.Resolve(ac.Zone); ok {
			obs.ZoneCenter = z.Center()
			obs.HasZone = true
		}
		prev := ac.Behavior
		next, cmds := s.fsm.decide(*ac, obs, s.world)
		*ac = next
		for _, c := range cmds {
			s.apply(a, c)
		}
		if ac.Behavior != prev {
			s.record(a, EventBehavior, ac.Behavior.String())
			s.log.Debug("behavior changed",
				zap.Int("agent", a.ID),
				zap.Stringer("from", prev),
				zap.Stringer("to", ac.Behavior))
		}
	}
}

func (s *Simulation) apply(a *Agent, c command) {
	ac := a.Active
	switch c.kind {
	case cmdClearInvestigate:
		s.world.ClearInvestigate(ac.Entity)
	case cmdInvestigate:
		if err := s.world.SetInvestigate(ac.Entity, c.pos); err != nil {
			s.log.Debug("reassert goal", zap.Int("agent", a.ID), zap.Error(err))
		}
	case cmdCommit:
		for _, p := range c.candidates {
			if err := s.world.SetInvestigate(ac.Entity, p); err == nil {
				ac.Goal = p
				ac.HasGoal = true
				return
			}
		}
		ac.HasGoal = false
		ac.Behavior = BehaviorStaying
	}
}
