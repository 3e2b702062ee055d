package population

import (
	"math"

	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
)

type Behavior uint8

const (
	BehaviorInitialApproach Behavior = iota
	BehaviorIdle
	BehaviorWalkOut
	BehaviorDistracted
	BehaviorStaying
	BehaviorWantsDespawn
)

func (b Behavior) String() string {
	switch b {
	case BehaviorInitialApproach:
		return "initial_approach"
	case BehaviorIdle:
		return "idle"
	case BehaviorWalkOut:
		return "walk_out"
	case BehaviorDistracted:
		return "distracted"
	case BehaviorStaying:
		return "staying"
	case BehaviorWantsDespawn:
		return "wants_despawn"
	}
	return "unknown"
}

// Terminal behaviours are despawned by the next maintenance pass.
func (b Behavior) Terminal() bool {
	return b == BehaviorStaying || b == BehaviorWantsDespawn
}

const (
	behaviorCheckInterval = 5.0
	approachRadius        = 25.0
	probeStep             = 5.0
	probeSteps            = 12
	// goalTolerance absorbs float noise when comparing the entity's
	// investigate target with the intended goal.
	goalTolerance = 0.5
)

// Probe answers terrain questions for WalkOut. host.World satisfies it.
type Probe interface {
	TerrainHeight(x, z float64) float64
	CanSpawnMob(pos mathx.Vec3) bool
}

type commandKind uint8

const (
	cmdClearInvestigate commandKind = iota + 1
	cmdInvestigate
	// cmdCommit tries candidates in order until the entity accepts one.
	cmdCommit
)

type command struct {
	kind       commandKind
	pos        mathx.Vec3
	candidates []mathx.Vec3
}

// observation is everything decide may look at besides the agent itself.
type observation struct {
	AgentID    int
	Entity     host.Entity
	ZoneCenter mathx.Vec3
	HasZone    bool
	Dt         float64
	// Roll is a uniform [0,1) draw used when a random duration is needed.
	Roll float64
}

type fsm struct {
	checkInterval  float64
	minIdle        float64
	maxIdle        float64
	approachRadius float64
}

// decide advances one active agent's behaviour. It reads only its inputs
// and the probe, and returns the next state plus the entity commands the
// caller must apply.
func (f fsm) decide(st Active, obs observation, probe Probe) (Active, []command) {
	if st.Behavior == BehaviorIdle {
		st.idleFor += obs.Dt
		if st.idleFor < st.idleWait {
			return st, nil
		}
		st.Behavior = BehaviorWalkOut
		st.HasGoal = false
		st.sinceCheck = 0
		return f.walkOut(st, obs, probe)
	}

	st.sinceCheck += obs.Dt
	if st.sinceCheck < f.checkInterval {
		return st, nil
	}
	st.sinceCheck = 0

	e := obs.Entity
	switch st.Behavior {
	case BehaviorInitialApproach:
		arrived := st.HasGoal && e.Pos.Dist(st.Goal) <= f.approachRadius
		// distraction wins over arrival so a foreign target survives; a
		// target the host cleared next to the goal counts as arrival
		if st.HasGoal && f.distracted(st, e) && (e.HasInvestigate || !arrived) {
			st.Behavior = BehaviorDistracted
			return st, nil
		}
		if !st.HasGoal || arrived {
			st.HasGoal = false
			st.ReachedInitial = true
			st.Behavior = BehaviorIdle
			st.idleFor = 0
			st.idleWait = f.minIdle + obs.Roll*(f.maxIdle-f.minIdle)
			return st, []command{{kind: cmdClearInvestigate}}
		}
	case BehaviorWalkOut:
		if st.HasGoal && e.HasInvestigate && !e.Investigate.Near(st.Goal, goalTolerance) {
			st.Behavior = BehaviorDistracted
			return st, nil
		}
		if !st.HasGoal || !e.HasInvestigate {
			return f.walkOut(st, obs, probe)
		}
	case BehaviorDistracted:
		if e.HasInvestigate {
			return st, nil
		}
		var cmds []command
		if st.HasGoal {
			cmds = append(cmds, command{kind: cmdInvestigate, pos: st.Goal})
		}
		if st.ReachedInitial {
			st.Behavior = BehaviorWalkOut
		} else {
			st.Behavior = BehaviorInitialApproach
		}
		return st, cmds
	case BehaviorIdle, BehaviorStaying, BehaviorWantsDespawn:
	}
	return st, nil
}

// distracted reports whether the entity is no longer heading for the
// intended goal.
func (f fsm) distracted(st Active, e host.Entity) bool {
	return !e.HasInvestigate || !e.Investigate.Near(st.Goal, goalTolerance)
}

// walkOut probes outward from the zone center and asks the caller to commit
// the farthest placeable point, dialing back towards the entity on failure.
func (f fsm) walkOut(st Active, obs observation, probe Probe) (Active, []command) {
	dir := walkOutDirection(obs)
	origin := obs.Entity.Pos
	var candidates []mathx.Vec3
	anyHeight := false
	for k := probeSteps; k >= 1; k-- {
		p := origin.Add(dir.Scale(probeStep * float64(k)))
		h := probe.TerrainHeight(p.X, p.Z)
		if h == 0 {
			continue
		}
		anyHeight = true
		p.Y = h + 1
		if probe.CanSpawnMob(p) {
			candidates = append(candidates, p)
		}
	}
	switch {
	case !anyHeight:
		st.Behavior = BehaviorWantsDespawn
		st.HasGoal = false
		return st, nil
	case len(candidates) == 0:
		st.HasGoal = false
		return st, nil
	}
	st.Goal = candidates[0]
	st.HasGoal = true
	return st, []command{{kind: cmdCommit, candidates: candidates}}
}

// walkOutDirection points away from the zone center. Agents standing on
// the center get a fixed per-agent bearing.
func walkOutDirection(obs observation) mathx.Vec3 {
	if obs.HasZone {
		if d := obs.Entity.Pos.Sub(obs.ZoneCenter).Normalize2D(); d != (mathx.Vec3{}) {
			return d
		}
	}
	a := float64(obs.AgentID) * 2.399963229728653
	return mathx.V(math.Cos(a), 0, math.Sin(a))
}
