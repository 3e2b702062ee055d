package population

import (
	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/zones"
)

// UnknownHealth means the live entity's default health applies.
const UnknownHealth = -1

const maxVisited = 5

type InactiveState uint8

const (
	// Idle agents have no target and pick one on their next step.
	Idle InactiveState = iota
	Wandering
	Waiting
	Investigating
	// Queued agents sit in the spawn queue.
	Queued
)

func (s InactiveState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Wandering:
		return "wandering"
	case Waiting:
		return "waiting"
	case Investigating:
		return "investigating"
	case Queued:
		return "queued"
	}
	return "unknown"
}

// Agent carries exactly one of Inactive or Active.
type Agent struct {
	ID     int
	Pos    mathx.Vec3
	Health int

	Inactive *Inactive
	Active   *Active
}

type Inactive struct {
	State      InactiveState
	Target     mathx.Vec3
	TargetZone zones.Ref
	Visited    []zones.Ref

	// LocalTime is the agent's accumulated simulation time in seconds.
	LocalTime float64
	WaitUntil float64
	// RetryAt holds back hand-off after a failed spawn.
	RetryAt float64

	queuedFrom InactiveState
}

// Visit appends r to the visited history, evicting the oldest entry.
func (in *Inactive) Visit(r zones.Ref) {
	if !r.Valid() {
		return
	}
	if len(in.Visited) >= maxVisited {
		copy(in.Visited, in.Visited[1:])
		in.Visited = in.Visited[:maxVisited-1]
	}
	in.Visited = append(in.Visited, r)
}

type Active struct {
	Entity host.EntityID
	Zone   zones.Ref
	// ActivatedAt is world time; reset whenever a player zone still holds
	// the agent.
	ActivatedAt float64

	Behavior       Behavior
	Goal           mathx.Vec3
	HasGoal        bool
	ReachedInitial bool

	sinceCheck float64
	idleFor    float64
	idleWait   float64
}

func (a *Agent) becomeInactive(in *Inactive) {
	a.Active = nil
	a.Inactive = in
}

func (a *Agent) becomeActive(ac *Active) {
	a.Inactive = nil
	a.Active = ac
}
