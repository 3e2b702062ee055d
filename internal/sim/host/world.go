// Package host describes what the population simulation needs from the game
// world it runs inside. Implementations must be safe for concurrent use: the
// scheduler goroutine and the host frame callback both read from it.
package host

import (
	"errors"

	"walkersim.dev/internal/sim/mathx"
)

type EntityID int64

// ErrNoEntity is returned by entity mutators when the handle no longer
// resolves to a live entity.
var ErrNoEntity = errors.New("entity not found")

type Player struct {
	ID          int
	Pos         mathx.Vec3
	SpawnPoints []mathx.Vec3
}

type POI struct {
	Name   string
	Center mathx.Vec3
	Radius float64
}

// Entity is a point-in-time copy of a live entity.
type Entity struct {
	ID     EntityID
	Pos    mathx.Vec3
	Health int
	Dead   bool

	// Investigate is the entity's current investigate-position target.
	Investigate    mathx.Vec3
	HasInvestigate bool
}

type World interface {
	// Available reports whether the world is still loaded.
	Available() bool

	// Extent returns the playable XZ bounds.
	Extent() (mins, maxs mathx.Vec3)

	Players() []Player
	PointsOfInterest() []POI

	// Time is the world clock in seconds.
	Time() float64
	IsBloodMoon() bool

	// TerrainHeight returns 0 where no terrain is known.
	TerrainHeight(x, z float64) float64
	ChunkLoaded(x, z float64) bool
	CanSpawnMob(pos mathx.Vec3) bool

	SpawnEntity(pos mathx.Vec3) (EntityID, error)
	RemoveEntity(id EntityID)
	Entity(id EntityID) (Entity, bool)
	SetHealth(id EntityID, health int) error

	// SetInvestigate commits pos as the entity's investigate target. It
	// fails when the entity's navigation cannot accept the position.
	SetInvestigate(id EntityID, pos mathx.Vec3) error
	ClearInvestigate(id EntityID)
}
