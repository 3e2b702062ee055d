// Package zones partitions the world into the regions agents travel between
// and the player-centred regions that bound the live population.
package zones

import (
	"math"
	"math/rand"

	"walkersim.dev/internal/sim/mathx"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindWorld
	KindPlayer
	KindPOI
)

func (k Kind) String() string {
	switch k {
	case KindWorld:
		return "world"
	case KindPlayer:
		return "player"
	case KindPOI:
		return "poi"
	default:
		return "none"
	}
}

// Ref identifies a zone without pointing at it. For player zones ID is the
// player id, so a ref stays meaningful while the zone moves with its player.
type Ref struct {
	Kind Kind
	ID   int
}

func (r Ref) Valid() bool { return r.Kind != KindNone }

// Zone is implemented by WorldZone, PlayerZone and POIZone only.
type Zone interface {
	Ref() Ref
	Center() mathx.Vec3
	Contains(p mathx.Vec3) bool
	RandomPoint(rng *rand.Rand) mathx.Vec3
	zone()
}

// Rect is an axis aligned region on the X/Z plane.
type Rect struct {
	Min mathx.Vec3
	Max mathx.Vec3
}

func (r Rect) Contains(p mathx.Vec3) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Z >= r.Min.Z && p.Z < r.Max.Z
}

func (r Rect) Center() mathx.Vec3 {
	return mathx.V((r.Min.X+r.Max.X)/2, 0, (r.Min.Z+r.Max.Z)/2)
}

func (r Rect) Empty() bool { return r.Max.X <= r.Min.X || r.Max.Z <= r.Min.Z }

func (r Rect) RandomPoint(rng *rand.Rand) mathx.Vec3 {
	return mathx.V(
		r.Min.X+rng.Float64()*(r.Max.X-r.Min.X),
		0,
		r.Min.Z+rng.Float64()*(r.Max.Z-r.Min.Z),
	)
}

// Intersect returns the overlap of r and o, which may be Empty.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		Min: mathx.V(max(r.Min.X, o.Min.X), 0, max(r.Min.Z, o.Min.Z)),
		Max: mathx.V(min(r.Max.X, o.Max.X), 0, min(r.Max.Z, o.Max.Z)),
	}
}

// Shrink moves every edge inwards by m.
func (r Rect) Shrink(m float64) Rect {
	return Rect{
		Min: mathx.V(r.Min.X+m, 0, r.Min.Z+m),
		Max: mathx.V(r.Max.X-m, 0, r.Max.Z-m),
	}
}

func (r Rect) Clamp(p mathx.Vec3) mathx.Vec3 {
	p.X = mathx.Clamp(p.X, r.Min.X, r.Max.X)
	p.Z = mathx.Clamp(p.Z, r.Min.Z, r.Max.Z)
	return p
}

func (r Rect) AreaKm2() float64 {
	return (r.Max.X - r.Min.X) * (r.Max.Z - r.Min.Z) / 1e6
}

type WorldZone struct {
	ID     int
	Bounds Rect
}

func (z WorldZone) Ref() Ref { return Ref{Kind: KindWorld, ID: z.ID} }
func (z WorldZone) Center() mathx.Vec3 { return z.Bounds.Center() }
func (z WorldZone) Contains(p mathx.Vec3) bool { return z.Bounds.Contains(p) }
func (z WorldZone) RandomPoint(rng *rand.Rand) mathx.Vec3 { return z.Bounds.RandomPoint(rng) }
func (WorldZone) zone() {}

type POIZone struct {
	ID     int
	Name   string
	Pos    mathx.Vec3
	Radius float64
}

func (z POIZone) Ref() Ref { return Ref{Kind: KindPOI, ID: z.ID} }
func (z POIZone) Center() mathx.Vec3 { return z.Pos }
func (z POIZone) Contains(p mathx.Vec3) bool {
	return z.Pos.Dist2D(p) <= z.Radius
}

// RandomPoint picks uniformly inside the POI's circle.
func (z POIZone) RandomPoint(rng *rand.Rand) mathx.Vec3 {
	// sqrt keeps the density uniform over the disc
	r := z.Radius * math.Sqrt(rng.Float64())
	a := rng.Float64() * 2 * math.Pi
	return mathx.V(z.Pos.X+r*math.Cos(a), z.Pos.Y, z.Pos.Z+r*math.Sin(a))
}
func (POIZone) zone() {}

// PlayerZone is a copy of a player's zone as of the last Update.
type PlayerZone struct {
	PlayerID  int
	Pos       mathx.Vec3
	Outer     Rect
	Inner     Rect
	Occupancy int
	Capacity  int
}

func (z *PlayerZone) Ref() Ref { return Ref{Kind: KindPlayer, ID: z.PlayerID} }
func (z *PlayerZone) Center() mathx.Vec3 { return z.Outer.Center() }
func (z *PlayerZone) Contains(p mathx.Vec3) bool { return z.Outer.Contains(p) }
func (z *PlayerZone) InsideSpawnArea(p mathx.Vec3) bool { return z.Inner.Contains(p) }
func (z *PlayerZone) HasCapacity() bool { return z.Occupancy < z.Capacity }
func (z *PlayerZone) zone() {}

// RandomPoint picks from the spawn-eligible region, falling back to the
// outer square when the inner region is empty.
func (z *PlayerZone) RandomPoint(rng *rand.Rand) mathx.Vec3 {
	if z.Inner.Empty() {
		return z.Outer.RandomPoint(rng)
	}
	return z.Inner.RandomPoint(rng)
}
