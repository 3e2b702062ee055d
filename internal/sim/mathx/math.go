package mathx

import "math"

// Vec3 is a world-space position. Y is the vertical axis; the simulation
// plane is X/Z.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }

func (a Vec3) Scale(s float64) Vec3 { return Vec3{X: a.X * s, Y: a.Y * s, Z: a.Z * s} }

func (a Vec3) Len() float64 { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }

// Len2D ignores the vertical axis.
func (a Vec3) Len2D() float64 { return math.Sqrt(a.X*a.X + a.Z*a.Z) }

func (a Vec3) Dist(b Vec3) float64 { return a.Sub(b).Len() }

func (a Vec3) Dist2D(b Vec3) float64 { return a.Sub(b).Len2D() }

// Flat drops the vertical component.
func (a Vec3) Flat() Vec3 { return Vec3{X: a.X, Z: a.Z} }

// Normalize2D returns the unit direction on the X/Z plane, or the zero
// vector when a has no horizontal length.
func (a Vec3) Normalize2D() Vec3 {
	l := a.Len2D()
	if l == 0 {
		return Vec3{}
	}
	return Vec3{X: a.X / l, Z: a.Z / l}
}

func (a Vec3) Array() [3]float64 { return [3]float64{a.X, a.Y, a.Z} }

// Near reports whether a and b are within eps of each other.
func (a Vec3) Near(b Vec3, eps float64) bool { return a.Dist(b) <= eps }

// MoveTowards moves current towards target by at most maxDelta and never
// overshoots.
func MoveTowards(current, target Vec3, maxDelta float64) Vec3 {
	d := target.Sub(current)
	dist := d.Len()
	if dist <= maxDelta || dist == 0 {
		return target
	}
	return current.Add(d.Scale(maxDelta / dist))
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

// Wrap maps v into [lo, hi) treating the range as periodic.
func Wrap(v, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	m := math.Mod(v-lo, span)
	if m < 0 {
		m += span
	}
	return m + lo
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 is a stateless integer hash used where a stable pseudo random value
// per (seed, x, z) is needed without touching a shared rng.
func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// UnitFromHash maps h to [0,1).
func UnitFromHash(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}
