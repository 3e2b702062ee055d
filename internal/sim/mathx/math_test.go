package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoveTowards_NoOvershoot(t *testing.T) {
	got := MoveTowards(V(0, 0, 0), V(10, 0, 0), 3)
	assert.InDelta(t, 3.0, got.X, 1e-9)

	got = MoveTowards(V(0, 0, 0), V(1, 0, 0), 3)
	assert.Equal(t, V(1, 0, 0), got)
}

func TestDist2D_IgnoresVertical(t *testing.T) {
	a := V(0, 100, 0)
	b := V(3, -50, 4)
	assert.InDelta(t, 5.0, a.Dist2D(b), 1e-9)
	assert.Greater(t, a.Dist(b), 100.0)
}

func TestWrap(t *testing.T) {
	assert.InDelta(t, 10.0, Wrap(110, 0, 100), 1e-9)
	assert.InDelta(t, 90.0, Wrap(-10, 0, 100), 1e-9)
	assert.InDelta(t, -40.0, Wrap(60, -50, 50), 1e-9)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, -1, FloorDiv(-1, 32))
	assert.Equal(t, 0, FloorDiv(31, 32))
	assert.Equal(t, 1, FloorDiv(32, 32))
}

func TestNormalize2D(t *testing.T) {
	n := V(3, 7, 4).Normalize2D()
	assert.InDelta(t, 1.0, n.Len(), 1e-9)
	assert.Equal(t, 0.0, n.Y)
	assert.Equal(t, Vec3{}, V(0, 5, 0).Normalize2D())
}

func TestUnitFromHash_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		u := UnitFromHash(Hash2(7, i, -i))
		if u < 0 || u >= 1 || math.IsNaN(u) {
			t.Fatalf("out of range: %v", u)
		}
	}
}
