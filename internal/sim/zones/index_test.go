package zones

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkersim.dev/internal/sim/mathx"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	return New(Options{
		Mins:           mathx.V(-500, 0, -500),
		Maxs:           mathx.V(500, 0, 500),
		Divider:        4,
		PlayerZoneSize: 50,
		BorderMargin:   10,
	}, []POIZone{
		{Name: "town", Pos: mathx.V(100, 0, 100), Radius: 30},
		{Name: "farm", Pos: mathx.V(-300, 0, 200), Radius: 20},
	})
}

func TestBuildWorldZones_Grid(t *testing.T) {
	ix := testIndex(t)
	require.Len(t, ix.WorldZones(), 16)

	z := ix.WorldZoneAt(mathx.V(-499, 0, -499))
	assert.Equal(t, 0, z.ID)
	z = ix.WorldZoneAt(mathx.V(499, 0, 499))
	assert.Equal(t, 15, z.ID)
	// outside the extent clamps to an edge cell
	z = ix.WorldZoneAt(mathx.V(10_000, 0, -10_000))
	assert.Equal(t, 3, z.ID)

	for _, wz := range ix.WorldZones() {
		assert.True(t, wz.Contains(wz.Center()), "zone %d center", wz.ID)
	}
}

func TestRandomPoint_InsideZone(t *testing.T) {
	ix := testIndex(t)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		wz := ix.RandomZone(rng)
		assert.True(t, wz.Contains(ix.RandomPoint(wz, rng)))
		poi, ok := ix.RandomPOI(rng)
		require.True(t, ok)
		assert.True(t, poi.Contains(ix.RandomPoint(poi, rng)))
	}
}

func TestRandomBorderPoint_OnSpawnEdge(t *testing.T) {
	ix := testIndex(t)
	rng := rand.New(rand.NewSource(2))
	r := ix.SpawnExtent()
	for i := 0; i < 100; i++ {
		p := ix.RandomBorderPoint(rng)
		onEdge := p.X <= r.Min.X+1e-3 || p.X >= r.Max.X-1e-3 || p.Z <= r.Min.Z+1e-3 || p.Z >= r.Max.Z-1e-3
		assert.True(t, onEdge, "%v", p)
		assert.True(t, ix.Extent().Contains(p))
	}
}

func TestPlayerZones_ContainingInIndexOrder(t *testing.T) {
	ix := testIndex(t)
	ix.UpdatePlayers([]PlayerPos{
		{ID: 7, Pos: mathx.V(0, 0, 0)},
		{ID: 3, Pos: mathx.V(20, 0, 0)},
	}, 10)

	got := ix.FindContaining(mathx.V(10, 0, 0))
	require.Len(t, got, 2)
	assert.Equal(t, Ref{Kind: KindPlayer, ID: 7}, got[0].Ref())
	assert.Equal(t, Ref{Kind: KindPlayer, ID: 3}, got[1].Ref())
	assert.Empty(t, ix.FindContaining(mathx.V(400, 0, 400)))

	for _, z := range ix.PlayerZones() {
		assert.Equal(t, 5, z.Capacity)
	}
}

func TestPlayerZones_InnerClippedToBorder(t *testing.T) {
	ix := testIndex(t)
	ix.UpdatePlayers([]PlayerPos{{ID: 1, Pos: mathx.V(480, 0, 0)}}, 4)
	pz := ix.PlayerZones()[0]

	edge := mathx.V(495, 0, 0)
	assert.True(t, pz.Contains(edge))
	assert.False(t, pz.InsideSpawnArea(edge))
	assert.True(t, pz.InsideSpawnArea(mathx.V(470, 0, 0)))
}

func TestPlayerZones_OccupancyCapped(t *testing.T) {
	ix := testIndex(t)
	ix.UpdatePlayers([]PlayerPos{{ID: 1}, {ID: 2, Pos: mathx.V(300, 0, 300)}}, 4)
	ref := Ref{Kind: KindPlayer, ID: 1}

	assert.True(t, ix.TryIncrement(ref))
	assert.True(t, ix.TryIncrement(ref))
	assert.False(t, ix.TryIncrement(ref))
	assert.False(t, ix.HasCapacity(ref, 0))

	ix.Decrement(ref)
	ix.Decrement(ref)
	ix.Decrement(ref)
	z, ok := ix.Resolve(ref)
	require.True(t, ok)
	assert.Equal(t, 0, z.(*PlayerZone).Occupancy)

	// Unknown and non-player refs never take occupancy.
	assert.False(t, ix.TryIncrement(Ref{Kind: KindPlayer, ID: 99}))
	assert.False(t, ix.TryIncrement(Ref{Kind: KindWorld, ID: 1}))
}

func TestPlayerZones_RemoveAndRecap(t *testing.T) {
	ix := testIndex(t)
	ix.UpdatePlayers([]PlayerPos{{ID: 1}, {ID: 2}}, 10)
	ix.RemovePlayer(2)
	require.Equal(t, 1, ix.PlayerCount())
	assert.Equal(t, 10, ix.PlayerZones()[0].Capacity)

	ix.UpdatePlayers(nil, 10)
	assert.Equal(t, 0, ix.PlayerCount())
	_, ok := ix.Resolve(Ref{Kind: KindPlayer, ID: 1})
	assert.False(t, ok)
}

func TestFindNearest(t *testing.T) {
	ix := testIndex(t)
	z, ok := ix.FindNearest(mathx.V(90, 0, 90), 200, KindPOI, Ref{})
	require.True(t, ok)
	assert.Equal(t, "town", z.(POIZone).Name)

	_, ok = ix.FindNearest(mathx.V(90, 0, 90), 200, KindPOI, z.Ref())
	assert.False(t, ok)

	ix.UpdatePlayers([]PlayerPos{{ID: 4, Pos: mathx.V(0, 0, 150)}}, 2)
	z, ok = ix.FindNearest(mathx.V(0, 0, 0), 200, KindPlayer, Ref{})
	require.True(t, ok)
	assert.Equal(t, 4, z.Ref().ID)
	_, ok = ix.FindNearest(mathx.V(0, 0, 0), 100, KindPlayer, Ref{})
	assert.False(t, ok)
}

func TestWrapPos(t *testing.T) {
	ix := testIndex(t)
	p := ix.WrapPos(mathx.V(600, 3, -700))
	assert.InDelta(t, -400, p.X, 1e-9)
	assert.InDelta(t, 300, p.Z, 1e-9)
	assert.Equal(t, 3.0, p.Y)
}
