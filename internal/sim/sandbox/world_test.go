package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkersim.dev/internal/sim/mathx"
)

func TestTerrain_Deterministic(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())
	for _, p := range [][2]float64{{0, 0}, {100, -300}, {-1500, 900}} {
		assert.Equal(t, a.TerrainHeight(p[0], p[1]), b.TerrainHeight(p[0], p[1]))
	}
	assert.Zero(t, a.TerrainHeight(1e6, 0))
	assert.Equal(t, a.PointsOfInterest(), b.PointsOfInterest())
}

func TestChunkLoaded_NearPlayersOnly(t *testing.T) {
	w := New(DefaultConfig())
	players := w.Players()
	require.Len(t, players, 2)

	p := players[0].Pos
	assert.True(t, w.ChunkLoaded(p.X, p.Z))
	w.MovePlayer(players[0].ID, mathx.V(-2000, 0, -2000))
	w.MovePlayer(players[1].ID, mathx.V(-2000, 0, -2000))
	assert.False(t, w.ChunkLoaded(1500, 1500))
}

func TestEntities_Lifecycle(t *testing.T) {
	w := New(DefaultConfig())
	pl := w.Players()[0]

	id, err := w.SpawnEntity(pl.Pos)
	require.NoError(t, err)
	e, ok := w.Entity(id)
	require.True(t, ok)
	assert.Equal(t, defaultHealth, e.Health)
	assert.False(t, e.Dead)

	require.NoError(t, w.SetHealth(id, 40))
	w.Kill(id)
	e, _ = w.Entity(id)
	assert.True(t, e.Dead)

	w.RemoveEntity(id)
	_, ok = w.Entity(id)
	assert.False(t, ok)
	assert.Error(t, w.SetHealth(id, 1))
}

func TestSetInvestigate_RejectsUnloaded(t *testing.T) {
	w := New(DefaultConfig())
	pl := w.Players()[0]
	id, err := w.SpawnEntity(pl.Pos)
	require.NoError(t, err)

	require.NoError(t, w.SetInvestigate(id, pl.Pos))
	e, _ := w.Entity(id)
	assert.True(t, e.HasInvestigate)

	assert.Error(t, w.SetInvestigate(id, mathx.V(1e6, 0, 1e6)))
	w.ClearInvestigate(id)
	e, _ = w.Entity(id)
	assert.False(t, e.HasInvestigate)
}

func TestBloodMoon(t *testing.T) {
	w := New(DefaultConfig())
	assert.False(t, w.IsBloodMoon())
	w.SetBloodMoon(true)
	assert.True(t, w.IsBloodMoon())
}

func TestUnavailable_RefusesSpawns(t *testing.T) {
	w := New(DefaultConfig())
	w.SetAvailable(false)
	assert.False(t, w.Available())
	_, err := w.SpawnEntity(mathx.V(0, 0, 0))
	assert.Error(t, err)
}
