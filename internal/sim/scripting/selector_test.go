package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/zones"
)

const script = `
function choose_target(ctx)
  if ctx.blood_moon then
    return "player"
  end
  if ctx.last_visited == "poi" then
    return "world"
  end
  if ctx.visited >= 3 then
    return "poi"
  end
  if ctx.x < 0 then
    return nil
  end
  return "world"
end
`

func TestSelectTarget(t *testing.T) {
	s, err := LoadString(script, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	q := population.TargetQuery{AgentID: 7, Pos: mathx.V(10, 0, 0)}
	assert.Equal(t, population.TargetWorld, s.SelectTarget(q))

	q.Pos = mathx.V(-10, 0, 0)
	assert.Equal(t, population.TargetDefault, s.SelectTarget(q))

	q.Visited = []zones.Ref{{Kind: zones.KindWorld, ID: 1}, {Kind: zones.KindWorld, ID: 2}, {Kind: zones.KindWorld, ID: 3}}
	assert.Equal(t, population.TargetPOI, s.SelectTarget(q))

	q.Visited = []zones.Ref{{Kind: zones.KindPOI, ID: 1}}
	assert.Equal(t, population.TargetWorld, s.SelectTarget(q))

	q.BloodMoon = true
	assert.Equal(t, population.TargetPlayer, s.SelectTarget(q))
	assert.Equal(t, 0, s.Failures())
}

func TestSelectTarget_ErrorsFallBack(t *testing.T) {
	s, err := LoadString(`
function choose_target(ctx)
  if ctx.id == 1 then error("boom") end
  return "lava"
end`, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, population.TargetDefault, s.SelectTarget(population.TargetQuery{AgentID: 1}))
	assert.Equal(t, population.TargetDefault, s.SelectTarget(population.TargetQuery{AgentID: 2}))
	assert.Equal(t, 2, s.Failures())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.lua")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	s, err := Load(path, nil)
	require.NoError(t, err)
	s.Close()

	_, err = Load(filepath.Join(dir, "missing.lua"), nil)
	assert.Error(t, err)

	_, err = LoadString(`x = 1`, nil)
	assert.ErrorContains(t, err, "choose_target")

	_, err = LoadString(`function choose_target(`, nil)
	assert.Error(t, err)
}

func TestSandboxedLibs(t *testing.T) {
	_, err := LoadString(`os.exit(1) function choose_target() end`, nil)
	assert.Error(t, err)
}
