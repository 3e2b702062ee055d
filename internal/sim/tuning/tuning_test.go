package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultFile(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Fingerprint(), got.Fingerprint())
	assert.Equal(t, 5*time.Minute, got.CheckpointInterval)
	assert.Equal(t, 400.0, got.SoundRadius("explosion"))
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.yaml")
	require.NoError(t, os.WriteFile(path, []byte("population_density: 10\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, got.PopulationDensity)
	assert.Equal(t, 60, got.UpdateInterval)
	assert.Equal(t, 32, got.WorldZoneDivider)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.toml")
	body := `
update_interval = 30
walk_speed_scale = 2.5
checkpoint_interval = "1m"

[telemetry]
encoding = "msgpack"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, got.UpdateInterval)
	assert.Equal(t, 2.5, got.WalkSpeedScale)
	assert.Equal(t, time.Minute, got.CheckpointInterval)
	assert.Equal(t, "msgpack", got.Telemetry.Encoding)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Tuning)
		wantErr bool
	}{
		{"defaults", func(*Tuning) {}, false},
		{"zero interval", func(t *Tuning) { t.UpdateInterval = 0 }, true},
		{"zero divider", func(t *Tuning) { t.WorldZoneDivider = 0 }, true},
		{"idle bounds inverted", func(t *Tuning) { t.MinIdleSeconds = 30 }, true},
		{"negative density", func(t *Tuning) { t.PopulationDensity = -1 }, true},
		{"bad encoding", func(t *Tuning) { t.Telemetry.Encoding = "xml" }, true},
		{"chance clamped", func(t *Tuning) { t.POITravellerChance = 4 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tu := Defaults()
			tc.mutate(&tu)
			err := tu.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
			assert.LessOrEqual(t, tu.POITravellerChance, 1.0)
		})
	}
}

func TestGlobalActiveCap(t *testing.T) {
	tu := Defaults()
	assert.Equal(t, 32, tu.GlobalActiveCap())
	tu.ReservedSpawns = 0
	assert.Equal(t, 64, tu.GlobalActiveCap())
	tu.ReservedSpawns = 1
	assert.Equal(t, 0, tu.GlobalActiveCap())
}

func TestFingerprintDiff(t *testing.T) {
	a := Defaults()
	b := Defaults()
	assert.Empty(t, a.Fingerprint().Diff(b.Fingerprint()))

	b.PopulationDensity = 41
	b.MaxIdleSeconds = 30
	assert.Equal(t, []string{"population_density", "max_idle_seconds"}, a.Fingerprint().Diff(b.Fingerprint()))

	// Non-simulation fields do not matter.
	c := Defaults()
	c.Telemetry.Addr = ":1"
	c.MaxAliveMobs = 8
	assert.Empty(t, a.Fingerprint().Diff(c.Fingerprint()))
}

func TestTickPeriod(t *testing.T) {
	tu := Defaults()
	tu.UpdateInterval = 20
	assert.Equal(t, 50*time.Millisecond, tu.TickPeriod())
}
