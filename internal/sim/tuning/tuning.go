package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	UpdateInterval       int     `yaml:"update_interval" toml:"update_interval"`
	PauseWithoutPlayers  bool    `yaml:"pause_without_players" toml:"pause_without_players"`
	PauseDuringBloodMoon bool    `yaml:"pause_during_blood_moon" toml:"pause_during_blood_moon"`
	SpinupTicks          int     `yaml:"spinup_ticks" toml:"spinup_ticks"`
	Persistent           bool    `yaml:"persistent" toml:"persistent"`
	WorldZoneDivider     int     `yaml:"world_zone_divider" toml:"world_zone_divider"`
	POITravellerChance   float64 `yaml:"poi_traveller_chance" toml:"poi_traveller_chance"`
	PopulationDensity    int     `yaml:"population_density" toml:"population_density"`
	WalkSpeedScale       float64 `yaml:"walk_speed_scale" toml:"walk_speed_scale"`
	ReservedSpawns       float64 `yaml:"reserved_spawns" toml:"reserved_spawns"`
	MinIdleSeconds       int     `yaml:"min_idle_seconds" toml:"min_idle_seconds"`
	MaxIdleSeconds       int     `yaml:"max_idle_seconds" toml:"max_idle_seconds"`

	// InactiveWaitAtTarget is measured in agent-local simulation seconds.
	InactiveWaitAtTarget  float64 `yaml:"inactive_wait_at_target" toml:"inactive_wait_at_target"`
	MaxAliveMobs          int     `yaml:"max_alive_mobs" toml:"max_alive_mobs"`
	PlayerZoneSize        float64 `yaml:"player_zone_size" toml:"player_zone_size"`
	WorldBorderMargin     float64 `yaml:"world_border_margin" toml:"world_border_margin"`
	SpawnProtectionRadius float64 `yaml:"spawn_protection_radius" toml:"spawn_protection_radius"`

	// SoundDistance maps a noise source name to the radius it alerts.
	SoundDistance map[string]float64 `yaml:"sound_distance" toml:"sound_distance"`

	Telemetry          Telemetry     `yaml:"telemetry" toml:"telemetry"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" toml:"checkpoint_interval"`
	TargetScript       string        `yaml:"target_script" toml:"target_script"`
}

type Telemetry struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Encoding string `yaml:"encoding" toml:"encoding"`
}

func Defaults() Tuning {
	return Tuning{
		UpdateInterval:        60,
		PauseWithoutPlayers:   true,
		PauseDuringBloodMoon:  false,
		SpinupTicks:           10000,
		Persistent:            true,
		WorldZoneDivider:      32,
		POITravellerChance:    0.75,
		PopulationDensity:     40,
		WalkSpeedScale:        1.0,
		ReservedSpawns:        0.5,
		MinIdleSeconds:        5,
		MaxIdleSeconds:        25,
		InactiveWaitAtTarget:  900,
		MaxAliveMobs:          64,
		PlayerZoneSize:        96,
		WorldBorderMargin:     16,
		SpawnProtectionRadius: 50,
		SoundDistance: map[string]float64{
			"explosion": 400,
			"gunshot":   200,
			"door":      40,
			"footstep":  0,
		},
		Telemetry: Telemetry{
			Enabled:  true,
			Addr:     ":13632",
			Encoding: "json",
		},
		CheckpointInterval: 5 * time.Minute,
	}
}

// Load reads a tuning file on top of Defaults. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(raw), &t); err != nil {
			return t, fmt.Errorf("parse tuning %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse tuning %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning %s: %w", path, err)
	}
	return t, nil
}

// Validate clamps the probability fields and rejects values the simulation
// cannot run with.
func (t *Tuning) Validate() error {
	t.POITravellerChance = clamp01(t.POITravellerChance)
	t.ReservedSpawns = clamp01(t.ReservedSpawns)
	switch {
	case t.UpdateInterval <= 0:
		return fmt.Errorf("%w: update_interval must be > 0", ErrInvalid)
	case t.WorldZoneDivider <= 0:
		return fmt.Errorf("%w: world_zone_divider must be > 0", ErrInvalid)
	case t.PopulationDensity < 0:
		return fmt.Errorf("%w: population_density must be >= 0", ErrInvalid)
	case t.MinIdleSeconds < 0 || t.MinIdleSeconds > t.MaxIdleSeconds:
		return fmt.Errorf("%w: min_idle_seconds %d > max_idle_seconds %d", ErrInvalid, t.MinIdleSeconds, t.MaxIdleSeconds)
	case t.WalkSpeedScale < 0:
		return fmt.Errorf("%w: walk_speed_scale must be >= 0", ErrInvalid)
	case t.MaxAliveMobs < 0:
		return fmt.Errorf("%w: max_alive_mobs must be >= 0", ErrInvalid)
	case t.PlayerZoneSize <= 0:
		return fmt.Errorf("%w: player_zone_size must be > 0", ErrInvalid)
	}
	switch t.Telemetry.Encoding {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("%w: telemetry.encoding %q", ErrInvalid, t.Telemetry.Encoding)
	}
	if t.CheckpointInterval <= 0 {
		t.CheckpointInterval = 5 * time.Minute
	}
	return nil
}

// TickPeriod is the duration of one fixed simulation step.
func (t Tuning) TickPeriod() time.Duration {
	return time.Second / time.Duration(t.UpdateInterval)
}

// SoundRadius returns the configured alert radius for a noise source; unknown
// sources are silent.
func (t Tuning) SoundRadius(source string) float64 {
	return t.SoundDistance[source]
}

// GlobalActiveCap is the number of live agents the simulation may keep,
// leaving the reserved fraction of the host's mob budget untouched.
func (t Tuning) GlobalActiveCap() int {
	reserved := int(float64(t.MaxAliveMobs)*t.ReservedSpawns + 0.5)
	c := t.MaxAliveMobs - reserved
	if c < 0 {
		return 0
	}
	return c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
