// Package sandbox is a self-contained host world: simplex-noise terrain,
// a handful of wandering players and trivially simple live entities. It lets
// the simulation run outside a game server and backs the integration tests.
package sandbox

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
)

const (
	ChunkSize      = 16.0
	defaultHealth  = 100
	entitySpeed    = 1.2
	dayLength      = 1200.0
	bloodMoonEvery = 7
)

type Config struct {
	Seed int64
	// HalfSize is half the side of the square world.
	HalfSize float64
	Players  int
	POIs     int
	// SeaLevel in [0,1]; terrain below it reports height 0.
	SeaLevel float64
	// LoadRadius is how far from a player chunks stay loaded.
	LoadRadius float64
	// DistractChance is the per-second chance a live entity gets pulled
	// towards the nearest player.
	DistractChance float64
}

func DefaultConfig() Config {
	return Config{
		Seed:           1,
		HalfSize:       2048,
		Players:        2,
		POIs:           24,
		SeaLevel:       0.2,
		LoadRadius:     160,
		DistractChance: 0.01,
	}
}

type entity struct {
	pos            mathx.Vec3
	health         int
	investigate    mathx.Vec3
	hasInvestigate bool
}

type player struct {
	id     int
	pos    mathx.Vec3
	spawn  mathx.Vec3
	target mathx.Vec3
}

var _ host.World = (*World)(nil)

type World struct {
	cfg   Config
	noise opensimplex.Noise
	pois  []host.POI

	mu        sync.Mutex
	rng       *rand.Rand
	available bool
	time      float64
	bloodMoon *bool
	players   []*player
	nextID    host.EntityID
	entities  map[host.EntityID]*entity
}

func New(cfg Config) *World {
	if cfg.HalfSize <= 0 {
		cfg.HalfSize = DefaultConfig().HalfSize
	}
	w := &World{
		cfg:       cfg,
		noise:     opensimplex.NewNormalized(cfg.Seed),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		available: true,
		nextID:    1,
		entities:  map[host.EntityID]*entity{},
	}
	w.pois = w.placePOIs(cfg.POIs)
	for i := 0; i < cfg.Players; i++ {
		w.addPlayerLocked(i + 1)
	}
	return w
}

func (w *World) placePOIs(n int) []host.POI {
	var out []host.POI
	for tries := 0; len(out) < n && tries < n*50; tries++ {
		p := w.randomLand()
		out = append(out, host.POI{
			Name:   fmt.Sprintf("poi-%02d", len(out)),
			Center: p,
			Radius: 16 + w.rng.Float64()*48,
		})
	}
	return out
}

func (w *World) randomLand() mathx.Vec3 {
	h := w.cfg.HalfSize
	for i := 0; i < 64; i++ {
		x := (w.rng.Float64()*2 - 1) * h * 0.9
		z := (w.rng.Float64()*2 - 1) * h * 0.9
		if y := w.height(x, z); y > 0 {
			return mathx.V(x, y, z)
		}
	}
	return mathx.V(0, w.height(0, 0), 0)
}

// height is deterministic and needs no lock.
func (w *World) height(x, z float64) float64 {
	const freq = 1.0 / 512
	n := 0.0
	amp := 1.0
	total := 0.0
	f := freq
	for o := 0; o < 4; o++ {
		n += w.noise.Eval2(x*f, z*f) * amp
		total += amp
		amp *= 0.5
		f *= 2
	}
	n /= total
	if n < w.cfg.SeaLevel {
		return 0
	}
	return math.Round(1 + (n-w.cfg.SeaLevel)*120)
}

func (w *World) inside(x, z float64) bool {
	h := w.cfg.HalfSize
	return x >= -h && x < h && z >= -h && z < h
}

func (w *World) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// SetAvailable simulates the world being unloaded.
func (w *World) SetAvailable(v bool) {
	w.mu.Lock()
	w.available = v
	w.mu.Unlock()
}

func (w *World) Extent() (mathx.Vec3, mathx.Vec3) {
	h := w.cfg.HalfSize
	return mathx.V(-h, 0, -h), mathx.V(h, 0, h)
}

func (w *World) PointsOfInterest() []host.POI {
	return append([]host.POI(nil), w.pois...)
}

func (w *World) Time() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.time
}

// IsBloodMoon is true during the night of every seventh day unless forced
// with SetBloodMoon.
func (w *World) IsBloodMoon() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bloodMoon != nil {
		return *w.bloodMoon
	}
	day := int(w.time/dayLength) + 1
	phase := math.Mod(w.time, dayLength) / dayLength
	return day%bloodMoonEvery == 0 && phase > 0.75
}

func (w *World) SetBloodMoon(on bool) {
	w.mu.Lock()
	w.bloodMoon = &on
	w.mu.Unlock()
}

func (w *World) TerrainHeight(x, z float64) float64 {
	if !w.inside(x, z) {
		return 0
	}
	return w.height(x, z)
}

func (w *World) ChunkLoaded(x, z float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunkLoadedLocked(x, z)
}

func (w *World) chunkLoadedLocked(x, z float64) bool {
	if !w.inside(x, z) {
		return false
	}
	cx := math.Floor(x/ChunkSize)*ChunkSize + ChunkSize/2
	cz := math.Floor(z/ChunkSize)*ChunkSize + ChunkSize/2
	c := mathx.V(cx, 0, cz)
	for _, p := range w.players {
		if p.pos.Dist2D(c) <= w.cfg.LoadRadius {
			return true
		}
	}
	return false
}

// CanSpawnMob rejects water, steep ground and a deterministic scatter of
// blocked cells standing in for buildings.
func (w *World) CanSpawnMob(pos mathx.Vec3) bool {
	h := w.TerrainHeight(pos.X, pos.Z)
	if h == 0 {
		return false
	}
	slope := math.Abs(w.TerrainHeight(pos.X+2, pos.Z)-h) + math.Abs(w.TerrainHeight(pos.X, pos.Z+2)-h)
	if slope > 6 {
		return false
	}
	cell := mathx.Hash2(w.cfg.Seed, int(math.Floor(pos.X/4)), int(math.Floor(pos.Z/4)))
	return mathx.UnitFromHash(cell) > 0.05
}
