package population

import (
	"errors"
	"sync"

	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
)

type fakeEntity struct {
	pos         mathx.Vec3
	health      int
	investigate *mathx.Vec3
}

// fakeWorld is a flat 1000x1000 world with every hook overridable.
type fakeWorld struct {
	mu        sync.Mutex
	available bool
	now       float64
	bloodMoon bool
	players   []host.Player
	pois      []host.POI

	height      func(x, z float64) float64
	loaded      func(x, z float64) bool
	canSpawn    func(p mathx.Vec3) bool
	investigate func(p mathx.Vec3) error

	nextID   host.EntityID
	entities map[host.EntityID]*fakeEntity
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		available: true,
		pois: []host.POI{
			{Name: "a", Center: mathx.V(200, 0, 200), Radius: 20},
			{Name: "b", Center: mathx.V(-300, 0, -100), Radius: 30},
		},
		height:   func(float64, float64) float64 { return 10 },
		loaded:   func(float64, float64) bool { return true },
		canSpawn: func(mathx.Vec3) bool { return true },
		investigate: func(mathx.Vec3) error {
			return nil
		},
		nextID:   1,
		entities: map[host.EntityID]*fakeEntity{},
	}
}

func (w *fakeWorld) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

func (w *fakeWorld) Extent() (mathx.Vec3, mathx.Vec3) {
	return mathx.V(-500, 0, -500), mathx.V(500, 0, 500)
}

func (w *fakeWorld) Players() []host.Player {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]host.Player(nil), w.players...)
}

func (w *fakeWorld) setPlayers(ps ...host.Player) {
	w.mu.Lock()
	w.players = ps
	w.mu.Unlock()
}

func (w *fakeWorld) PointsOfInterest() []host.POI { return w.pois }

func (w *fakeWorld) Time() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *fakeWorld) advance(dt float64) {
	w.mu.Lock()
	w.now += dt
	w.mu.Unlock()
}

func (w *fakeWorld) IsBloodMoon() bool { return w.bloodMoon }

func (w *fakeWorld) TerrainHeight(x, z float64) float64 { return w.height(x, z) }
func (w *fakeWorld) ChunkLoaded(x, z float64) bool { return w.loaded(x, z) }
func (w *fakeWorld) CanSpawnMob(p mathx.Vec3) bool { return w.canSpawn(p) }

func (w *fakeWorld) SpawnEntity(pos mathx.Vec3) (host.EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.entities[id] = &fakeEntity{pos: pos, health: 100}
	return id, nil
}

func (w *fakeWorld) RemoveEntity(id host.EntityID) {
	w.mu.Lock()
	delete(w.entities, id)
	w.mu.Unlock()
}

func (w *fakeWorld) Entity(id host.EntityID) (host.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.Entity{}, false
	}
	out := host.Entity{ID: id, Pos: e.pos, Health: e.health, Dead: e.health <= 0}
	if e.investigate != nil {
		out.Investigate = *e.investigate
		out.HasInvestigate = true
	}
	return out, true
}

func (w *fakeWorld) SetHealth(id host.EntityID, health int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.ErrNoEntity
	}
	e.health = health
	return nil
}

func (w *fakeWorld) SetInvestigate(id host.EntityID, pos mathx.Vec3) error {
	if err := w.investigate(pos); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.ErrNoEntity
	}
	e.investigate = &pos
	return nil
}

func (w *fakeWorld) ClearInvestigate(id host.EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[id]; ok {
		e.investigate = nil
	}
}

func (w *fakeWorld) moveEntity(id host.EntityID, pos mathx.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[id]; ok {
		e.pos = pos
	}
}

func (w *fakeWorld) entityCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entities)
}

var errRejected = errors.New("rejected")
