package sandbox

import (
	"errors"
	"fmt"

	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
)

var errUnreachable = errors.New("investigate target unreachable")

func (w *World) SpawnEntity(pos mathx.Vec3) (host.EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.available {
		return 0, fmt.Errorf("spawn at %.0f,%.0f: world unloaded", pos.X, pos.Z)
	}
	id := w.nextID
	w.nextID++
	w.entities[id] = &entity{pos: pos, health: defaultHealth}
	return id, nil
}

func (w *World) RemoveEntity(id host.EntityID) {
	w.mu.Lock()
	delete(w.entities, id)
	w.mu.Unlock()
}

func (w *World) Entity(id host.EntityID) (host.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.Entity{}, false
	}
	return host.Entity{
		ID:             id,
		Pos:            e.pos,
		Health:         e.health,
		Dead:           e.health <= 0,
		Investigate:    e.investigate,
		HasInvestigate: e.hasInvestigate,
	}, true
}

func (w *World) SetHealth(id host.EntityID, health int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.ErrNoEntity
	}
	e.health = health
	return nil
}

// SetInvestigate accepts only targets on loaded land.
func (w *World) SetInvestigate(id host.EntityID, pos mathx.Vec3) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return host.ErrNoEntity
	}
	if w.height(pos.X, pos.Z) == 0 || !w.chunkLoadedLocked(pos.X, pos.Z) {
		return errUnreachable
	}
	e.investigate = pos
	e.hasInvestigate = true
	return nil
}

func (w *World) ClearInvestigate(id host.EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[id]; ok {
		e.hasInvestigate = false
		e.investigate = mathx.Vec3{}
	}
}

// Kill drops an entity's health to zero without removing it.
func (w *World) Kill(id host.EntityID) {
	_ = w.SetHealth(id, 0)
}

func (w *World) EntityCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entities)
}
