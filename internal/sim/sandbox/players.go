package sandbox

import (
	"walkersim.dev/internal/sim/host"
	"walkersim.dev/internal/sim/mathx"
)

const playerSpeed = 3.0

func (w *World) addPlayerLocked(id int) {
	pos := w.randomLand()
	w.players = append(w.players, &player{id: id, pos: pos, spawn: pos, target: pos})
}

func (w *World) AddPlayer(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		if p.id == id {
			return
		}
	}
	w.addPlayerLocked(id)
}

func (w *World) RemovePlayer(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.players {
		if p.id == id {
			w.players = append(w.players[:i], w.players[i+1:]...)
			return
		}
	}
}

// MovePlayer teleports a player; its spawn point stays where it was.
func (w *World) MovePlayer(id int, pos mathx.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		if p.id == id {
			p.pos = pos
			p.target = pos
		}
	}
}

func (w *World) Players() []host.Player {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]host.Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, host.Player{ID: p.id, Pos: p.pos, SpawnPoints: []mathx.Vec3{p.spawn}})
	}
	return out
}

// Advance moves the world clock, players and live entities forward by dt
// seconds.
func (w *World) Advance(dt float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.available {
		return
	}
	w.time += dt
	for _, p := range w.players {
		if p.pos.Dist2D(p.target) < 1 {
			p.target = w.randomLand()
		}
		p.pos = mathx.MoveTowards(p.pos, p.target, playerSpeed*dt)
		p.pos.Y = w.height(p.pos.X, p.pos.Z)
	}
	for _, e := range w.entities {
		if e.health <= 0 {
			continue
		}
		if w.rng.Float64() < w.cfg.DistractChance*dt {
			if p := w.nearestPlayerLocked(e.pos); p != nil {
				e.investigate = p.pos
				e.hasInvestigate = true
			}
		}
		if !e.hasInvestigate {
			continue
		}
		e.pos = mathx.MoveTowards(e.pos, e.investigate, entitySpeed*dt)
		if e.pos.Dist2D(e.investigate) < 1 {
			e.hasInvestigate = false
			e.investigate = mathx.Vec3{}
		}
	}
}

func (w *World) nearestPlayerLocked(pos mathx.Vec3) *player {
	var best *player
	for _, p := range w.players {
		if best == nil || p.pos.Dist2D(pos) < best.pos.Dist2D(pos) {
			best = p
		}
	}
	return best
}
