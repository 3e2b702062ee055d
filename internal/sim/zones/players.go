package zones

import (
	"walkersim.dev/internal/sim/mathx"
)

func (ix *Index) playerLocked(id int) *PlayerZone {
	for _, z := range ix.players {
		if z.PlayerID == id {
			return z
		}
	}
	return nil
}

func (ix *Index) placeLocked(z *PlayerZone, pos mathx.Vec3) {
	z.Pos = pos
	z.Outer = Rect{
		Min: mathx.V(pos.X-ix.halfSize, 0, pos.Z-ix.halfSize),
		Max: mathx.V(pos.X+ix.halfSize, 0, pos.Z+ix.halfSize),
	}
	z.Inner = z.Outer.Intersect(ix.spawnOK)
}

// AddPlayer creates a zone for a newly connected player. Adding a known
// player only moves its zone.
func (ix *Index) AddPlayer(id int, pos mathx.Vec3) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	z := ix.playerLocked(id)
	if z == nil {
		z = &PlayerZone{PlayerID: id}
		ix.players = append(ix.players, z)
	}
	ix.placeLocked(z, pos)
	ix.recapLocked(ix.globalCap)
}

func (ix *Index) RemovePlayer(id int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, z := range ix.players {
		if z.PlayerID == id {
			ix.players = append(ix.players[:i], ix.players[i+1:]...)
			break
		}
	}
	ix.recapLocked(ix.globalCap)
}

// UpdatePlayers recenters zones on the given positions, drops zones of
// players no longer listed, appends zones for new players and recomputes
// every zone's capacity as globalCap / max(1, players).
func (ix *Index) UpdatePlayers(players []PlayerPos, globalCap int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	seen := make(map[int]struct{}, len(players))
	for _, p := range players {
		seen[p.ID] = struct{}{}
		z := ix.playerLocked(p.ID)
		if z == nil {
			z = &PlayerZone{PlayerID: p.ID}
			ix.players = append(ix.players, z)
		}
		ix.placeLocked(z, p.Pos)
	}
	kept := ix.players[:0]
	for _, z := range ix.players {
		if _, ok := seen[z.PlayerID]; ok {
			kept = append(kept, z)
		}
	}
	for i := len(kept); i < len(ix.players); i++ {
		ix.players[i] = nil
	}
	ix.players = kept
	ix.globalCap = globalCap
	ix.recapLocked(globalCap)
}

func (ix *Index) recapLocked(globalCap int) {
	n := len(ix.players)
	if n < 1 {
		n = 1
	}
	for _, z := range ix.players {
		z.Capacity = globalCap / n
	}
}

func (ix *Index) PlayerCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.players)
}

// PlayerZones returns copies of every player zone in index order.
func (ix *Index) PlayerZones() []PlayerZone {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]PlayerZone, len(ix.players))
	for i, z := range ix.players {
		out[i] = *z
	}
	return out
}

// TryIncrement adds one to the zone's occupancy if it is below capacity.
func (ix *Index) TryIncrement(r Ref) bool {
	if r.Kind != KindPlayer {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	z := ix.playerLocked(r.ID)
	if z == nil || z.Occupancy >= z.Capacity {
		return false
	}
	z.Occupancy++
	return true
}

func (ix *Index) Decrement(r Ref) {
	if r.Kind != KindPlayer {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if z := ix.playerLocked(r.ID); z != nil && z.Occupancy > 0 {
		z.Occupancy--
	}
}

// HasCapacity reports whether the zone could take `pending` more agents on
// top of its current occupancy.
func (ix *Index) HasCapacity(r Ref, pending int) bool {
	if r.Kind != KindPlayer {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	z := ix.playerLocked(r.ID)
	return z != nil && z.Occupancy+pending < z.Capacity
}
