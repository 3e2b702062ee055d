package population

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"walkersim.dev/internal/persistence/snapshot"
	"walkersim.dev/internal/sim/mathx"
	"walkersim.dev/internal/sim/zones"
)

// Checkpoint writes the inactive population, including agents waiting in
// the spawn queue, to path. Live agents are not saved.
func (s *Simulation) Checkpoint(path string) (snapshot.Header, int64, error) {
	recs := s.inactiveRecords()
	h, size, err := snapshot.Write(path, snapshot.Snapshot{
		Fingerprint: s.tun.Fingerprint(),
		Agents:      recs,
	})
	if err != nil {
		return h, 0, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return h, size, nil
}

func (s *Simulation) inactiveRecords() []snapshot.AgentRecord {
	s.inactiveMu.Lock()
	defer s.inactiveMu.Unlock()
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.returnMu.Lock()
	defer s.returnMu.Unlock()

	out := make([]snapshot.AgentRecord, 0, len(s.inactive)+len(s.queue)+len(s.returning))
	add := func(a *Agent) {
		in := a.Inactive
		if in == nil {
			return
		}
		out = append(out, snapshot.AgentRecord{
			Health:      a.Health,
			Pos:         a.Pos.Array(),
			TargetIsPOI: in.TargetZone.Kind == zones.KindPOI,
			Target:      in.Target.Array(),
		})
	}
	for _, a := range s.inactive {
		add(a)
	}
	for _, r := range s.queue {
		add(r.agent)
	}
	for _, a := range s.returning {
		add(a)
	}
	return out
}

// Restore replaces the population with the snapshot at path. On error the
// current population is left as it was; callers fall back to Reset.
func (s *Simulation) Restore(path string) (snapshot.Header, error) {
	snap, err := snapshot.Read(path, s.tun.Fingerprint())
	if err != nil {
		return snap.Header, err
	}
	s.clear()

	agents := make([]*Agent, 0, len(snap.Agents))
	for _, r := range snap.Agents {
		a := s.newAgent(mathx.V(r.Pos[0], r.Pos[1], r.Pos[2]))
		a.Health = r.Health
		in := a.Inactive
		if r.TargetIsPOI {
			// POI ids are not stable across runs; pick a fresh one.
			if poi, ok := s.zones.RandomPOI(s.stepRng); ok {
				in.Target = poi.RandomPoint(s.stepRng)
				in.TargetZone = poi.Ref()
				in.State = Wandering
			}
		} else {
			in.Target = mathx.V(r.Target[0], r.Target[1], r.Target[2])
			in.TargetZone = s.zones.WorldZoneAt(in.Target).Ref()
			in.State = Wandering
		}
		agents = append(agents, a)
	}

	s.inactiveMu.Lock()
	s.inactive = agents
	s.inactiveMu.Unlock()
	return snap.Header, nil
}

// LoadOrReset restores from path when persistence is enabled and the
// snapshot is usable, otherwise generates a fresh population. It reports
// whether the snapshot was used.
func (s *Simulation) LoadOrReset(path string) bool {
	if s.tun.Persistent && path != "" {
		h, err := s.Restore(path)
		switch {
		case err == nil:
			s.log.Info("population restored",
				zap.String("path", path),
				zap.String("save_id", h.SaveID),
				zap.Int("agents", h.Agents),
				zap.Time("saved_at", h.SavedAt))
			return true
		case errors.Is(err, snapshot.ErrNoSnapshot):
			s.log.Info("no snapshot, generating population", zap.String("path", path))
		case errors.Is(err, snapshot.ErrIncompatible):
			s.log.Warn("snapshot rejected", zap.String("path", path), zap.Error(err))
		default:
			s.log.Error("snapshot unreadable", zap.String("path", path), zap.Error(err))
		}
	}
	s.Reset()
	return false
}
