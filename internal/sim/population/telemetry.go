package population

import (
	"walkersim.dev/internal/sim/zones"
	"walkersim.dev/internal/telemetryproto"
)

func rect(r zones.Rect) telemetryproto.Rect {
	return telemetryproto.Rect{r.Min.X, r.Min.Z, r.Max.X, r.Max.Z}
}

// WorldInfo describes everything about the simulation that does not change
// while it runs.
func (s *Simulation) WorldInfo() telemetryproto.WorldInfoMsg {
	ext := s.zones.Extent()
	msg := telemetryproto.WorldInfoMsg{
		Type:             telemetryproto.TypeWorldInfo,
		ProtocolVersion:  telemetryproto.Version,
		Mins:             [2]float64{ext.Min.X, ext.Min.Z},
		Maxs:             [2]float64{ext.Max.X, ext.Max.Z},
		Divider:          s.zones.Divider(),
		UpdateInterval:   s.tun.UpdateInterval,
		PlayerZoneSize:   s.tun.PlayerZoneSize,
		MaxSpawnsPerTick: MaxSpawnsPerTick,
		GlobalActiveCap:  s.tun.GlobalActiveCap(),
		ArrivalDistance:  ArrivalDistance,
	}
	for _, z := range s.zones.WorldZones() {
		msg.WorldZones = append(msg.WorldZones, rect(z.Bounds))
	}
	for _, p := range s.zones.POIs() {
		msg.POIs = append(msg.POIs, telemetryproto.POI{
			ID: p.ID, Name: p.Name, X: p.Pos.X, Z: p.Pos.Z, Radius: p.Radius,
		})
	}
	return msg
}

func (s *Simulation) StateMsg() telemetryproto.StateMsg {
	v := s.state.View()
	return telemetryproto.StateMsg{
		Type:            telemetryproto.TypeState,
		ProtocolVersion: telemetryproto.Version,
		Timescale:       v.Timescale,
		WalkSpeedScale:  v.WalkSpeedScale,
		BloodMoon:       v.BloodMoon,
		Paused:          v.Paused,
		Players:         s.zones.PlayerCount(),
	}
}

func (s *Simulation) PlayerZonesMsg() telemetryproto.PlayerZonesMsg {
	msg := telemetryproto.PlayerZonesMsg{Type: telemetryproto.TypePlayerZones}
	for _, z := range s.zones.PlayerZones() {
		msg.Zones = append(msg.Zones, telemetryproto.PlayerZone{
			PlayerID:  z.PlayerID,
			X:         z.Pos.X,
			Z:         z.Pos.Z,
			Outer:     rect(z.Outer),
			Inner:     rect(z.Inner),
			Occupancy: z.Occupancy,
			Capacity:  z.Capacity,
		})
	}
	return msg
}

// InactiveAgentsMsg lists the inactive collection. Queued agents are not
// included.
func (s *Simulation) InactiveAgentsMsg() telemetryproto.InactiveAgentsMsg {
	s.inactiveMu.Lock()
	defer s.inactiveMu.Unlock()
	out := make([]telemetryproto.InactiveAgent, 0, len(s.inactive))
	for _, a := range s.inactive {
		in := a.Inactive
		out = append(out, telemetryproto.InactiveAgent{
			ID:      a.ID,
			X:       a.Pos.X,
			Z:       a.Pos.Z,
			TargetX: in.Target.X,
			TargetZ: in.Target.Z,
			State:   in.State.String(),
		})
	}
	return telemetryproto.InactiveAgentsMsg{Type: telemetryproto.TypeInactiveAgents, Agents: out}
}

func (s *Simulation) ActiveAgentsMsg() telemetryproto.ActiveAgentsMsg {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]telemetryproto.ActiveAgent, 0, len(s.active))
	for _, a := range s.active {
		ac := a.Active
		zp := -1
		if ac.Zone.Kind == zones.KindPlayer {
			zp = ac.Zone.ID
		}
		out = append(out, telemetryproto.ActiveAgent{
			ID:         a.ID,
			Entity:     int64(ac.Entity),
			X:          a.Pos.X,
			Y:          a.Pos.Y,
			Z:          a.Pos.Z,
			Health:     a.Health,
			Behavior:   ac.Behavior.String(),
			ZonePlayer: zp,
		})
	}
	return telemetryproto.ActiveAgentsMsg{Type: telemetryproto.TypeActiveAgents, Agents: out}
}
