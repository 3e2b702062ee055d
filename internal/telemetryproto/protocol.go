// Package telemetryproto holds the push-only telemetry messages. The same
// structs are encoded as JSON text frames or msgpack binary frames; msgpack
// reuses the json tags.
package telemetryproto

const Version = "1.0"

const (
	TypeWorldInfo      = "world_info"
	TypeState          = "state"
	TypePlayerZones    = "player_zones"
	TypeInactiveAgents = "inactive_agents"
	TypeActiveAgents   = "active_agents"
)

// Rect is [minX, minZ, maxX, maxZ].
type Rect [4]float64

// WorldInfoMsg is sent once on connect.
type WorldInfoMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Mins       [2]float64 `json:"mins"`
	Maxs       [2]float64 `json:"maxs"`
	Divider    int        `json:"divider"`
	WorldZones []Rect     `json:"world_zones"`
	POIs       []POI      `json:"pois"`

	UpdateInterval   int     `json:"update_interval"`
	PlayerZoneSize   float64 `json:"player_zone_size"`
	MaxSpawnsPerTick int     `json:"max_spawns_per_tick"`
	GlobalActiveCap  int     `json:"global_active_cap"`
	ArrivalDistance  float64 `json:"arrival_distance"`
}

type POI struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
}

type StateMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Timescale       float64 `json:"timescale"`
	WalkSpeedScale  float64 `json:"walk_speed_scale"`
	BloodMoon       bool    `json:"blood_moon"`
	Paused          bool    `json:"paused"`
	Players         int     `json:"players"`
}

type PlayerZonesMsg struct {
	Type  string       `json:"type"`
	Zones []PlayerZone `json:"zones"`
}

type PlayerZone struct {
	PlayerID  int     `json:"player_id"`
	X         float64 `json:"x"`
	Z         float64 `json:"z"`
	Outer     Rect    `json:"outer"`
	Inner     Rect    `json:"inner"`
	Occupancy int     `json:"occupancy"`
	Capacity  int     `json:"capacity"`
}

type InactiveAgentsMsg struct {
	Type   string          `json:"type"`
	Agents []InactiveAgent `json:"agents"`
}

type InactiveAgent struct {
	ID      int     `json:"id"`
	X       float64 `json:"x"`
	Z       float64 `json:"z"`
	TargetX float64 `json:"target_x"`
	TargetZ float64 `json:"target_z"`
	State   string  `json:"state"`
}

type ActiveAgentsMsg struct {
	Type   string        `json:"type"`
	Agents []ActiveAgent `json:"agents"`
}

type ActiveAgent struct {
	ID       int     `json:"id"`
	Entity   int64   `json:"entity"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Health   int     `json:"health"`
	Behavior string  `json:"behavior"`
	// ZonePlayer is the player whose zone holds the agent, -1 when none.
	ZonePlayer int `json:"zone_player"`
}

// BootstrapResponse is served over plain HTTP for clients that want the
// static description before opening the socket.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	World           WorldInfoMsg `json:"world"`
	State           StateMsg     `json:"state"`
}
