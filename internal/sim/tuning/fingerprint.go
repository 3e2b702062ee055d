package tuning

// Fingerprint is the subset of tuning that changes what a saved population
// means. Two runs with equal fingerprints can share snapshots.
type Fingerprint struct {
	UpdateInterval       int
	Persistent           bool
	WorldZoneDivider     int
	POITravellerChance   float64
	PopulationDensity    int
	WalkSpeedScale       float64
	ReservedSpawns       float64
	PauseDuringBloodMoon bool
	MinIdleSeconds       int
	MaxIdleSeconds       int
	InactiveWaitAtTarget float64
}

func (t Tuning) Fingerprint() Fingerprint {
	return Fingerprint{
		UpdateInterval:       t.UpdateInterval,
		Persistent:           t.Persistent,
		WorldZoneDivider:     t.WorldZoneDivider,
		POITravellerChance:   t.POITravellerChance,
		PopulationDensity:    t.PopulationDensity,
		WalkSpeedScale:       t.WalkSpeedScale,
		ReservedSpawns:       t.ReservedSpawns,
		PauseDuringBloodMoon: t.PauseDuringBloodMoon,
		MinIdleSeconds:       t.MinIdleSeconds,
		MaxIdleSeconds:       t.MaxIdleSeconds,
		InactiveWaitAtTarget: t.InactiveWaitAtTarget,
	}
}

// Diff names the fields that differ between f and o. Empty means compatible.
func (f Fingerprint) Diff(o Fingerprint) []string {
	var out []string
	add := func(name string, differ bool) {
		if differ {
			out = append(out, name)
		}
	}
	add("update_interval", f.UpdateInterval != o.UpdateInterval)
	add("persistent", f.Persistent != o.Persistent)
	add("world_zone_divider", f.WorldZoneDivider != o.WorldZoneDivider)
	add("poi_traveller_chance", f.POITravellerChance != o.POITravellerChance)
	add("population_density", f.PopulationDensity != o.PopulationDensity)
	add("walk_speed_scale", f.WalkSpeedScale != o.WalkSpeedScale)
	add("reserved_spawns", f.ReservedSpawns != o.ReservedSpawns)
	add("pause_during_blood_moon", f.PauseDuringBloodMoon != o.PauseDuringBloodMoon)
	add("min_idle_seconds", f.MinIdleSeconds != o.MinIdleSeconds)
	add("max_idle_seconds", f.MaxIdleSeconds != o.MaxIdleSeconds)
	add("inactive_wait_at_target", f.InactiveWaitAtTarget != o.InactiveWaitAtTarget)
	return out
}
