package zones

import (
	"math"
	"math/rand"
	"sync"

	"walkersim.dev/internal/sim/mathx"
)

// PlayerPos is the per-frame input to Index.UpdatePlayers.
type PlayerPos struct {
	ID  int
	Pos mathx.Vec3
}

type Options struct {
	Mins, Maxs mathx.Vec3
	Divider    int

	// PlayerZoneSize is the half extent of a player zone's outer square.
	PlayerZoneSize float64
	// BorderMargin shrinks the world extent to get the region where
	// agents may be materialized.
	BorderMargin float64
}

// Index owns every zone. World and POI zones never change after New; player
// zones are replaced on UpdatePlayers and guarded by mu along with their
// occupancy counters.
type Index struct {
	extent  Rect
	spawnOK Rect
	divider int
	cellW   float64
	cellH   float64
	world   []WorldZone
	pois    []POIZone

	halfSize float64

	mu        sync.Mutex
	players   []*PlayerZone
	globalCap int
}

func New(opts Options, pois []POIZone) *Index {
	if opts.Divider <= 0 {
		opts.Divider = 1
	}
	ix := &Index{
		extent:   Rect{Min: opts.Mins.Flat(), Max: opts.Maxs.Flat()},
		divider:  opts.Divider,
		halfSize: opts.PlayerZoneSize,
	}
	ix.spawnOK = ix.extent.Shrink(opts.BorderMargin)
	ix.world = BuildWorldZones(ix.extent, opts.Divider)
	ix.cellW = (ix.extent.Max.X - ix.extent.Min.X) / float64(opts.Divider)
	ix.cellH = (ix.extent.Max.Z - ix.extent.Min.Z) / float64(opts.Divider)
	for i := range pois {
		pois[i].ID = i
	}
	ix.pois = pois
	return ix
}

// BuildWorldZones splits extent into a divider x divider grid. Zone ids are
// row-major starting at the minimum corner.
func BuildWorldZones(extent Rect, divider int) []WorldZone {
	w := (extent.Max.X - extent.Min.X) / float64(divider)
	h := (extent.Max.Z - extent.Min.Z) / float64(divider)
	out := make([]WorldZone, 0, divider*divider)
	for row := 0; row < divider; row++ {
		for col := 0; col < divider; col++ {
			minX := extent.Min.X + float64(col)*w
			minZ := extent.Min.Z + float64(row)*h
			out = append(out, WorldZone{
				ID: len(out),
				Bounds: Rect{
					Min: mathx.V(minX, 0, minZ),
					Max: mathx.V(minX+w, 0, minZ+h),
				},
			})
		}
	}
	return out
}

func (ix *Index) Extent() Rect { return ix.extent }

// SpawnExtent is the world extent shrunk by the border margin.
func (ix *Index) SpawnExtent() Rect { return ix.spawnOK }

func (ix *Index) Divider() int { return ix.divider }

func (ix *Index) WorldZones() []WorldZone { return ix.world }

func (ix *Index) POIs() []POIZone { return ix.pois }

// WorldZoneAt returns the grid cell containing p, clamping points outside
// the extent to the nearest edge cell.
func (ix *Index) WorldZoneAt(p mathx.Vec3) WorldZone {
	col := int(math.Floor((p.X - ix.extent.Min.X) / ix.cellW))
	row := int(math.Floor((p.Z - ix.extent.Min.Z) / ix.cellH))
	col = clampInt(col, 0, ix.divider-1)
	row = clampInt(row, 0, ix.divider-1)
	return ix.world[row*ix.divider+col]
}

// Resolve turns a ref back into a zone. Player refs resolve to a copy of the
// zone's current state.
func (ix *Index) Resolve(r Ref) (Zone, bool) {
	switch r.Kind {
	case KindWorld:
		if r.ID >= 0 && r.ID < len(ix.world) {
			return ix.world[r.ID], true
		}
	case KindPOI:
		if r.ID >= 0 && r.ID < len(ix.pois) {
			return ix.pois[r.ID], true
		}
	case KindPlayer:
		ix.mu.Lock()
		defer ix.mu.Unlock()
		if z := ix.playerLocked(r.ID); z != nil {
			cp := *z
			return &cp, true
		}
	case KindNone:
	}
	return nil, false
}

func (ix *Index) RandomZone(rng *rand.Rand) WorldZone {
	return ix.world[rng.Intn(len(ix.world))]
}

// RandomPOI reports false when the world has no points of interest.
func (ix *Index) RandomPOI(rng *rand.Rand) (POIZone, bool) {
	if len(ix.pois) == 0 {
		return POIZone{}, false
	}
	return ix.pois[rng.Intn(len(ix.pois))], true
}

func (ix *Index) RandomPoint(z Zone, rng *rand.Rand) mathx.Vec3 {
	return z.RandomPoint(rng)
}

// RandomBorderPoint returns a point on the edge of the spawnable region.
func (ix *Index) RandomBorderPoint(rng *rand.Rand) mathx.Vec3 {
	r := ix.spawnOK
	if r.Empty() {
		r = ix.extent
	}
	w := r.Max.X - r.Min.X
	h := r.Max.Z - r.Min.Z
	switch rng.Intn(4) {
	case 0:
		return mathx.V(r.Min.X+rng.Float64()*w, 0, r.Min.Z)
	case 1:
		return mathx.V(r.Min.X+rng.Float64()*w, 0, r.Max.Z-1e-6)
	case 2:
		return mathx.V(r.Min.X, 0, r.Min.Z+rng.Float64()*h)
	default:
		return mathx.V(r.Max.X-1e-6, 0, r.Min.Z+rng.Float64()*h)
	}
}

// WrapPos wraps p into the world extent on both axes.
func (ix *Index) WrapPos(p mathx.Vec3) mathx.Vec3 {
	p.X = mathx.Wrap(p.X, ix.extent.Min.X, ix.extent.Max.X)
	p.Z = mathx.Wrap(p.Z, ix.extent.Min.Z, ix.extent.Max.Z)
	return p
}

func (ix *Index) ClampPos(p mathx.Vec3) mathx.Vec3 {
	return ix.extent.Clamp(p)
}

// FindContaining returns copies of the player zones containing p in index
// order.
func (ix *Index) FindContaining(p mathx.Vec3) []Zone {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []Zone
	for _, z := range ix.players {
		if z.Contains(p) {
			cp := *z
			out = append(out, &cp)
		}
	}
	return out
}

// FindNearest returns the zone of the given kind whose center is closest to
// p within maxDistance, skipping exclude.
func (ix *Index) FindNearest(p mathx.Vec3, maxDistance float64, kind Kind, exclude Ref) (Zone, bool) {
	var best Zone
	bestD := math.Inf(1)
	consider := func(z Zone) {
		if z.Ref() == exclude {
			return
		}
		d := z.Center().Dist2D(p)
		if d <= maxDistance && d < bestD {
			best, bestD = z, d
		}
	}
	switch kind {
	case KindWorld:
		for _, z := range ix.world {
			consider(z)
		}
	case KindPOI:
		for _, z := range ix.pois {
			consider(z)
		}
	case KindPlayer:
		ix.mu.Lock()
		for _, z := range ix.players {
			cp := *z
			consider(&cp)
		}
		ix.mu.Unlock()
	case KindNone:
	}
	return best, best != nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
