package stops

import (
	"sort"

	"bustimes.app/internal/geo"
)

const (
	DefaultNearbyLimit = 20
	MaxNearbyLimit     = 100
)

// NearbyStop is a stop with its distance from the query point.
type NearbyStop struct {
	Stop
	DistanceMeters float64 `json:"distanceMeters"`
}

// Nearby returns stops within radiusMeters of the point, closest first.
// Stops without coordinates never appear.
func (d *Directory) Nearby(lat, lon, radiusMeters float64, limit int) []NearbyStop {
	if limit <= 0 {
		limit = DefaultNearbyLimit
	}
	limit = min(limit, MaxNearbyLimit)
	if radiusMeters <= 0 || !geo.ValidCoordinate(lat, lon) {
		return []NearbyStop{}
	}

	box := geo.BoundsAround(lat, lon, radiusMeters)
	type candidate struct {
		idx      int
		distance float64
	}
	var candidates []candidate

	d.spatial.Search(
		[2]float64{box.West, box.South},
		[2]float64{box.East, box.North},
		func(_, _ [2]float64, idx int) bool {
			s := d.stops[idx]
			dist := geo.HaversineMeters(lat, lon, *s.Lat, *s.Lon)
			if dist <= radiusMeters {
				candidates = append(candidates, candidate{idx: idx, distance: dist})
			}
			return true
		},
	)

	// The tree does not return entries in source order; idx breaks ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].idx < candidates[j].idx
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]NearbyStop, len(candidates))
	for i, c := range candidates {
		out[i] = NearbyStop{Stop: d.stops[c.idx], DistanceMeters: c.distance}
	}
	return out
}
