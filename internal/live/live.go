// Package live turns a feed snapshot into the bounded, distance-ordered list
// of vehicles shown on the map.
package live

import (
	"sort"

	"bustimes.app/internal/feed"
	"bustimes.app/internal/geo"
)

const (
	DefaultLimit = 200
	MinLimit     = 40
	MaxLimit     = 800
)

// Options tunes ListVehicles. The zero value measures from the region centre
// and caps at DefaultLimit.
type Options struct {
	// Reference is the point distances are measured from.
	Reference *geo.Point
	Limit     int
}

// ClampLimit maps a requested cap onto [MinLimit, MaxLimit]; non-positive
// values select DefaultLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return max(MinLimit, min(n, MaxLimit))
}

type ranked struct {
	vehicle  feed.VehiclePosition
	distance float64
}

// ListVehicles returns the snapshot's vehicles inside region, nearest to the
// reference point first, truncated to the clamped limit. Vehicles at equal
// distance keep feed order.
func ListVehicles(snap *feed.Snapshot, region geo.BoundingBox, opts Options) []feed.VehiclePosition {
	out := []feed.VehiclePosition{}
	if snap == nil {
		return out
	}

	refLat, refLon := region.Center()
	if opts.Reference != nil {
		refLat, refLon = opts.Reference.Lat, opts.Reference.Lon
	}

	candidates := make([]ranked, 0, len(snap.Vehicles))
	for _, v := range snap.Vehicles {
		if !geo.ValidCoordinate(v.Lat, v.Lon) || !region.Contains(v.Lat, v.Lon) {
			continue
		}
		candidates = append(candidates, ranked{
			vehicle:  v,
			distance: geo.HaversineMeters(refLat, refLon, v.Lat, v.Lon),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	limit := ClampLimit(opts.Limit)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, c := range candidates {
		out = append(out, c.vehicle)
	}
	return out
}
