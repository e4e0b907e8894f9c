// Package geo holds the distance and bounding-box primitives shared by the
// stop directory, the live vehicle view and the departure estimator. Feed
// coordinates are only ever compared through these functions.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ValidCoordinate reports whether lat/lon are finite and inside the WGS84 range.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Point is a WGS84 position.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is a lat/lon rectangle. All four edges are inclusive.
type BoundingBox struct {
	South float64 `json:"south" yaml:"south"`
	North float64 `json:"north" yaml:"north"`
	West  float64 `json:"west" yaml:"west"`
	East  float64 `json:"east" yaml:"east"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.South + b.North) / 2, (b.West + b.East) / 2
}

// Validate checks that the edges are finite and ordered.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.South, b.North, b.West, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bounding box contains a non-finite value")
		}
	}
	if b.South > b.North {
		return fmt.Errorf("bounding box south %.6f is above north %.6f", b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("bounding box west %.6f is east of east %.6f", b.West, b.East)
	}
	return nil
}

// String renders the box in the south,north,west,east order accepted by
// ParseBoundingBox.
func (b BoundingBox) String() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
	}, ",")
}

// ParseBoundingBox parses "south,north,west,east".
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}

	var values [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("bbox value %d: %w", i+1, err)
		}
		values[i] = v
	}

	box := BoundingBox{South: values[0], North: values[1], West: values[2], East: values[3]}
	if err := box.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}

// BoundsAround returns the box enclosing a circle of radiusMeters around the
// point. It over-covers the circle; callers refine with HaversineMeters.
func BoundsAround(lat, lon, radiusMeters float64) BoundingBox {
	latOffset := radiusMeters / EarthRadiusMeters * 180 / math.Pi
	lonOffset := radiusMeters / (EarthRadiusMeters * math.Cos(toRadians(lat))) * 180 / math.Pi

	return BoundingBox{
		South: lat - latOffset,
		North: lat + latOffset,
		West:  lon - lonOffset,
		East:  lon + lonOffset,
	}
}
