// Package stops loads the static stop export into an immutable, indexed
// directory and answers exact, ranked free-text and spatial queries over it.
package stops

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/tidwall/rtree"
)

const (
	defaultStopName = "Stop"

	// MaxPageSize bounds the unranked listing returned by Page.
	MaxPageSize = 200
)

// Stop is one physical boarding point. Lat and Lon are nil when the source
// row had no usable coordinate.
type Stop struct {
	AtcoCode     string   `json:"atcoCode"`
	CommonName   string   `json:"commonName"`
	Indicator    string   `json:"indicator"`
	LocalityName string   `json:"localityName"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
}

// HasCoordinates reports whether both Lat and Lon are known.
func (s Stop) HasCoordinates() bool {
	return s.Lat != nil && s.Lon != nil
}

// LoadStats summarises one directory build.
type LoadStats struct {
	RowsRead       int `json:"rowsRead"`
	RowsDropped    int `json:"rowsDropped"`
	DuplicateCodes int `json:"duplicateCodes"`
	WithoutCoords  int `json:"withoutCoordinates"`
}

var generations atomic.Uint64

// Directory is an immutable stop catalogue. All methods are safe for
// concurrent use without locking; a reload builds a new Directory.
type Directory struct {
	stops      []Stop
	byCode     map[string]int
	spatial    rtree.RTreeG[int]
	stats      LoadStats
	generation uint64
}

// Load builds a directory from raw rows. Rows without a stop code are
// dropped; for duplicate codes the first row wins.
func Load(rows []Row, aliases Aliases) *Directory {
	d := &Directory{
		stops:      make([]Stop, 0, len(rows)),
		byCode:     make(map[string]int, len(rows)),
		generation: generations.Add(1),
	}
	d.stats.RowsRead = len(rows)

	for _, row := range rows {
		code := aliases.Resolve(row, FieldCode)
		if code == "" {
			d.stats.RowsDropped++
			continue
		}
		if _, exists := d.byCode[code]; exists {
			d.stats.DuplicateCodes++
			continue
		}

		name := aliases.Resolve(row, FieldName)
		if name == "" {
			name = defaultStopName
		}
		stop := Stop{
			AtcoCode:     code,
			CommonName:   name,
			Indicator:    aliases.Resolve(row, FieldIndicator),
			LocalityName: aliases.Resolve(row, FieldLocality),
			Lat:          parseCoordinate(aliases.Resolve(row, FieldLat)),
			Lon:          parseCoordinate(aliases.Resolve(row, FieldLon)),
		}

		idx := len(d.stops)
		d.stops = append(d.stops, stop)
		d.byCode[code] = idx

		if stop.HasCoordinates() {
			point := [2]float64{*stop.Lon, *stop.Lat}
			d.spatial.Insert(point, point, idx)
		} else {
			d.stats.WithoutCoords++
		}
	}
	return d
}

func parseCoordinate(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FindByCode returns the stop with exactly this code.
func (d *Directory) FindByCode(code string) (Stop, error) {
	if idx, ok := d.byCode[code]; ok {
		return d.stops[idx], nil
	}
	return Stop{}, &NotFoundError{Code: code}
}

// Name returns the common name for code, if the stop is known.
func (d *Directory) Name(code string) (string, bool) {
	idx, ok := d.byCode[code]
	if !ok {
		return "", false
	}
	return d.stops[idx].CommonName, true
}

// Page lists stops in source order. limit is clamped to MaxPageSize.
func (d *Directory) Page(offset, limit int) []Stop {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(d.stops) {
		return []Stop{}
	}
	end := min(offset+limit, len(d.stops))
	out := make([]Stop, end-offset)
	copy(out, d.stops[offset:end])
	return out
}

// Len returns the number of indexed stops.
func (d *Directory) Len() int {
	return len(d.stops)
}

// Stats returns the counters gathered while building the directory.
func (d *Directory) Stats() LoadStats {
	return d.stats
}

// Generation identifies this build; every Load yields a new value.
func (d *Directory) Generation() uint64 {
	return d.generation
}
