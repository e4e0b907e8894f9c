// Package departures estimates the next buses at a stop from a feed
// snapshot. Trip update predictions are preferred; when a stop has none,
// minutes are guessed from the straight-line distance of nearby vehicles.
package departures

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"bustimes.app/internal/clock"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/stops"
)

const (
	DefaultMax                = 8
	MaxDepartures             = 25
	DefaultProximityMeters    = 2000.0
	DefaultSpeedMPS           = 7.0
	DefaultUnknownDestination = "—"

	dueText = "DUE"
)

// Departure is one row of a stop's departure board.
type Departure struct {
	Line        string `json:"line"`
	Destination string `json:"destination"`
	DueText     string `json:"dueText"`
	// MinutesUntilDue orders the board; it is not part of the wire format.
	MinutesUntilDue int `json:"-"`
}

// StopLookup resolves stop codes. *stops.Directory satisfies it.
type StopLookup interface {
	FindByCode(code string) (stops.Stop, error)
	Name(code string) (string, bool)
}

// RouteNamer maps a route id to its public short name.
type RouteNamer interface {
	RouteShortName(ctx context.Context, routeID string) (string, bool)
}

// Params are the tunables of the estimator. Zero fields take the defaults.
type Params struct {
	Max                int
	ProximityMeters    float64
	DefaultSpeedMPS    float64
	UnknownDestination string
}

func (p Params) withDefaults() Params {
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	p.Max = min(p.Max, MaxDepartures)
	if p.ProximityMeters <= 0 {
		p.ProximityMeters = DefaultProximityMeters
	}
	if p.DefaultSpeedMPS <= 0 {
		p.DefaultSpeedMPS = DefaultSpeedMPS
	}
	if p.UnknownDestination == "" {
		p.UnknownDestination = DefaultUnknownDestination
	}
	return p
}

// strategy produces a candidate board; an empty result hands over to the
// next strategy.
type strategy func(ctx context.Context, stop stops.Stop, snap *feed.Snapshot) []Departure

// Estimator builds departure boards. It is stateless between calls.
type Estimator struct {
	stops      StopLookup
	routes     RouteNamer
	clock      clock.Clock
	params     Params
	strategies []strategy
	logger     *slog.Logger
}

// NewEstimator wires an Estimator. routes may be nil.
func NewEstimator(lookup StopLookup, routes RouteNamer, clk clock.Clock, params Params) *Estimator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	e := &Estimator{
		stops:  lookup,
		routes: routes,
		clock:  clk,
		params: params.withDefaults(),
		logger: slog.Default().With(slog.String("component", "departure_estimator")),
	}
	e.strategies = []strategy{e.predicted, e.nearbyVehicles}
	return e
}

// Params returns the effective parameters.
func (e *Estimator) Params() Params {
	return e.params
}

// NextDepartures returns at most Params().Max departures for stopCode, soonest
// first. A code missing from the directory still gets its trip update
// predictions; only the nearby-vehicle guess needs the stop's position.
func (e *Estimator) NextDepartures(ctx context.Context, stopCode string, snap *feed.Snapshot) ([]Departure, error) {
	stop, err := e.stops.FindByCode(stopCode)
	var notFound *stops.NotFoundError
	switch {
	case errors.As(err, &notFound):
		stop = stops.Stop{AtcoCode: stopCode}
	case err != nil:
		return nil, err
	}
	if snap == nil {
		snap = &feed.Snapshot{}
	}

	for _, s := range e.strategies {
		if board := s(ctx, stop, snap); len(board) > 0 {
			return e.finish(board), nil
		}
	}
	return []Departure{}, nil
}

func (e *Estimator) finish(board []Departure) []Departure {
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].MinutesUntilDue < board[j].MinutesUntilDue
	})
	if len(board) > e.params.Max {
		board = board[:e.params.Max]
	}
	return board
}

// predicted reads the stop's calls from the trip updates.
func (e *Estimator) predicted(ctx context.Context, stop stops.Stop, snap *feed.Snapshot) []Departure {
	nowMs := e.clock.NowUnixMilli()

	var board []Departure
	for _, trip := range snap.TripUpdates {
		for _, stu := range trip.StopTimeUpdates {
			if stu.StopCode != stop.AtcoCode || stu.Epoch == nil {
				continue
			}
			minutes := roundHalfUp(float64(*stu.Epoch*1000-nowMs) / 60000)
			board = append(board, Departure{
				Line:            e.lineName(ctx, trip.RouteID, trip.RouteID),
				Destination:     e.destinationName(trip.Destination()),
				DueText:         DueText(minutes),
				MinutesUntilDue: minutes,
			})
		}
	}
	return board
}

// nearbyVehicles guesses arrival minutes from the distance of vehicles
// around the stop.
func (e *Estimator) nearbyVehicles(ctx context.Context, stop stops.Stop, snap *feed.Snapshot) []Departure {
	if !stop.HasCoordinates() {
		return nil
	}
	lat, lon := *stop.Lat, *stop.Lon

	var board []Departure
	for _, v := range snap.Vehicles {
		if !geo.ValidCoordinate(v.Lat, v.Lon) {
			continue
		}
		dist := geo.HaversineMeters(lat, lon, v.Lat, v.Lon)
		if dist > e.params.ProximityMeters {
			continue
		}

		speed := e.params.DefaultSpeedMPS
		if s := v.SpeedMetersPerSecond; s != nil && !math.IsNaN(*s) && !math.IsInf(*s, 0) && *s > 0 {
			speed = *s
		}
		minutes := roundHalfUp(dist / speed / 60)

		routeID := ""
		if v.RouteID != nil {
			routeID = *v.RouteID
		}
		fallback := routeID
		if fallback == "" {
			fallback = e.params.UnknownDestination
		}

		board = append(board, Departure{
			Line:            e.lineName(ctx, routeID, fallback),
			Destination:     e.params.UnknownDestination,
			DueText:         DueText(minutes),
			MinutesUntilDue: minutes,
		})
	}
	return board
}

func (e *Estimator) lineName(ctx context.Context, routeID, fallback string) string {
	if routeID != "" && e.routes != nil {
		if name, ok := e.routes.RouteShortName(ctx, routeID); ok && name != "" {
			return name
		}
	}
	return fallback
}

func (e *Estimator) destinationName(code string) string {
	if code == "" {
		return e.params.UnknownDestination
	}
	if name, ok := e.stops.Name(code); ok {
		return name
	}
	return code
}

// DueText renders minutes for the board: "DUE" at or below zero, else "{n}m".
func DueText(minutes int) string {
	if minutes <= 0 {
		return dueText
	}
	return strconv.Itoa(minutes) + "m"
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
