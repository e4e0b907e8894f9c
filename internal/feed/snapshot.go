package feed

import (
	"cmp"
	"slices"
	"time"

	"github.com/OneBusAway/go-gtfs"
)

// VehiclePosition is one vehicle reported by the feed. Only Lat and Lon are
// guaranteed; every other field is nil when the feed omitted it.
type VehiclePosition struct {
	VehicleID            *string  `json:"vehicleId"`
	Lat                  float64  `json:"lat"`
	Lon                  float64  `json:"lon"`
	Bearing              *float64 `json:"bearing"`
	SpeedMetersPerSecond *float64 `json:"speed"`
	TimestampEpochSecs   *int64   `json:"timestamp"`
	RouteID              *string  `json:"routeId"`
	TripID               *string  `json:"tripId"`
}

// StopTimeUpdate is a predicted call at a stop. Epoch is the arrival time
// when the feed gave one, else the departure time, else nil.
type StopTimeUpdate struct {
	StopCode string
	Epoch    *int64
}

// TripUpdateEntry holds the predicted calls of one trip in feed order. The
// last element is the trip's destination.
type TripUpdateEntry struct {
	TripID          string
	RouteID         string
	StopTimeUpdates []StopTimeUpdate
}

// Destination returns the stop code of the final call, or "" for a trip
// without calls.
func (t TripUpdateEntry) Destination() string {
	if len(t.StopTimeUpdates) == 0 {
		return ""
	}
	return t.StopTimeUpdates[len(t.StopTimeUpdates)-1].StopCode
}

// Snapshot is the decoded content of a single fetch. It is never cached.
type Snapshot struct {
	Vehicles    []VehiclePosition
	TripUpdates []TripUpdateEntry
	// FeedTimestamp is the header timestamp; zero when absent.
	FeedTimestamp time.Time
	FetchedAt     time.Time
	// SkippedVehicles counts vehicle entities discarded for lacking a position.
	SkippedVehicles int
	// SkippedUpdates counts stop-time updates discarded for lacking a stop id.
	SkippedUpdates int
}

// Decode parses a GTFS-RT FeedMessage into a Snapshot.
func Decode(body []byte, fetchedAt time.Time) (*Snapshot, error) {
	rt, err := gtfs.ParseRealtime(body, &gtfs.ParseRealtimeOptions{})
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return fromRealtime(rt, fetchedAt), nil
}

func fromRealtime(rt *gtfs.Realtime, fetchedAt time.Time) *Snapshot {
	snap := &Snapshot{
		Vehicles:      make([]VehiclePosition, 0, len(rt.Vehicles)),
		TripUpdates:   make([]TripUpdateEntry, 0, len(rt.Trips)),
		FeedTimestamp: rt.CreatedAt,
		FetchedAt:     fetchedAt,
	}

	vehicles := sortedVehicles(rt.Vehicles)
	for i := range vehicles {
		vp, ok := vehiclePosition(&vehicles[i])
		if !ok {
			snap.SkippedVehicles++
			continue
		}
		snap.Vehicles = append(snap.Vehicles, vp)
	}

	for i := range rt.Trips {
		trip := &rt.Trips[i]
		if len(trip.StopTimeUpdates) == 0 {
			// Trips synthesised from a vehicle descriptor carry no calls.
			continue
		}
		entry := TripUpdateEntry{
			TripID:          trip.ID.ID,
			RouteID:         trip.ID.RouteID,
			StopTimeUpdates: make([]StopTimeUpdate, 0, len(trip.StopTimeUpdates)),
		}
		for _, stu := range trip.StopTimeUpdates {
			if stu.StopID == nil || *stu.StopID == "" {
				snap.SkippedUpdates++
				continue
			}
			entry.StopTimeUpdates = append(entry.StopTimeUpdates, StopTimeUpdate{
				StopCode: *stu.StopID,
				Epoch:    eventEpoch(stu),
			})
		}
		snap.TripUpdates = append(snap.TripUpdates, entry)
	}

	return snap
}

// sortedVehicles orders identified vehicles by descriptor. go-gtfs collects
// them through a map, so their order otherwise changes on every decode.
// Vehicles without a descriptor keep feed order after them.
func sortedVehicles(in []gtfs.Vehicle) []gtfs.Vehicle {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b gtfs.Vehicle) int {
		switch {
		case a.ID == nil && b.ID == nil:
			return 0
		case a.ID == nil:
			return 1
		case b.ID == nil:
			return -1
		}
		return cmp.Or(
			cmp.Compare(a.ID.ID, b.ID.ID),
			cmp.Compare(a.ID.Label, b.ID.Label),
			cmp.Compare(a.ID.LicensePlate, b.ID.LicensePlate),
		)
	})
	return out
}

func vehiclePosition(v *gtfs.Vehicle) (VehiclePosition, bool) {
	if v.Position == nil || v.Position.Latitude == nil || v.Position.Longitude == nil {
		return VehiclePosition{}, false
	}

	vp := VehiclePosition{
		Lat: float64(*v.Position.Latitude),
		Lon: float64(*v.Position.Longitude),
	}
	if v.ID != nil {
		switch {
		case v.ID.ID != "":
			vp.VehicleID = ptr(v.ID.ID)
		case v.ID.Label != "":
			vp.VehicleID = ptr(v.ID.Label)
		}
	}
	if v.Position.Bearing != nil {
		vp.Bearing = ptr(float64(*v.Position.Bearing))
	}
	if v.Position.Speed != nil {
		vp.SpeedMetersPerSecond = ptr(float64(*v.Position.Speed))
	}
	if v.Timestamp != nil && !v.Timestamp.IsZero() {
		vp.TimestampEpochSecs = ptr(v.Timestamp.Unix())
	}
	if v.Trip != nil {
		if v.Trip.ID.RouteID != "" {
			vp.RouteID = ptr(v.Trip.ID.RouteID)
		}
		if v.Trip.ID.ID != "" {
			vp.TripID = ptr(v.Trip.ID.ID)
		}
	}
	return vp, true
}

func eventEpoch(stu gtfs.StopTimeUpdate) *int64 {
	if stu.Arrival != nil && stu.Arrival.Time != nil {
		return ptr(stu.Arrival.Time.Unix())
	}
	if stu.Departure != nil && stu.Departure.Time != nil {
		return ptr(stu.Departure.Time.Unix())
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
