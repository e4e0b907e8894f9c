// Package feedtest builds GTFS-RT payloads and fake upstream servers for
// tests of the feed consumers.
package feedtest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	p "github.com/OneBusAway/go-gtfs/proto"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

// Vehicle describes a vehicle entity. Lat and Lon are written only when
// HasPosition is set.
type Vehicle struct {
	ID          string
	HasPosition bool
	Lat, Lon    float32
	Bearing     *float32
	Speed       *float32
	Timestamp   time.Time
	TripID      string
	RouteID     string
}

// StopUpdate describes one stop-time update. Zero times are omitted.
type StopUpdate struct {
	StopID        string
	ArrivalTime   time.Time
	DepartureTime time.Time
}

// TripUpdate describes a trip update entity.
type TripUpdate struct {
	TripID      string
	RouteID     string
	StopUpdates []StopUpdate
}

// Feed is the content of one FeedMessage.
type Feed struct {
	Timestamp   time.Time
	Vehicles    []Vehicle
	TripUpdates []TripUpdate
}

// Build marshals f into a FeedMessage.
func Build(t testing.TB, f Feed) []byte {
	t.Helper()

	entities := make([]*p.FeedEntity, 0, len(f.Vehicles)+len(f.TripUpdates))
	for i, v := range f.Vehicles {
		vp := &p.VehiclePosition{}
		if v.ID != "" {
			vp.Vehicle = &p.VehicleDescriptor{Id: proto.String(v.ID)}
		}
		if v.HasPosition {
			vp.Position = &p.Position{
				Latitude:  proto.Float32(v.Lat),
				Longitude: proto.Float32(v.Lon),
				Bearing:   v.Bearing,
				Speed:     v.Speed,
			}
		}
		if !v.Timestamp.IsZero() {
			vp.Timestamp = proto.Uint64(uint64(v.Timestamp.Unix()))
		}
		if v.TripID != "" || v.RouteID != "" {
			vp.Trip = &p.TripDescriptor{}
			if v.TripID != "" {
				vp.Trip.TripId = proto.String(v.TripID)
			}
			if v.RouteID != "" {
				vp.Trip.RouteId = proto.String(v.RouteID)
			}
		}
		entities = append(entities, &p.FeedEntity{
			Id:      proto.String("vehicle-" + strconv.Itoa(i)),
			Vehicle: vp,
		})
	}

	for i, tu := range f.TripUpdates {
		updates := make([]*p.TripUpdate_StopTimeUpdate, 0, len(tu.StopUpdates))
		for seq, su := range tu.StopUpdates {
			stu := &p.TripUpdate_StopTimeUpdate{StopSequence: proto.Uint32(uint32(seq + 1))}
			if su.StopID != "" {
				stu.StopId = proto.String(su.StopID)
			}
			if !su.ArrivalTime.IsZero() {
				stu.Arrival = &p.TripUpdate_StopTimeEvent{Time: proto.Int64(su.ArrivalTime.Unix())}
			}
			if !su.DepartureTime.IsZero() {
				stu.Departure = &p.TripUpdate_StopTimeEvent{Time: proto.Int64(su.DepartureTime.Unix())}
			}
			updates = append(updates, stu)
		}

		trip := &p.TripDescriptor{TripId: proto.String(tu.TripID)}
		if tu.RouteID != "" {
			trip.RouteId = proto.String(tu.RouteID)
		}
		entities = append(entities, &p.FeedEntity{
			Id: proto.String("trip-" + strconv.Itoa(i)),
			TripUpdate: &p.TripUpdate{
				Trip:           trip,
				StopTimeUpdate: updates,
			},
		})
	}

	incrementality := p.FeedHeader_FULL_DATASET
	header := &p.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      &incrementality,
	}
	if !f.Timestamp.IsZero() {
		header.Timestamp = proto.Uint64(uint64(f.Timestamp.Unix()))
	}

	data, err := proto.Marshal(&p.FeedMessage{Header: header, Entity: entities})
	require.NoError(t, err)
	return data
}

// Gzip compresses payload.
func Gzip(t testing.TB, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Server is a fake upstream whose response can be swapped between requests.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     []byte
	lastURL  string
	requests atomic.Int64
}

// NewServer starts a server answering 200 with body. It is closed when the
// test ends.
func NewServer(t testing.TB, body []byte) *Server {
	t.Helper()
	s := &Server{status: http.StatusOK, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	status, body := s.status, s.body
	s.lastURL = r.URL.String()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Respond changes the status and body returned from now on.
func (s *Server) Respond(status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// Requests reports how many requests the server has answered.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// LastURL returns the request URI of the most recent request.
func (s *Server) LastURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}
