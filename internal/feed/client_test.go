package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustimes.app/internal/clock"
	"bustimes.app/internal/feed/feedtest"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/metrics"
)

var fetchTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func float32Ptr(v float32) *float32 { return &v }

func sampleFeed() feedtest.Feed {
	return feedtest.Feed{
		Timestamp: fetchTime.Add(-5 * time.Second),
		Vehicles: []feedtest.Vehicle{
			{
				ID: "bus-1", HasPosition: true, Lat: 52.574, Lon: -0.243,
				Bearing: float32Ptr(90), Speed: float32Ptr(6.5),
				Timestamp: fetchTime.Add(-20 * time.Second),
				TripID:    "trip-1", RouteID: "R1",
			},
			{ID: "ghost"},
			{ID: "bus-2", HasPosition: true, Lat: 52.6, Lon: -0.25},
		},
		TripUpdates: []feedtest.TripUpdate{
			{
				TripID: "trip-1", RouteID: "R1",
				StopUpdates: []feedtest.StopUpdate{
					{StopID: "0590AAA", ArrivalTime: fetchTime.Add(2 * time.Minute), DepartureTime: fetchTime.Add(3 * time.Minute)},
					{DepartureTime: fetchTime.Add(4 * time.Minute)},
					{StopID: "0590BBB", DepartureTime: fetchTime.Add(6 * time.Minute)},
					{StopID: "0590CCC"},
				},
			},
		},
	}
}

func newTestClient(t *testing.T, serverURL string, key string) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	c := NewClient(Config{
		URL:     serverURL,
		APIKey:  key,
		Region:  geo.BoundingBox{South: 52.5, North: 52.65, West: -0.4, East: -0.1},
		Timeout: 2 * time.Second,
	}, clock.NewMockClock(fetchTime), m)
	return c, m
}

func TestFetch_DecodesSnapshot(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Build(t, sampleFeed()))
	c, m := newTestClient(t, server.URL, "secret-key")

	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fetchTime, snap.FetchedAt)
	assert.Equal(t, fetchTime.Add(-5*time.Second).Unix(), snap.FeedTimestamp.Unix())
	assert.Equal(t, 1, snap.SkippedVehicles, "vehicle without a position is skipped")
	require.Len(t, snap.Vehicles, 2)

	byID := map[string]VehiclePosition{}
	for _, v := range snap.Vehicles {
		require.NotNil(t, v.VehicleID)
		byID[*v.VehicleID] = v
	}
	require.Contains(t, byID, "bus-1")
	require.Contains(t, byID, "bus-2")

	bus := byID["bus-1"]
	assert.InDelta(t, 52.574, bus.Lat, 1e-4)
	assert.InDelta(t, -0.243, bus.Lon, 1e-4)
	require.NotNil(t, bus.Bearing)
	assert.InDelta(t, 90, *bus.Bearing, 1e-6)
	require.NotNil(t, bus.SpeedMetersPerSecond)
	assert.InDelta(t, 6.5, *bus.SpeedMetersPerSecond, 1e-6)
	require.NotNil(t, bus.TimestampEpochSecs)
	assert.Equal(t, fetchTime.Add(-20*time.Second).Unix(), *bus.TimestampEpochSecs)
	require.NotNil(t, bus.RouteID)
	assert.Equal(t, "R1", *bus.RouteID)
	require.NotNil(t, bus.TripID)
	assert.Equal(t, "trip-1", *bus.TripID)

	sparse := byID["bus-2"]
	assert.Nil(t, sparse.Bearing)
	assert.Nil(t, sparse.SpeedMetersPerSecond)
	assert.Nil(t, sparse.RouteID)
	assert.Nil(t, sparse.TimestampEpochSecs)

	require.Len(t, snap.TripUpdates, 1)
	trip := snap.TripUpdates[0]
	assert.Equal(t, "trip-1", trip.TripID)
	assert.Equal(t, "R1", trip.RouteID)
	assert.Equal(t, 1, snap.SkippedUpdates, "update without a stop id is skipped")
	require.Len(t, trip.StopTimeUpdates, 3)

	first := trip.StopTimeUpdates[0]
	require.NotNil(t, first.Epoch)
	assert.Equal(t, fetchTime.Add(2*time.Minute).Unix(), *first.Epoch, "arrival wins over departure")
	require.NotNil(t, trip.StopTimeUpdates[1].Epoch)
	assert.Equal(t, fetchTime.Add(6*time.Minute).Unix(), *trip.StopTimeUpdates[1].Epoch)
	assert.Nil(t, trip.StopTimeUpdates[2].Epoch)
	assert.Equal(t, "0590CCC", trip.Destination())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedFetchesTotal.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedEntities.WithLabelValues("vehicles")))
}

func TestFetch_SendsBODSParameters(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Build(t, feedtest.Feed{}))
	c, _ := newTestClient(t, server.URL+"/api/v1/gtfsrtdatafeed/", "secret-key")

	_, err := c.Fetch(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(server.LastURL())
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/gtfsrtdatafeed/", u.Path)
	assert.Equal(t, "secret-key", u.Query().Get("api_key"))
	assert.Equal(t, "-0.4,52.5,-0.1,52.65", u.Query().Get("boundingBox"))
}

func TestFetch_GzipPayload(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Gzip(t, feedtest.Build(t, sampleFeed())))
	c, _ := newTestClient(t, server.URL, "secret-key")

	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Vehicles, 2)
}

func TestFetch_MissingKeyIsConfigurationError(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Build(t, sampleFeed()))
	c, m := newTestClient(t, server.URL, "  ")

	_, err := c.Fetch(context.Background())

	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Zero(t, server.Requests(), "no network I/O without a key")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedFetchesTotal.WithLabelValues(metrics.OutcomeConfiguration)))
}

func TestFetch_UpstreamErrorCarriesExcerpt(t *testing.T) {
	server := feedtest.NewServer(t, nil)
	server.Respond(http.StatusForbidden, []byte(strings.Repeat("x", 1000)))
	c, _ := newTestClient(t, server.URL, "secret-key")

	_, err := c.Fetch(context.Background())

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusForbidden, upstream.StatusCode)
	assert.Len(t, upstream.Excerpt, ExcerptLimit)
}

func TestFetch_UpstreamExcerptHidesAPIKey(t *testing.T) {
	server := feedtest.NewServer(t, nil)
	c, _ := newTestClient(t, server.URL, "s3cret key/1")
	server.Respond(http.StatusUnauthorized,
		[]byte("rejected GET /feed?api_key=s3cret+key%2F1 (key s3cret key/1)"))

	_, err := c.Fetch(context.Background())

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.NotContains(t, upstream.Excerpt, "s3cret")
	assert.Equal(t, "rejected GET /feed?api_key=REDACTED (key REDACTED)", upstream.Excerpt)
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestFetch_CorruptPayloadIsDecodeError(t *testing.T) {
	server := feedtest.NewServer(t, []byte{0xff, 0xff, 0xff})
	c, m := newTestClient(t, server.URL, "secret-key")

	_, err := c.Fetch(context.Background())

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedFetchesTotal.WithLabelValues(metrics.OutcomeDecode)))
}

func TestFetch_TransportFailureIsRedacted(t *testing.T) {
	server := feedtest.NewServer(t, nil)
	serverURL := server.URL
	server.Close()

	c, _ := newTestClient(t, serverURL, "super-secret-key")
	_, err := c.Fetch(context.Background())

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.NotContains(t, err.Error(), "super-secret-key")
	assert.Contains(t, err.Error(), "REDACTED")
}

func TestFetch_CancelledContext(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Build(t, sampleFeed()))
	c, _ := newTestClient(t, server.URL, "secret-key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx)
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetch_BodyLimit(t *testing.T) {
	server := feedtest.NewServer(t, make([]byte, 2048))
	c := NewClient(Config{URL: server.URL, APIKey: "k", MaxBodyBytes: 1024}, nil, nil)

	_, err := c.Fetch(context.Background())
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Contains(t, err.Error(), "size limit")
}

func TestFetch_EachCallFetchesAgain(t *testing.T) {
	server := feedtest.NewServer(t, feedtest.Build(t, sampleFeed()))
	c, _ := newTestClient(t, server.URL, "secret-key")

	_, err := c.Fetch(context.Background())
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), server.Requests())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t,
		"https://example.com/feed?api_key=REDACTED&boundingBox=1%2C2%2C3%2C4",
		RedactURL("https://example.com/feed?api_key=abc&boundingBox=1,2,3,4"))
	assert.Equal(t, "https://example.com/feed", RedactURL("https://example.com/feed"))
}

func TestDecode_EmptyFeed(t *testing.T) {
	snap, err := Decode(feedtest.Build(t, feedtest.Feed{}), fetchTime)
	require.NoError(t, err)
	assert.Empty(t, snap.Vehicles)
	assert.Empty(t, snap.TripUpdates)
	assert.NotNil(t, snap.Vehicles)
}

func TestDecode_VehiclesOrderedByDescriptor(t *testing.T) {
	f := feedtest.Feed{Timestamp: fetchTime}
	for _, id := range []string{"v3", "v1", "", "v2"} {
		f.Vehicles = append(f.Vehicles, feedtest.Vehicle{ID: id, HasPosition: true, Lat: 52.57, Lon: -0.24})
	}
	body := feedtest.Build(t, f)

	for range 10 {
		snap, err := Decode(body, fetchTime)
		require.NoError(t, err)
		require.Len(t, snap.Vehicles, 4)

		got := make([]string, 0, len(snap.Vehicles))
		for _, v := range snap.Vehicles {
			if v.VehicleID == nil {
				got = append(got, "<none>")
				continue
			}
			got = append(got, *v.VehicleID)
		}
		assert.Equal(t, []string{"v1", "v2", "v3", "<none>"}, got)
	}
}

func TestDecode_RepeatableAcrossDecodes(t *testing.T) {
	f := feedtest.Feed{Timestamp: fetchTime}
	for i := range 60 {
		f.Vehicles = append(f.Vehicles, feedtest.Vehicle{
			ID: fmt.Sprintf("bus-%02d", (i*37)%60), HasPosition: true, Lat: 52.57, Lon: -0.24,
		})
	}
	body := feedtest.Build(t, f)

	first, err := Decode(body, fetchTime)
	require.NoError(t, err)
	for range 20 {
		again, err := Decode(body, fetchTime)
		require.NoError(t, err)
		assert.Equal(t, first.Vehicles, again.Vehicles)
	}
}
