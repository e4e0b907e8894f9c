package restapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bustimes.app/internal/app"
	"bustimes.app/internal/appconf"
	"bustimes.app/internal/clock"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/feed/feedtest"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/metrics"
	"bustimes.app/internal/stops"
	"bustimes.app/internal/timetable"
	"bustimes.app/internal/transit"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

const testNaptanCSV = `ATCOCode,CommonName,Indicator,LocalityName,Longitude,Latitude
0590AAA,Queensgate,Stand A,Peterborough,-0.2425,52.5741
0590BBB,Queensgate Bus Station,Stand B,Peterborough,-0.2430,52.5745
0590DST,Werrington Centre,,Werrington,-0.2800,52.6200
0590NOC,Orton Mere,,Orton,,
`

var testRegion = geo.BoundingBox{South: 52.50, North: 52.65, West: -0.40, East: -0.10}

type testEnv struct {
	api     *RestAPI
	feed    *feedtest.Server
	metrics *metrics.Metrics
	handler http.Handler
	server  *httptest.Server
}

type testOptions struct {
	payload   []byte
	timetable *timetable.Store
	rateLimit int
	apiKeys   []string
	skipLoad  bool
}

func defaultPayload(t *testing.T) []byte {
	return feedtest.Build(t, feedtest.Feed{
		Timestamp: testNow,
		Vehicles: []feedtest.Vehicle{
			{ID: "near", HasPosition: true, Lat: 52.575, Lon: -0.25, RouteID: "PB_1", TripID: "t1"},
			{ID: "far", HasPosition: true, Lat: 52.62, Lon: -0.15},
			{ID: "outside", HasPosition: true, Lat: 53.10, Lon: -0.20},
		},
		TripUpdates: []feedtest.TripUpdate{{
			TripID: "t1", RouteID: "PB_1",
			StopUpdates: []feedtest.StopUpdate{
				{StopID: "0590AAA", ArrivalTime: testNow.Add(300 * time.Second)},
				{StopID: "0590DST", ArrivalTime: testNow.Add(20 * time.Minute)},
			},
		}},
	})
}

// createTestApi builds the full handler stack over a fake feed and a
// temporary stop export.
func createTestApi(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	if opts.payload == nil {
		opts.payload = defaultPayload(t)
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	stopsPath := filepath.Join(t.TempDir(), "naptan.csv")
	require.NoError(t, os.WriteFile(stopsPath, []byte(testNaptanCSV), 0o644))

	feedServer := feedtest.NewServer(t, opts.payload)
	m := metrics.New()
	clk := clock.NewMockClock(testNow)

	cfg := appconf.Default()
	cfg.Server.Env = appconf.Test
	cfg.Server.RateLimit = opts.rateLimit
	cfg.Server.ApiKeys = opts.apiKeys
	cfg.Stops.Path = stopsPath

	client := feed.NewClient(feed.Config{URL: feedServer.URL, APIKey: "test-key", Timeout: 2 * time.Second}, clk, m)
	svc := transit.New(transit.Config{
		StopsPath:    stopsPath,
		Ranking:      stops.RankingPolicy{HomeRegion: "peterborough"},
		Region:       testRegion,
		VehicleLimit: 50,
	}, stops.NewHolder(nil), client, opts.timetable, clk, m)
	if !opts.skipLoad {
		require.NoError(t, svc.ReloadStops())
	}

	api := NewRestAPI(&app.Application{
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Transit:   svc,
		Timetable: opts.timetable,
		Clock:     clk,
		Metrics:   m,
	})
	t.Cleanup(api.Shutdown)

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	handler := api.WithMiddleware(mux)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{api: api, feed: feedServer, metrics: m, handler: handler, server: server}
}

// get issues a GET against the test server and decodes a JSON body into
// out when out is non-nil.
func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
