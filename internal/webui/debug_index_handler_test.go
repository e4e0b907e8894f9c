package webui

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustimes.app/internal/app"
	"bustimes.app/internal/appconf"
	"bustimes.app/internal/clock"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/feed/feedtest"
	"bustimes.app/internal/stops"
	"bustimes.app/internal/transit"
)

func newDebugUI(t *testing.T, env appconf.Environment) *WebUI {
	t.Helper()

	path := filepath.Join(t.TempDir(), "naptan.csv")
	require.NoError(t, os.WriteFile(path, []byte("ATCOCode,CommonName,Latitude,Longitude\n0590AAA,Queensgate,52.5741,-0.2425\n"), 0o644))

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	server := feedtest.NewServer(t, feedtest.Build(t, feedtest.Feed{
		Timestamp: now,
		Vehicles:  []feedtest.Vehicle{{ID: "bus-42", HasPosition: true, Lat: 52.57, Lon: -0.24}},
	}))

	clk := clock.NewMockClock(now)
	client := feed.NewClient(feed.Config{URL: server.URL, APIKey: "secret-key"}, clk, nil)
	svc := transit.New(transit.Config{StopsPath: path}, stops.NewHolder(nil), client, nil, clk, nil)
	require.NoError(t, svc.ReloadStops())

	cfg := appconf.Default()
	cfg.Server.Env = env
	cfg.Feed.APIKey = "secret-key"

	return &WebUI{Application: &app.Application{Config: cfg, Transit: svc, Clock: clk}}
}

func debugGet(webUI *WebUI, dataType string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	webUI.debugIndexHandler(rec, httptest.NewRequest(http.MethodGet, "/debug?dataType="+dataType, nil))
	return rec
}

func TestDebugIndexHandler_ProductionReturns404(t *testing.T) {
	webUI := &WebUI{
		Application: &app.Application{
			Config: appconf.Config{Server: appconf.ServerConfig{Env: appconf.Production}},
		},
	}

	rr := debugGet(webUI, "stops")
	assert.Equal(t, http.StatusNotFound, rr.Code, "Should return 404 in Production")
}

func TestDebugIndexHandler_DataTypes(t *testing.T) {
	webUI := newDebugUI(t, appconf.Development)

	tests := []struct {
		dataType string
		contains string
	}{
		{"stats", "RowsRead"},
		{"stops", "Queensgate"},
		{"source", "naptan.csv"},
		{"vehicles", "bus-42"},
		{"trip_updates", "Live feed - Trip updates"},
		{"timetable", "no timetable configured"},
		{"", "Choose a data type"},
	}

	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			rr := debugGet(webUI, tt.dataType)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rr.Body.String(), tt.contains)
		})
	}
}

func TestDebugIndexHandler_ConfigIsRedacted(t *testing.T) {
	webUI := newDebugUI(t, appconf.Development)

	rr := debugGet(webUI, "config")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-key")
	assert.Contains(t, rr.Body.String(), "REDACTED")
}
