package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"bustimes.app/internal/appconf"
	"bustimes.app/internal/feed"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

var dataTypes = []string{"stats", "stops", "source", "config", "vehicles", "trip_updates", "timetable"}

type debugData struct {
	Title     string
	Pre       string
	DataTypes []string
}

var dumper = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}

func writeDebugData(w http.ResponseWriter, title string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	err := debugTemplate.Execute(w, debugData{
		Title:     title,
		Pre:       dumper.Sdump(data),
		DataTypes: dataTypes,
	})
	if err != nil {
		slog.Error("failed to execute debug template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// debugIndexHandler dumps internal state for ?dataType=. It does not exist
// in production.
func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Server.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	if webUI.Transit == nil {
		writeDebugData(w, "Not initialized", map[string]string{"error": "transit service not initialized"})
		return
	}

	var data any
	var title string

	switch r.URL.Query().Get("dataType") {
	case "stats":
		title = "Stop directory - Load statistics"
		if dir := webUI.Transit.Directory(); dir != nil {
			data = dir.Stats()
		}
	case "stops":
		title = "Stop directory - First page"
		data, _ = webUI.Transit.ListStops(0, 0)
	case "source":
		title = "Stop directory - Source file"
		data = webUI.Transit.SourceInfo()
	case "config":
		title = "Configuration"
		cfg := webUI.Config
		if cfg.Feed.APIKey != "" {
			cfg.Feed.APIKey = "REDACTED"
		}
		cfg.Server.ApiKeys = nil
		data = cfg
	case "vehicles", "trip_updates":
		snap, err := webUI.Transit.Snapshot(r.Context())
		if err != nil {
			title = "Live feed - Error"
			data = map[string]string{"error": err.Error()}
			break
		}
		data, title = snapshotPart(snap, r.URL.Query().Get("dataType"))
	case "timetable":
		title = "Timetable - Table counts"
		if webUI.Timetable == nil {
			data = map[string]string{"error": "no timetable configured"}
			break
		}
		counts, err := webUI.Timetable.TableCounts(r.Context())
		if err != nil {
			data = map[string]string{"error": err.Error()}
			break
		}
		data = counts
	default:
		data = map[string]string{
			"error": "Please use one of the following: stats, stops, source, config, vehicles, trip_updates, timetable.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, title, data)
}

func snapshotPart(snap *feed.Snapshot, dataType string) (any, string) {
	if dataType == "trip_updates" {
		return snap.TripUpdates, "Live feed - Trip updates"
	}
	return snap.Vehicles, "Live feed - Vehicles"
}
