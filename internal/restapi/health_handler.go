package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"bustimes.app/internal/logging"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Time   string `json:"time,omitempty"`
	Stops  int    `json:"stops,omitempty"`
}

// healthHandler reports readiness. It returns 503 until the stop directory
// has been published, and when a configured timetable database stops
// answering.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if api.Application == nil || api.Transit == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "service not initialized",
		})
		return
	}

	if !api.Transit.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "starting",
			Detail: "stop directory is being loaded",
		})
		return
	}

	if api.Timetable != nil {
		if err := api.Timetable.DB.PingContext(r.Context()); err != nil {
			logging.LogError(api.Logger, "timetable DB ping failed", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(HealthResponse{
				Status: "unavailable",
				Detail: "timetable database connection failed",
			})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status: "ok",
		Time:   api.Clock.Now().UTC().Format(time.RFC3339),
		Stops:  api.Transit.Directory().Len(),
	})
}
