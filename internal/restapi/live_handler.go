package restapi

import (
	"net/http"
	"strings"

	"bustimes.app/internal/departures"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/logging"
	"bustimes.app/internal/timetable"
)

// liveBusesResponse is also the failure body: the map client reads ok and
// error, not the status code.
type liveBusesResponse struct {
	OK          bool                   `json:"ok"`
	Buses       []feed.VehiclePosition `json:"buses"`
	Error       string                 `json:"error,omitempty"`
	Code        int                    `json:"code,omitempty"`
	CurrentTime int64                  `json:"currentTime"`
}

type departuresResponse struct {
	StopID     string                 `json:"stopId"`
	StopName   string                 `json:"stopName"`
	Source     string                 `json:"source"`
	Departures []departures.Departure `json:"departures"`
}

type scheduledResponse struct {
	StopID string                         `json:"stopId"`
	Source string                         `json:"source"`
	Next   []timetable.ScheduledDeparture `json:"next"`
}

func (api *RestAPI) liveBusesHandler(w http.ResponseWriter, r *http.Request) {
	var region geo.BoundingBox
	if raw := strings.TrimSpace(r.URL.Query().Get("bbox")); raw != "" {
		box, err := geo.ParseBoundingBox(raw)
		if err != nil {
			api.sendLiveError(w, r, http.StatusBadRequest, "invalid bbox: "+err.Error())
			return
		}
		region = box
	}

	buses, err := api.Transit.ListLiveVehicles(r.Context(), region)
	if err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logging.LogError(api.logger(r), "live vehicles failed", err)
		}
		api.sendLiveError(w, r, status, message)
		return
	}

	api.sendResponse(w, r, liveBusesResponse{
		OK:          true,
		Buses:       buses,
		CurrentTime: api.currentTime(),
	})
}

func (api *RestAPI) sendLiveError(w http.ResponseWriter, r *http.Request, status int, message string) {
	setJSONResponseType(&w)
	w.WriteHeader(status)
	if err := writeJSON(w, liveBusesResponse{
		Buses:       []feed.VehiclePosition{},
		Error:       message,
		Code:        status,
		CurrentTime: api.currentTime(),
	}); err != nil {
		logging.LogError(api.logger(r), "failed to encode live error", err)
	}
}

// departuresHandler serves the live board for ?stopId=.
func (api *RestAPI) departuresHandler(w http.ResponseWriter, r *http.Request) {
	stopID := strings.TrimSpace(r.URL.Query().Get("stopId"))
	if stopID == "" {
		api.badRequest(w, r, "Missing ?stopId=")
		return
	}

	board, err := api.Transit.NextDepartures(r.Context(), stopID)
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}

	api.sendResponse(w, r, departuresResponse{
		StopID:     board.Stop.AtcoCode,
		StopName:   board.Stop.CommonName,
		Source:     "live",
		Departures: board.Departures,
	})
}

// nextScheduledHandler serves timetabled departures for ?stopId=.
func (api *RestAPI) nextScheduledHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stopID := strings.TrimSpace(q.Get("stopId"))
	if stopID == "" {
		api.badRequest(w, r, "Missing ?stopId=")
		return
	}
	limit, err := intParam(q, "limit", timetable.DefaultLimit)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}

	next, err := api.Transit.ScheduledDepartures(r.Context(), stopID, limit)
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}

	api.sendResponse(w, r, scheduledResponse{
		StopID: stopID,
		Source: "gtfs-scheduled",
		Next:   next,
	})
}
