package restapi

import (
	"net/http"
	"strings"

	"bustimes.app/internal/stops"
)

const defaultNearbyRadiusMeters = 500

type stopsResponse struct {
	Stops []stops.Stop `json:"stops"`
}

type nearbyStopsResponse struct {
	Stops []stops.NearbyStop `json:"stops"`
}

// searchStopsHandler ranks stops against ?q=. An empty query returns an
// empty list.
func (api *RestAPI) searchStopsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}

	results, err := api.Transit.SearchStops(q.Get("q"), limit)
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}
	api.sendResponse(w, r, stopsResponse{Stops: results})
}

// listStopsHandler pages through the directory in source order.
func (api *RestAPI) listStopsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	limit, err := intParam(q, "limit", stops.MaxPageSize)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}

	page, err := api.Transit.ListStops(offset, limit)
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}
	api.sendResponse(w, r, stopsResponse{Stops: page})
}

func (api *RestAPI) nearbyStopsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := floatParam(q, "lat")
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	lon, err := floatParam(q, "lon")
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	radius := float64(defaultNearbyRadiusMeters)
	if strings.TrimSpace(q.Get("radius")) != "" {
		if radius, err = floatParam(q, "radius"); err != nil || radius <= 0 {
			api.badRequest(w, r, "radius must be a positive number of meters")
			return
		}
	}
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}

	nearby, err := api.Transit.NearbyStops(lat, lon, radius, limit)
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}
	api.sendResponse(w, r, nearbyStopsResponse{Stops: nearby})
}

func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request) {
	stop, err := api.Transit.GetStop(r.PathValue("code"))
	if err != nil {
		api.sendServiceError(w, r, err)
		return
	}
	api.sendResponse(w, r, stop)
}

// debugNaptanHandler describes the stop export on disk.
func (api *RestAPI) debugNaptanHandler(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, api.Transit.SourceInfo())
}
