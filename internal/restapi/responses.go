package restapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bustimes.app/internal/feed"
	"bustimes.app/internal/logging"
	"bustimes.app/internal/stops"
	"bustimes.app/internal/timetable"
	"bustimes.app/internal/transit"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

func (api *RestAPI) currentTime() int64 {
	if api.Application == nil || api.Clock == nil {
		return time.Now().UnixMilli()
	}
	return api.Clock.NowUnixMilli()
}

func (api *RestAPI) logger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context())
}

func (api *RestAPI) sendResponse(w http.ResponseWriter, r *http.Request, payload any) {
	setJSONResponseType(&w)
	if err := writeJSON(w, payload); err != nil {
		logging.LogError(api.logger(r), "failed to encode response", err,
			slog.String("path", r.URL.Path))
	}
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	setJSONResponseType(&w)
	w.WriteHeader(code)

	response := ErrorResponse{
		Code:        code,
		CurrentTime: api.currentTime(),
		Text:        message,
	}
	if err := writeJSON(w, response); err != nil {
		logging.LogError(api.logger(r), "failed to encode error response", err,
			slog.Int("status", code))
	}
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found")
}

func (api *RestAPI) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	api.sendError(w, r, http.StatusBadRequest, message)
}

// errorStatus maps a service error onto an HTTP status and a message that is
// safe to show to clients.
func errorStatus(err error) (int, string) {
	var (
		notFound    *stops.NotFoundError
		configErr   *feed.ConfigurationError
		unavailable *feed.UnavailableError
		upstream    *feed.UpstreamError
		decodeErr   *feed.DecodeError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.As(err, &configErr):
		return http.StatusServiceUnavailable, "live feed is not configured"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "live feed is unavailable"
	case errors.As(err, &upstream):
		return http.StatusBadGateway, upstream.Error()
	case errors.As(err, &decodeErr):
		return http.StatusBadGateway, "live feed returned an unreadable payload"
	case errors.Is(err, transit.ErrNotReady):
		return http.StatusServiceUnavailable, "stop directory is loading"
	case errors.Is(err, timetable.ErrNotConfigured):
		return http.StatusServiceUnavailable, "no timetable is configured"
	}
	return http.StatusInternalServerError, "internal server error"
}

// sendServiceError logs err and writes the mapped error response.
func (api *RestAPI) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(api.logger(r), "request failed", err,
			slog.String("path", r.URL.Path),
			slog.Int("status", status))
	}
	api.sendError(w, r, status, message)
}
