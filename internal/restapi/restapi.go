// Package restapi serves the JSON API used by the live map and the stop
// departure boards.
package restapi

import (
	"time"

	"bustimes.app/internal/app"
	"bustimes.app/internal/clock"
)

// RestAPI owns the HTTP handlers and the stateful middleware.
type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
}

// NewRestAPI builds the API over application. Call Shutdown to stop the
// rate limiter's cleanup goroutine.
func NewRestAPI(application *app.Application) *RestAPI {
	if application.Clock == nil {
		application.Clock = clock.RealClock{}
	}
	return &RestAPI{
		Application: application,
		rateLimiter: NewRateLimitMiddleware(
			application.Config.Server.RateLimit,
			time.Second,
			application.IsExemptAPIKey,
			application.Clock,
		),
	}
}

// Shutdown releases background resources. It is safe to call more than once.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}
