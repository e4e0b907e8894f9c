package restapi

import (
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Cache lifetimes in seconds. Live data is never cached.
const (
	cacheLive   = 0
	cacheStatic = 300
)

// SetRoutes registers the API on mux. Stop lookups change only on reload
// and are cacheable; live and scheduled boards are not.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	limit := api.rateLimiter.Handler()
	route := func(cacheSeconds int, h http.HandlerFunc) http.Handler {
		return limit(CacheControlMiddleware(cacheSeconds, h))
	}

	mux.Handle("GET /api/health", CacheControlMiddleware(cacheLive, http.HandlerFunc(api.healthHandler)))

	mux.Handle("GET /api/stops", route(cacheStatic, api.searchStopsHandler))
	mux.Handle("GET /api/stops/list", route(cacheStatic, api.listStopsHandler))
	mux.Handle("GET /api/stops/nearby", route(cacheStatic, api.nearbyStopsHandler))
	mux.Handle("GET /api/stops/{code}", route(cacheStatic, api.stopHandler))

	mux.Handle("GET /api/live-buses", route(cacheLive, api.liveBusesHandler))
	mux.Handle("GET /api/departures", route(cacheLive, api.departuresHandler))
	mux.Handle("GET /api/next", route(cacheLive, api.nextScheduledHandler))

	mux.Handle("GET /api/debug-naptan", route(cacheLive, api.debugNaptanHandler))

	if api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{DisableCompression: true}))
	}

	mux.Handle("/api/", route(cacheLive, api.sendNotFound))
}

// WithMiddleware wraps the routed mux in the cross-cutting middleware,
// outermost first: request id, access logging, metrics, CORS, compression.
func (api *RestAPI) WithMiddleware(next http.Handler) http.Handler {
	origins := api.Config.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         600,
	})

	logger := api.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := gzhttp.GzipHandler(next)
	wrapped := corsHandler.Handler(handler)
	wrapped = MetricsHandler(api.Metrics)(wrapped)
	wrapped = NewRequestLoggingMiddleware(logger)(wrapped)
	return RequestIDMiddleware(wrapped)
}
