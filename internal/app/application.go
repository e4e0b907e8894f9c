package app

import (
	"log/slog"

	"bustimes.app/internal/appconf"
	"bustimes.app/internal/clock"
	"bustimes.app/internal/metrics"
	"bustimes.app/internal/timetable"
	"bustimes.app/internal/transit"
)

// Application holds the dependencies shared by the HTTP handlers, helpers
// and middleware.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	Transit   *transit.Service
	Timetable *timetable.Store
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}
