package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bustimes.app/internal/app"
	"bustimes.app/internal/appconf"
	"bustimes.app/internal/clock"
	"bustimes.app/internal/departures"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/logging"
	"bustimes.app/internal/metrics"
	"bustimes.app/internal/restapi"
	"bustimes.app/internal/stops"
	"bustimes.app/internal/timetable"
	"bustimes.app/internal/transit"
	"bustimes.app/internal/webui"
)

const dbStatsInterval = 15 * time.Second

// ParseAPIKeys splits a comma separated key list, trimming each entry.
func ParseAPIKeys(apiKeysFlag string) []string {
	if apiKeysFlag == "" {
		return []string{}
	}
	keys := strings.Split(apiKeysFlag, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	return keys
}

// BuildApplication wires the stop directory, the feed client, the optional
// timetable and metrics into an Application. The stop export and the
// timetable are loaded in parallel.
func BuildApplication(cfg appconf.Config, logger *slog.Logger) (*app.Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clk := clock.RealClock{}
	m := metrics.NewWithLogger(logger)

	ranking := stops.RankingPolicy{HomeRegion: cfg.Stops.HomeRegion}
	for _, l := range cfg.Stops.Landmarks {
		ranking.Landmarks = append(ranking.Landmarks, stops.Landmark{
			Query:        l.Query,
			NameContains: l.NameContains,
			Bonus:        l.Bonus,
		})
	}
	if err := ranking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stop ranking: %w", err)
	}

	var tt *timetable.Store
	if cfg.Timetable.Path != "" {
		loc, err := cfg.Timetable.Location()
		if err != nil {
			return nil, err
		}
		tt, err = timetable.Open(timetable.Config{DBPath: cfg.Timetable.DatabasePath, Location: loc}, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to open timetable: %w", err)
		}
		m.StartDBStatsCollector(tt.DB, dbStatsInterval)
	}

	client := feed.NewClient(feed.Config{
		URL:          cfg.Feed.URL,
		APIKey:       cfg.Feed.APIKey,
		Region:       cfg.Feed.Region,
		Timeout:      cfg.Feed.Timeout,
		MaxBodyBytes: cfg.Feed.MaxBodyBytes,
	}, clk, m)
	if cfg.Feed.APIKey == "" {
		logger.Warn("no feed API key configured; live endpoints will report the feed as not configured")
	}

	svc := transit.New(transit.Config{
		StopsPath:    cfg.Stops.Path,
		Ranking:      ranking,
		SearchLimit:  cfg.Stops.SearchLimit,
		Region:       cfg.Feed.Region,
		VehicleLimit: cfg.Vehicles.Limit,
		Departures: departures.Params{
			Max:                cfg.Departures.Max,
			ProximityMeters:    cfg.Departures.ProximityMeters,
			DefaultSpeedMPS:    cfg.Departures.DefaultSpeedMPS,
			UnknownDestination: cfg.Departures.UnknownDestination,
		},
	}, stops.NewHolder(nil), client, tt, clk, m)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := svc.ReloadStops(); err != nil {
			return fmt.Errorf("failed to load stop directory: %w", err)
		}
		return nil
	})
	if tt != nil {
		g.Go(func() error {
			if err := tt.ImportFile(ctx, cfg.Timetable.Path); err != nil {
				return fmt.Errorf("failed to import timetable: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.Shutdown()
		if tt != nil {
			logging.SafeCloseWithLogging(tt, logger, "timetable")
		}
		return nil, err
	}

	return &app.Application{
		Config:    cfg,
		Logger:    logger,
		Transit:   svc,
		Timetable: tt,
		Clock:     clk,
		Metrics:   m,
	}, nil
}

// CreateServer builds the HTTP server and the REST API that owns the rate
// limiter. Callers must call api.Shutdown when done.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)
	webUI := &webui.WebUI{Application: coreApp}

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webUI.SetWebUIRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.WithMiddleware(mux),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Feed.Timeout + 10*time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
	return srv, api
}

// Run serves until SIGINT or SIGTERM, then drains connections and releases
// the application's resources. SIGHUP reloads the stop directory in place.
func Run(srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "env", coreApp.Config.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	var runErr error
loop:
	for {
		select {
		case err, ok := <-serverErr:
			if ok {
				runErr = fmt.Errorf("server failed: %w", err)
			}
			break loop
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				logger.Info("reloading stop directory")
				if err := coreApp.Transit.ReloadStops(); err != nil {
					logging.LogError(logger, "reload on SIGHUP failed", err)
				}
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	api.Shutdown()
	if coreApp.Metrics != nil {
		coreApp.Metrics.Shutdown()
	}
	if coreApp.Timetable != nil {
		logging.SafeCloseWithLogging(coreApp.Timetable, logger, "timetable")
	}

	logger.Info("server stopped")
	return runErr
}
