// Package transit is the service facade the HTTP layer talks to. It ties the
// stop directory, the live feed, the departure estimator and the optional
// timetable together.
package transit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"bustimes.app/internal/clock"
	"bustimes.app/internal/departures"
	"bustimes.app/internal/feed"
	"bustimes.app/internal/geo"
	"bustimes.app/internal/live"
	"bustimes.app/internal/logging"
	"bustimes.app/internal/metrics"
	"bustimes.app/internal/stops"
	"bustimes.app/internal/timetable"
)

// ErrNotReady is returned while no stop directory has been loaded.
var ErrNotReady = errors.New("stop directory not loaded")

const (
	searchCacheTTL     = 5 * time.Minute
	searchCacheCleanup = 10 * time.Minute
)

// Fetcher supplies feed snapshots. *feed.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (*feed.Snapshot, error)
}

// Config holds the service policies.
type Config struct {
	StopsPath    string
	Aliases      stops.Aliases
	Ranking      stops.RankingPolicy
	SearchLimit  int
	Region       geo.BoundingBox
	VehicleLimit int
	Departures   departures.Params
}

// Board is a stop's departure board.
type Board struct {
	Stop       stops.Stop
	Departures []departures.Departure
}

// Service exposes the transit operations. It is safe for concurrent use.
type Service struct {
	config    Config
	holder    *stops.Holder
	fetcher   Fetcher
	timetable *timetable.Store
	estimator *departures.Estimator
	clock     clock.Clock
	metrics   *metrics.Metrics
	searches  *cache.Cache
	logger    *slog.Logger
}

// New builds a Service. holder may publish nil until the first load; tt and
// m may be nil.
func New(config Config, holder *stops.Holder, fetcher Fetcher, tt *timetable.Store, clk clock.Clock, m *metrics.Metrics) *Service {
	if config.Aliases == nil {
		config.Aliases = stops.DefaultAliases()
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = stops.DefaultSearchLimit
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	var routes departures.RouteNamer
	if tt != nil {
		routes = tt
	}

	return &Service{
		config:    config,
		holder:    holder,
		fetcher:   fetcher,
		timetable: tt,
		estimator: departures.NewEstimator(currentDirectory{holder}, routes, clk, config.Departures),
		clock:     clk,
		metrics:   m,
		searches:  cache.New(searchCacheTTL, searchCacheCleanup),
		logger:    slog.Default().With(slog.String("component", "transit_service")),
	}
}

// currentDirectory resolves stops against whatever directory is published
// at call time.
type currentDirectory struct {
	holder *stops.Holder
}

func (c currentDirectory) FindByCode(code string) (stops.Stop, error) {
	dir := c.holder.Current()
	if dir == nil {
		return stops.Stop{}, ErrNotReady
	}
	return dir.FindByCode(code)
}

func (c currentDirectory) Name(code string) (string, bool) {
	dir := c.holder.Current()
	if dir == nil {
		return "", false
	}
	return dir.Name(code)
}

func (s *Service) directory() (*stops.Directory, error) {
	dir := s.holder.Current()
	if dir == nil {
		return nil, ErrNotReady
	}
	return dir, nil
}

// Ready reports whether a stop directory is published.
func (s *Service) Ready() bool {
	return s.holder.Current() != nil
}

// Region is the default live map area.
func (s *Service) Region() geo.BoundingBox {
	return s.config.Region
}

// HasTimetable reports whether scheduled departures are available.
func (s *Service) HasTimetable() bool {
	return s.timetable != nil
}

// Directory returns the published directory, or nil.
func (s *Service) Directory() *stops.Directory {
	return s.holder.Current()
}

// SearchStops ranks stops against query. limit <= 0 selects the configured
// default. Results are cached per directory generation; every caller gets
// its own copy.
func (s *Service) SearchStops(query string, limit int) ([]stops.Stop, error) {
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return []stops.Stop{}, nil
	}

	key := fmt.Sprintf("%d|%d|%s", dir.Generation(), limit, normalized)
	if cached, ok := s.searches.Get(key); ok {
		if s.metrics != nil {
			s.metrics.SearchCacheHits.Inc()
		}
		return slices.Clone(cached.([]stops.Stop)), nil
	}
	if s.metrics != nil {
		s.metrics.SearchCacheMisses.Inc()
	}

	results := dir.Search(normalized, limit, s.config.Ranking)
	s.searches.Set(key, slices.Clone(results), cache.DefaultExpiration)
	return results, nil
}

// GetStop looks up one stop by exact code.
func (s *Service) GetStop(code string) (stops.Stop, error) {
	dir, err := s.directory()
	if err != nil {
		return stops.Stop{}, err
	}
	return dir.FindByCode(strings.TrimSpace(code))
}

// ListStops pages through the directory in source order.
func (s *Service) ListStops(offset, limit int) ([]stops.Stop, error) {
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	return dir.Page(offset, limit), nil
}

// NearbyStops lists stops within radiusMeters of a point, nearest first.
func (s *Service) NearbyStops(lat, lon, radiusMeters float64, limit int) ([]stops.NearbyStop, error) {
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	return dir.Nearby(lat, lon, radiusMeters, limit), nil
}

// ListLiveVehicles fetches the feed and returns the vehicles inside region.
// A zero region selects the configured one.
func (s *Service) ListLiveVehicles(ctx context.Context, region geo.BoundingBox) ([]feed.VehiclePosition, error) {
	if region == (geo.BoundingBox{}) {
		region = s.config.Region
	}

	snap, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live vehicles: %w", err)
	}
	return live.ListVehicles(snap, region, live.Options{Limit: s.config.VehicleLimit}), nil
}

// Snapshot fetches and decodes the feed without filtering.
func (s *Service) Snapshot(ctx context.Context) (*feed.Snapshot, error) {
	return s.fetcher.Fetch(ctx)
}

// NextDepartures builds the live departure board for stopCode. A code the
// directory does not know is still looked up in the feed; its board carries
// the bare code and only trip update predictions.
func (s *Service) NextDepartures(ctx context.Context, stopCode string) (Board, error) {
	stop, err := s.GetStop(stopCode)
	var notFound *stops.NotFoundError
	switch {
	case errors.As(err, &notFound):
		stop = stops.Stop{AtcoCode: strings.TrimSpace(stopCode)}
	case err != nil:
		return Board{}, err
	}

	snap, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return Board{}, fmt.Errorf("next departures for %s: %w", stop.AtcoCode, err)
	}

	board, err := s.estimator.NextDepartures(ctx, stop.AtcoCode, snap)
	if err != nil {
		return Board{}, err
	}
	return Board{Stop: stop, Departures: board}, nil
}

// ScheduledDepartures lists the timetabled calls at stopCode.
func (s *Service) ScheduledDepartures(ctx context.Context, stopCode string, limit int) ([]timetable.ScheduledDeparture, error) {
	if s.timetable == nil {
		return nil, timetable.ErrNotConfigured
	}
	return s.timetable.NextScheduled(ctx, strings.TrimSpace(stopCode), limit)
}

// SourceInfo describes the stop export and the published directory.
func (s *Service) SourceInfo() stops.SourceInfo {
	info := stops.Inspect(s.config.StopsPath)
	if dir := s.holder.Current(); dir != nil {
		info.RowsLoaded = dir.Len()
		info.RowsDropped = dir.Stats().RowsDropped
	}
	return info
}

// ReloadStops rebuilds the directory from disk. A failed reload keeps the
// current directory.
func (s *Service) ReloadStops() error {
	start := s.clock.Now()
	dir, err := s.holder.Reload(func() (*stops.Directory, error) {
		return stops.LoadFile(s.config.StopsPath, s.config.Aliases)
	})

	size := 0
	if dir != nil {
		size = dir.Len()
	}
	s.metrics.ObserveReload(size, err)

	if err != nil {
		logging.LogError(s.logger, "stop directory reload failed", err,
			slog.String("path", s.config.StopsPath))
		return err
	}

	s.searches.Flush()
	stats := dir.Stats()
	logging.LogOperation(s.logger, "stop_directory_loaded",
		slog.String("path", s.config.StopsPath),
		slog.Int("stops", dir.Len()),
		slog.Int("rows_dropped", stats.RowsDropped),
		slog.Int("duplicates", stats.DuplicateCodes),
		slog.Duration("duration", s.clock.Now().Sub(start)))
	return nil
}
