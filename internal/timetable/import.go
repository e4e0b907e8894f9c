package timetable

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"bustimes.app/internal/logging"
)

// ImportFile loads a GTFS static zip from disk.
func (s *Store) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read timetable %s: %w", path, err)
	}
	return s.ImportBytes(ctx, data, path)
}

// ImportBytes parses a GTFS static zip and replaces the stored timetable.
// Re-importing identical bytes from the same source is a no-op.
func (s *Store) ImportBytes(ctx context.Context, data []byte, source string) error {
	start := time.Now()
	defer func() {
		s.importRuntime.Store(int64(time.Since(start)))
	}()

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var existingHash, existingSource string
	err := s.DB.QueryRowContext(ctx,
		`SELECT file_hash, file_source FROM import_metadata WHERE id = 1`).Scan(&existingHash, &existingSource)
	switch {
	case err == nil && existingHash == hash && existingSource == source:
		logging.LogOperation(s.logger, "timetable_unchanged_skipping_import",
			slog.String("hash", hash[:8]))
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("error checking import metadata: %w", err)
	}

	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("parse timetable %s: %w", source, err)
	}
	if len(static.Warnings) > 0 {
		s.logger.Debug("timetable parse warnings", slog.Int("count", len(static.Warnings)))
	}

	if err := s.Import(ctx, static); err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO import_metadata (id, file_hash, file_source, imported_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET file_hash = excluded.file_hash,
			file_source = excluded.file_source, imported_at = excluded.imported_at`,
		hash, source, s.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("error recording import metadata: %w", err)
	}

	logging.LogOperation(s.logger, "timetable_import_completed",
		slog.String("source", source),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Import replaces the stored routes, trips and stop times with those of
// static in a single transaction.
func (s *Store) Import(ctx context.Context, static *gtfs.Static) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, s.logger, "timetable_import")

	for _, table := range []string{"stop_times", "trips", "routes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	routeStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO routes (id, short_name, long_name) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(routeStmt, s.logger, "route_statement")

	for _, r := range static.Routes {
		if _, err := routeStmt.ExecContext(ctx, r.Id, r.ShortName, r.LongName); err != nil {
			return fmt.Errorf("unable to create route: %w", err)
		}
	}

	tripStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO trips (id, route_id, headsign) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(tripStmt, s.logger, "trip_statement")

	stopTimeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO stop_times (trip_id, stop_id, stop_sequence, departure_time, departure_secs)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(stopTimeStmt, s.logger, "stop_time_statement")

	var stopTimes int
	for _, t := range static.Trips {
		routeID := ""
		if t.Route != nil {
			routeID = t.Route.Id
		}
		if _, err := tripStmt.ExecContext(ctx, t.ID, routeID, t.Headsign); err != nil {
			return fmt.Errorf("unable to create trip: %w", err)
		}

		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			secs := int64(st.DepartureTime / time.Second)
			if _, err := stopTimeStmt.ExecContext(ctx,
				t.ID, st.Stop.Id, st.StopSequence, FormatGTFSTime(st.DepartureTime), secs); err != nil {
				return fmt.Errorf("unable to create stop time: %w", err)
			}
			stopTimes++
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(s.logger, "timetable_rows_inserted",
		slog.Int("routes", len(static.Routes)),
		slog.Int("trips", len(static.Trips)),
		slog.Int("stop_times", stopTimes))
	return nil
}

// FormatGTFSTime renders an offset from service-day midnight as HH:MM:SS.
// Hours may exceed 23 for trips running past midnight.
func FormatGTFSTime(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
