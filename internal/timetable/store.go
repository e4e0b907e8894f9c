// Package timetable keeps a GTFS static timetable in SQLite and answers
// "next scheduled departures at this stop" queries from it.
package timetable

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"bustimes.app/internal/clock"
	"bustimes.app/internal/logging"
)

//go:embed schema.sql
var ddl string

// ErrNotConfigured is returned by callers that were started without a
// timetable.
var ErrNotConfigured = errors.New("timetable not configured")

const memoryDB = ":memory:"

// Config describes the backing database.
type Config struct {
	// DBPath is a SQLite path; empty means an in-memory database.
	DBPath   string
	Location *time.Location
}

// Store is a SQLite-backed timetable. All methods are safe for concurrent use.
type Store struct {
	DB     *sql.DB
	config Config
	clock  clock.Clock
	logger *slog.Logger

	importRuntime atomic.Int64
}

// Open creates the database and its tables.
func Open(config Config, clk clock.Clock) (*Store, error) {
	if config.DBPath == "" {
		config.DBPath = memoryDB
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create timetable DB: %w", err)
	}

	return &Store{
		DB:     db,
		config: config,
		clock:  clk,
		logger: slog.Default().With(slog.String("component", "timetable")),
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Location is the zone departure times are interpreted in.
func (s *Store) Location() *time.Location {
	return s.config.Location
}

// ImportRuntime reports how long the last import took.
func (s *Store) ImportRuntime() time.Duration {
	return time.Duration(s.importRuntime.Load())
}

func createDB(config Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	if err := performDatabaseMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	configureConnectionPool(db, config)
	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmed); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmed, err)
		}
	}
	return nil
}

func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		{"PRAGMA cache_size=-16000", "Set cache size to 16MB"},
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.name); err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
	}
	return nil
}

// configureConnectionPool pins in-memory databases to a single connection,
// since every new connection to ":memory:" opens a separate empty database.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == memoryDB {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
}
