package timetable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"bustimes.app/internal/clock"
	"bustimes.app/internal/logging"
)

const (
	DefaultLimit = 10
	MaxLimit     = 25
)

// ScheduledDeparture is one timetabled call at a stop.
type ScheduledDeparture struct {
	Route       string `json:"route"`
	Destination string `json:"destination"`
	// DepartureTime is the timetable's HH:MM:SS string.
	DepartureTime string `json:"departureTime"`
	DueMin        int    `json:"dueMin"`
	TripID        string `json:"tripId"`
}

const nextScheduledQuery = `
SELECT
    st.trip_id,
    st.departure_time,
    st.departure_secs,
    COALESCE(NULLIF(r.short_name, ''), t.route_id) AS route,
    COALESCE(NULLIF(t.headsign, ''), NULLIF(r.long_name, ''), '') AS destination
FROM
    stop_times st
    JOIN trips t ON t.id = st.trip_id
    LEFT JOIN routes r ON r.id = t.route_id
WHERE
    st.stop_id = ?
    AND st.departure_secs >= ?
ORDER BY
    st.departure_secs,
    st.trip_id
LIMIT
    ?
`

// NextScheduled lists the calls at stopID that have not yet departed today,
// soonest first. limit defaults to DefaultLimit and is capped at MaxLimit.
func (s *Store) NextScheduled(ctx context.Context, stopID string, limit int) ([]ScheduledDeparture, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	nowSecs := clock.SecondsSinceMidnight(s.clock.Now(), s.config.Location)

	rows, err := s.DB.QueryContext(ctx, nextScheduledQuery, stopID, nowSecs, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled departures: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, s.logger, "database_rows")

	out := []ScheduledDeparture{}
	for rows.Next() {
		var (
			d    ScheduledDeparture
			secs int
		)
		if err := rows.Scan(&d.TripID, &d.DepartureTime, &secs, &d.Route, &d.Destination); err != nil {
			return nil, fmt.Errorf("scan scheduled departure: %w", err)
		}
		d.DueMin = DueMinutes(secs, nowSecs)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled departures: %w", err)
	}
	return out, nil
}

// DueMinutes is the whole minutes from nowSecs to depSecs, rounded half up
// and never negative.
func DueMinutes(depSecs, nowSecs int) int {
	return max(0, int(math.Floor(float64(depSecs-nowSecs)/60+0.5)))
}

// RouteShortName returns the public name of routeID when the timetable
// knows one.
func (s *Store) RouteShortName(ctx context.Context, routeID string) (string, bool) {
	var name string
	err := s.DB.QueryRowContext(ctx,
		`SELECT short_name FROM routes WHERE id = ?`, routeID).Scan(&name)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.LogError(s.logger, "route name lookup failed", err)
		}
		return "", false
	}
	return name, name != ""
}

// TableCounts returns the row count of each timetable table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"routes", "trips", "stop_times", "import_metadata"} {
		var n int
		if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
