// Package telemetry persists resource-usage samples and recording
// lifecycle events to sqlite as an observability trail. It is read back
// only by the bounded /api/status/history view; nothing in the scanning
// core reads from it, so it never becomes a second source of truth for
// the live detection table.
package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jfhorsma/sdrscand/internal/logger"
)

// ResourceSample is one row of the resource_history table.
type ResourceSample struct {
	Timestamp       time.Time
	CPUPercent      float64
	IOWaitPercent   float64
	MemoryPercent   float64
	SwapUsedMB      float64
	ThrottleActive  bool
	ThrottleReason  string
	DwellMultiplier float64
	SkipFrequencies int
}

// RecordingEvent is one row of the recording_events table.
type RecordingEvent struct {
	Timestamp time.Time
	FreqMHz   float64
	Event     string // "started" or "stopped"
}

// Store is a sqlite-backed append-only telemetry sink.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if necessary) the telemetry database at dbPath and
// bootstraps its schema.
func Open(dbPath string, log *logger.Logger) (*Store, error) {
	storeLog := log.Named("telemetry")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: storeLog}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_history (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp         TIMESTAMP NOT NULL,
			cpu_percent       REAL NOT NULL,
			iowait_percent    REAL NOT NULL,
			memory_percent    REAL NOT NULL,
			swap_used_mb      REAL NOT NULL,
			throttle_active   INTEGER NOT NULL,
			throttle_reason   TEXT,
			dwell_multiplier  REAL NOT NULL,
			skip_frequencies  INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create resource_history table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_resource_history_timestamp
		ON resource_history (timestamp)
	`)
	if err != nil {
		return fmt.Errorf("create resource_history index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS recording_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  TIMESTAMP NOT NULL,
			freq_mhz   REAL NOT NULL,
			event      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create recording_events table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_recording_events_timestamp
		ON recording_events (timestamp)
	`)
	if err != nil {
		return fmt.Errorf("create recording_events index: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordResourceSample appends one resource_history row. Call sites log
// and continue on error rather than fail the scan loop over it.
func (s *Store) RecordResourceSample(sample ResourceSample) error {
	_, err := s.db.Exec(`
		INSERT INTO resource_history
			(timestamp, cpu_percent, iowait_percent, memory_percent, swap_used_mb,
			 throttle_active, throttle_reason, dwell_multiplier, skip_frequencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.Timestamp, sample.CPUPercent, sample.IOWaitPercent, sample.MemoryPercent,
		sample.SwapUsedMB, sample.ThrottleActive, sample.ThrottleReason,
		sample.DwellMultiplier, sample.SkipFrequencies,
	)
	if err != nil {
		return fmt.Errorf("insert resource sample: %w", err)
	}
	return nil
}

// RecordRecordingEvent appends one recording_events row.
func (s *Store) RecordRecordingEvent(event RecordingEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO recording_events (timestamp, freq_mhz, event)
		VALUES (?, ?, ?)
	`, event.Timestamp, event.FreqMHz, event.Event)
	if err != nil {
		return fmt.Errorf("insert recording event: %w", err)
	}
	return nil
}

// ResourceHistory returns resource_history rows from the last `minutes`
// minutes, oldest first.
func (s *Store) ResourceHistory(minutes int) ([]ResourceSample, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	rows, err := s.db.Query(`
		SELECT timestamp, cpu_percent, iowait_percent, memory_percent, swap_used_mb,
		       throttle_active, throttle_reason, dwell_multiplier, skip_frequencies
		FROM resource_history
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query resource history: %w", err)
	}
	defer rows.Close()

	var out []ResourceSample
	for rows.Next() {
		var r ResourceSample
		var reason sql.NullString
		if err := rows.Scan(&r.Timestamp, &r.CPUPercent, &r.IOWaitPercent, &r.MemoryPercent,
			&r.SwapUsedMB, &r.ThrottleActive, &reason, &r.DwellMultiplier, &r.SkipFrequencies); err != nil {
			return nil, fmt.Errorf("scan resource history row: %w", err)
		}
		r.ThrottleReason = reason.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource history: %w", err)
	}
	return out, nil
}

// RecordingEvents returns recording_events rows from the last `minutes`
// minutes, oldest first.
func (s *Store) RecordingEvents(minutes int) ([]RecordingEvent, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	rows, err := s.db.Query(`
		SELECT timestamp, freq_mhz, event
		FROM recording_events
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recording events: %w", err)
	}
	defer rows.Close()

	var out []RecordingEvent
	for rows.Next() {
		var e RecordingEvent
		if err := rows.Scan(&e.Timestamp, &e.FreqMHz, &e.Event); err != nil {
			return nil, fmt.Errorf("scan recording event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording events: %w", err)
	}
	return out, nil
}
