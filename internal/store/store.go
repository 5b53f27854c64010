// Package store persists motion events to SQLite so that
// GET /api/motion/history can page through them after the fact
// (spec §6 "Motion history").
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"camfeed/internal/motion"
)

// Store wraps a SQLite-backed motion event log.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign_keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS motion_events (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		timestamp_wall_ms INTEGER NOT NULL,
		timestamp_mono INTEGER NOT NULL,
		normalized_difference REAL NOT NULL,
		threshold REAL NOT NULL,
		intensity_pct REAL NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_motion_events_ts ON motion_events(timestamp_wall_ms)`)
	if err != nil {
		return fmt.Errorf("store: migrate index: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists one motion event.
func (s *Store) Insert(evt motion.MotionEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO motion_events (id, source_id, kind, timestamp_wall_ms, timestamp_mono, normalized_difference, threshold, intensity_pct)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		evt.ID, evt.SourceID, string(evt.Kind), evt.TimestampWall.UnixMilli(), evt.TimestampMono,
		evt.NormalizedDifference, evt.Threshold, evt.IntensityPct,
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Query mirrors GET /api/motion/history's parameters.
type Query struct {
	Limit  int
	Offset int
	SinceMs int64 // 0 means no lower bound
}

// Record is one row returned from History.
type Record struct {
	ID                   string
	SourceID             string
	Kind                 string
	TimestampMs          int64
	NormalizedDifference float64
	Threshold            float64
	IntensityPct         float64
}

// History implements GET /api/motion/history: returns up to Limit
// records ordered most-recent-first, the Offset applied after the
// Since cutoff, plus the total matching row count.
func (s *Store) History(q Query) (records []Record, total int, err error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	countRow := s.db.QueryRow(`SELECT COUNT(*) FROM motion_events WHERE timestamp_wall_ms >= ?`, q.SinceMs)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, source_id, kind, timestamp_wall_ms, normalized_difference, threshold, intensity_pct
		 FROM motion_events
		 WHERE timestamp_wall_ms >= ?
		 ORDER BY timestamp_wall_ms DESC
		 LIMIT ? OFFSET ?`,
		q.SinceMs, limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Kind, &r.TimestampMs, &r.NormalizedDifference, &r.Threshold, &r.IntensityPct); err != nil {
			return nil, 0, fmt.Errorf("store: scan: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: rows: %w", err)
	}
	return records, total, nil
}

// PruneBefore deletes events older than cutoffMs, implementing the
// recording config's retentionDays policy for the event log.
func (s *Store) PruneBefore(cutoffMs int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM motion_events WHERE timestamp_wall_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}
