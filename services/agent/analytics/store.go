// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         REAL NOT NULL,
	source     TEXT NOT NULL,
	machine    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	severity   TEXT,
	message    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
`

// ftsSchema mirrors (message, source, type) into an external-content
// FTS5 index kept in sync by triggers. Builds of SQLite without FTS5
// fail this statement and the store falls back to LIKE search.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	message, source, type,
	content='events', content_rowid='id'
);
CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events BEGIN
	INSERT INTO events_fts(rowid, message, source, type)
	VALUES (new.id, new.message, new.source, new.type);
END;
CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events BEGIN
	INSERT INTO events_fts(events_fts, rowid, message, source, type)
	VALUES ('delete', old.id, old.message, old.source, old.type);
END;
`

// Store owns the SQLite analytics database. database/sql pools
// connections, and WAL mode lets HTTP readers run while the pipeline
// consumer writes.
type Store struct {
	db   *sql.DB
	path string
	fts  bool
}

// NewStore opens (creating if needed) the database at path and applies
// the schema.
func NewStore(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply analytics schema: %w", err)
	}

	s := &Store{db: db, path: path, fts: true}
	if _, err := db.Exec(ftsSchema); err != nil {
		slog.Warn("FTS5 unavailable, search falls back to LIKE", "error", err)
		s.fts = false
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// WriteEvents inserts a batch inside one transaction.
func (s *Store) WriteEvents(batch []datatypes.Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO events (ts, source, machine, type, severity, message, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		data := "{}"
		if len(e.Data) > 0 {
			if b, err := json.Marshal(e.Data); err == nil {
				data = string(b)
			}
		}
		var severity any
		if e.Severity != "" {
			severity = e.Severity
		}
		if _, err := stmt.Exec(e.Timestamp, e.Source, e.Machine, e.Type, severity, e.Message, data); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// Filter selects events for Query. Zero values mean "no constraint".
type Filter struct {
	Type     string
	Severity string
	Source   string
	Since    float64 // epoch seconds, inclusive
	Until    float64 // epoch seconds, inclusive
	Limit    int
	Offset   int
}

// Query returns events matching the filter, newest first.
func (s *Store) Query(f Filter) ([]datatypes.StoredEvent, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Since > 0 {
		where = append(where, "ts >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "ts <= ?")
		args = append(args, f.Until)
	}

	q := "SELECT id, ts, source, machine, type, severity, message, data FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC"
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	return s.selectEvents(q, args...)
}

// Search finds events by free text: FTS5 with rank when available, a
// prefix LIKE scan otherwise.
func (s *Store) Search(query string, limit int) ([]datatypes.StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.fts {
		match := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
		return s.selectEvents(
			`SELECT e.id, e.ts, e.source, e.machine, e.type, e.severity, e.message, e.data
			 FROM events_fts f JOIN events e ON e.id = f.rowid
			 WHERE events_fts MATCH ? ORDER BY rank LIMIT ?`,
			match, limit)
	}
	like := query + "%"
	return s.selectEvents(
		`SELECT id, ts, source, machine, type, severity, message, data FROM events
		 WHERE message LIKE ? OR source LIKE ? OR type LIKE ?
		 ORDER BY ts DESC LIMIT ?`,
		like, like, like, limit)
}

// Stats is the /analytics/stats payload from the store's side.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	ByType      map[string]int64 `json:"by_type"`
	BySeverity  map[string]int64 `json:"by_severity"`
	OldestTS    float64          `json:"oldest_ts"`
	NewestTS    float64          `json:"newest_ts"`
	FileBytes   int64            `json:"file_bytes"`
	Path        string           `json:"path"`
}

// Stats summarizes the event table and the database file.
func (s *Store) Stats() (Stats, error) {
	st := Stats{ByType: make(map[string]int64), BySeverity: make(map[string]int64), Path: s.path}

	row := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0) FROM events")
	if err := row.Scan(&st.TotalEvents, &st.OldestTS, &st.NewestTS); err != nil {
		return st, fmt.Errorf("event totals: %w", err)
	}

	if err := s.countBy("type", st.ByType); err != nil {
		return st, err
	}
	if err := s.countBy("severity", st.BySeverity); err != nil {
		return st, err
	}

	if info, err := os.Stat(s.path); err == nil {
		st.FileBytes = info.Size()
	}
	return st, nil
}

func (s *Store) countBy(column string, into map[string]int64) error {
	rows, err := s.db.Query(
		"SELECT COALESCE(" + column + ", ''), COUNT(*) FROM events GROUP BY " + column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if key != "" {
			into[key] = n
		}
	}
	return rows.Err()
}

// Timeline returns events since a timestamp, newest first, optionally
// restricted to a set of types.
func (s *Store) Timeline(since float64, limit int, types []string) ([]datatypes.StoredEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	q := "SELECT id, ts, source, machine, type, severity, message, data FROM events WHERE ts >= ?"
	args := []any{since}
	if len(types) > 0 {
		q += " AND type IN (?" + strings.Repeat(",?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)
	return s.selectEvents(q, args...)
}

// CostDay is one calendar day of LLM spend.
type CostDay struct {
	Day     string  `json:"day"`
	CostUSD float64 `json:"cost_usd"`
	Calls   int64   `json:"calls"`
}

// CostTrend sums llm_call cost per calendar day over the window.
func (s *Store) CostTrend(days int) ([]CostDay, error) {
	if days <= 0 {
		days = 7
	}
	since := float64(time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix())
	rows, err := s.db.Query(
		`SELECT date(ts, 'unixepoch') AS day,
		        COALESCE(SUM(json_extract(data, '$.cost_usd')), 0),
		        COUNT(*)
		 FROM events WHERE type = ? AND ts >= ?
		 GROUP BY day ORDER BY day`,
		datatypes.EventLLMCall, since)
	if err != nil {
		return nil, fmt.Errorf("cost trend: %w", err)
	}
	defer rows.Close()

	var out []CostDay
	for rows.Next() {
		var d CostDay
		if err := rows.Scan(&d.Day, &d.CostUSD, &d.Calls); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes events older than maxAgeDays and reclaims file space.
func (s *Store) Prune(maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := float64(time.Now().Unix()) - float64(maxAgeDays)*86400
	res, err := s.db.Exec("DELETE FROM events WHERE ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		if _, err := s.db.Exec("VACUUM"); err != nil {
			slog.Warn("vacuum after prune failed", "error", err)
		}
	}
	return deleted, nil
}

// selectEvents runs a projection query and materializes rows.
func (s *Store) selectEvents(query string, args ...any) ([]datatypes.StoredEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []datatypes.StoredEvent{}
	for rows.Next() {
		var e datatypes.StoredEvent
		var severity sql.NullString
		var data string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.Machine,
			&e.Type, &severity, &e.Message, &data); err != nil {
			return nil, err
		}
		e.Severity = severity.String
		e.Data = map[string]any{}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				// Unparseable data degrades to an empty map.
				e.Data = map[string]any{}
			}
		}
		sec := int64(e.Timestamp)
		nsec := int64((e.Timestamp - float64(sec)) * 1e9)
		e.ISOTime = time.Unix(sec, nsec).UTC().Format(time.RFC3339)
		out = append(out, e)
	}
	return out, rows.Err()
}
