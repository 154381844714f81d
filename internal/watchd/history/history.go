// Package history provides SQLite-backed persistence of watch events,
// fired reactions and anomalies, queryable over the control socket.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dimasma0305/watchd/internal/log"

	// Import pure-Go SQLite driver for database/sql (no CGO required)
	_ "modernc.org/sqlite"
)

// WatchLog is one daemon-level history row.
type WatchLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Path      string    `json:"path,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// ReactionRecord is one fired-reaction history row.
type ReactionRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"` // command, forward, load_conf, set_watch
	Command   string    `json:"command"`
	Status    string    `json:"status"` // started, completed, failed
	Duration  int64     `json:"duration,omitempty"` // nanoseconds
	Error     string    `json:"error,omitempty"`
}

// DB wraps history database operations.
type DB struct {
	db      *sql.DB
	mu      sync.RWMutex
	enabled bool
	path    string
}

// New creates a history instance. An empty path disables persistence; every
// operation degrades to a no-op.
func New(dbPath string) *DB {
	return &DB{path: dbPath, enabled: dbPath != ""}
}

// Enabled reports whether history persistence is active.
func (d *DB) Enabled() bool {
	return d.enabled
}

// Init opens the database and creates tables.
func (d *DB) Init() error {
	if !d.enabled {
		log.Info("History database disabled")
		return nil
	}

	dbDir := filepath.Dir(d.path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL for concurrent reads during writes, busy timeout for the
	// occasional overlapping control-socket query.
	dsn := d.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping history database: %w", err)
	}

	d.mu.Lock()
	d.db = db
	d.mu.Unlock()

	if err := d.createTables(); err != nil {
		return fmt.Errorf("failed to create history tables: %w", err)
	}

	log.Info("History database initialized: %s", d.path)
	return nil
}

func (d *DB) createTables() error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("history database not initialized")
	}

	createWatchLog := `
		CREATE TABLE IF NOT EXISTS watch_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			level TEXT NOT NULL,
			component TEXT NOT NULL,
			path TEXT,
			message TEXT NOT NULL,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_watch_log_timestamp ON watch_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_watch_log_path ON watch_log(path);
	`

	createReactionLog := `
		CREATE TABLE IF NOT EXISTS reaction_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			duration INTEGER,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_reaction_log_timestamp ON reaction_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_reaction_log_path ON reaction_log(path);
		CREATE INDEX IF NOT EXISTS idx_reaction_log_status ON reaction_log(status);
	`

	if _, err := db.Exec(createWatchLog); err != nil {
		return fmt.Errorf("failed to create watch_log table: %w", err)
	}
	if _, err := db.Exec(createReactionLog); err != nil {
		return fmt.Errorf("failed to create reaction_log table: %w", err)
	}
	return nil
}

// LogWatch records a daemon-level history row. Failures are logged, never
// propagated; history must not perturb the control loop.
func (d *DB) LogWatch(level, component, path, message, errMsg string) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if !d.enabled || db == nil {
		return
	}

	_, err := db.Exec(
		`INSERT INTO watch_log (level, component, path, message, error) VALUES (?, ?, ?, ?, ?)`,
		level, component, path, message, errMsg,
	)
	if err != nil {
		log.Error("failed to record watch log: %v", err)
	}
}

// LogReaction records a fired reaction's lifecycle.
func (d *DB) LogReaction(path, kind, command, status string, duration time.Duration, errMsg string) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if !d.enabled || db == nil {
		return
	}

	_, err := db.Exec(
		`INSERT INTO reaction_log (path, kind, command, status, duration, error) VALUES (?, ?, ?, ?, ?, ?)`,
		path, kind, command, status, duration.Nanoseconds(), errMsg,
	)
	if err != nil {
		log.Error("failed to record reaction: %v", err)
	}
}

// RecentLogs returns the newest limit watch_log rows, newest first.
func (d *DB) RecentLogs(limit int) ([]WatchLog, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if !d.enabled || db == nil {
		return nil, fmt.Errorf("history database not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(
		`SELECT id, timestamp, level, component, COALESCE(path, ''), message, COALESCE(error, '')
		 FROM watch_log ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query watch log: %w", err)
	}
	defer rows.Close()

	var logs []WatchLog
	for rows.Next() {
		var l WatchLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Component, &l.Path, &l.Message, &l.Error); err != nil {
			return nil, fmt.Errorf("failed to scan watch log row: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// RecentReactions returns the newest limit reaction rows for path, or for
// all paths when path is empty.
func (d *DB) RecentReactions(path string, limit int) ([]ReactionRecord, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if !d.enabled || db == nil {
		return nil, fmt.Errorf("history database not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, path, kind, command, status, COALESCE(duration, 0), COALESCE(error, '')
	          FROM reaction_log`
	args := []interface{}{}
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reaction log: %w", err)
	}
	defer rows.Close()

	var records []ReactionRecord
	for rows.Next() {
		var r ReactionRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Path, &r.Kind, &r.Command, &r.Status, &r.Duration, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan reaction row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
