// Package store implements the append-only persistence layer: alerts,
// process records, file/network/registry events, and the trust table,
// backed by modernc.org/sqlite (pure Go, no cgo).
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tarekazabou/sentineld/internal/events"
)

// Store is a thread-safe wrapper around a single sqlite database file.
// database/sql's connection pool already serializes access per
// connection; we additionally hold a mutex around writes so that
// "writes may coalesce, reads see a consistent snapshot" holds even
// under modernc.org/sqlite's single-writer semantics.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (if needed) and migrates the sqlite database at path. A
// failure here is a fatal, unrecoverable initialization error.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			severity TEXT NOT NULL,
			source_tag TEXT NOT NULL,
			process_name TEXT,
			pid INTEGER,
			has_pid INTEGER NOT NULL,
			description TEXT,
			details TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS process_records (
			name TEXT NOT NULL,
			executable_path TEXT NOT NULL,
			last_pid INTEGER,
			hash_sha256 TEXT,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL,
			is_trusted INTEGER NOT NULL,
			risk_score REAL NOT NULL,
			PRIMARY KEY (name, executable_path)
		)`,
		`CREATE TABLE IF NOT EXISTS file_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT NOT NULL,
			event_type TEXT NOT NULL,
			is_sensitive INTEGER NOT NULL,
			dest_path TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS network_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER,
			kind TEXT NOT NULL,
			remote_address TEXT,
			remote_port INTEGER,
			local_port INTEGER,
			bytes_uploaded INTEGER,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_path TEXT NOT NULL,
			value_name TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			change_type TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trust_entries (
			name TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			hash TEXT NOT NULL DEFAULT '',
			added_by TEXT NOT NULL,
			reason TEXT,
			publisher TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (name, path, hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ack ON alerts(acknowledged)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddAlert persists a new alert row, assigning an ID if one isn't set.
func (s *Store) AddAlert(a events.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO alerts (id, severity, source_tag, process_name, pid, has_pid, description, details, acknowledged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Severity), a.SourceTag, a.ProcessName, a.PID, boolToInt(a.HasPID),
		a.Description, a.Details, boolToInt(a.Acknowledged), a.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// AddFileEvent persists a raw file event unconditionally.
func (s *Store) AddFileEvent(path, eventType string, sensitive bool, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO file_events (file_path, event_type, is_sensitive, dest_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		path, eventType, boolToInt(sensitive), destPath, time.Now(),
	)
	return err
}

// NetworkEventRecord is the row shape for add_network_event.
type NetworkEventRecord struct {
	PID           int32
	Kind          string
	RemoteAddress string
	RemotePort    uint32
	LocalPort     uint32
	BytesUploaded uint64
}

// AddNetworkEvent persists a raw network event.
func (s *Store) AddNetworkEvent(r NetworkEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO network_events (pid, kind, remote_address, remote_port, local_port, bytes_uploaded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.PID, r.Kind, r.RemoteAddress, r.RemotePort, r.LocalPort, r.BytesUploaded, time.Now(),
	)
	return err
}

// AddProcessEvent persists a raw process lifecycle/behavior event. There
// is no dedicated process_events table since process state lives in
// process_records, so this folds into file_events as a lightweight
// journal row for forensic recall, alongside RecordProcess's upsert.
func (s *Store) AddProcessEvent(pid int32, name, path, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO file_events (file_path, event_type, is_sensitive, dest_path, created_at) VALUES (?, ?, 0, ?, ?)`,
		fmt.Sprintf("process:%d:%s", pid, name), "process_"+kind, path, time.Now(),
	)
	return err
}

// AddRegistryEvent persists a raw registry diff event.
func (s *Store) AddRegistryEvent(keyPath, valueName, oldValue, newValue, changeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO registry_events (key_path, value_name, old_value, new_value, change_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		keyPath, valueName, oldValue, newValue, changeType, time.Now(),
	)
	return err
}

// AddTrustEntry persists a trust-list row.
func (s *Store) AddTrustEntry(e events.TrustEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO trust_entries (name, path, hash, added_by, reason, publisher, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lowerOrSelf(e.Name), e.Path, e.Hash, string(e.AddedBy), e.Reason, e.Publisher, time.Now(),
	)
	return err
}

// RemoveTrustEntry deletes matching trust-list rows.
func (s *Store) RemoveTrustEntry(name, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`DELETE FROM trust_entries WHERE name = ? AND (? = '' OR path = ?)`,
		lowerOrSelf(name), path, path,
	)
	return err
}

// ListTrustEntries returns every row in trust_entries, ordered by name,
// for the `sentineld trust list` CLI subcommand.
func (s *Store) ListTrustEntries() ([]events.TrustEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT name, path, hash, added_by, reason, publisher FROM trust_entries ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.TrustEntry
	for rows.Next() {
		var e events.TrustEntry
		var addedBy string
		if err := rows.Scan(&e.Name, &e.Path, &e.Hash, &addedBy, &e.Reason, &e.Publisher); err != nil {
			return nil, err
		}
		e.AddedBy = events.TrustAddedBy(addedBy)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsTrusted implements the lookup order: exact (name,path,hash)
// -> (name,path) -> (name,). First hit wins.
func (s *Store) IsTrusted(name, path, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = lowerOrSelf(name)

	queries := []struct {
		sql  string
		args []interface{}
	}{
		{`SELECT 1 FROM trust_entries WHERE name = ? AND path = ? AND hash = ? LIMIT 1`, []interface{}{name, path, hash}},
		{`SELECT 1 FROM trust_entries WHERE name = ? AND path = ? LIMIT 1`, []interface{}{name, path}},
		{`SELECT 1 FROM trust_entries WHERE name = ? LIMIT 1`, []interface{}{name}},
	}

	for _, q := range queries {
		var found int
		err := s.db.QueryRow(q.sql, q.args...).Scan(&found)
		if err == nil {
			return true, nil
		}
		if err != sql.ErrNoRows {
			return false, err
		}
	}
	return false, nil
}

// RecordProcess upserts a ProcessRecord keyed by (name, executable_path).
func (s *Store) RecordProcess(r events.ProcessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if r.FirstSeen.IsZero() {
		r.FirstSeen = now
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = now
	}

	_, err := s.db.Exec(
		`INSERT INTO process_records (name, executable_path, last_pid, hash_sha256, first_seen, last_seen, is_trusted, risk_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, executable_path) DO UPDATE SET
		   last_pid = excluded.last_pid,
		   hash_sha256 = excluded.hash_sha256,
		   last_seen = excluded.last_seen,
		   is_trusted = excluded.is_trusted,
		   risk_score = excluded.risk_score`,
		r.Name, r.ExecutablePath, r.LastPID, r.HashSHA256, r.FirstSeen, r.LastSeen, boolToInt(r.IsTrusted), r.RiskScore,
	)
	return err
}

// RecentAlerts returns up to limit most-recent alerts, newest first.
func (s *Store) RecentAlerts(limit int) ([]events.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, severity, source_tag, process_name, pid, has_pid, description, details, acknowledged, created_at
		 FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// UnacknowledgedAlerts returns every alert with acknowledged = false.
func (s *Store) UnacknowledgedAlerts() ([]events.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, severity, source_tag, process_name, pid, has_pid, description, details, acknowledged, created_at
		 FROM alerts WHERE acknowledged = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]events.Alert, error) {
	var out []events.Alert
	for rows.Next() {
		var a events.Alert
		var severity string
		var hasPID, acknowledged int
		var pid sql.NullInt64
		if err := rows.Scan(&a.ID, &severity, &a.SourceTag, &a.ProcessName, &pid, &hasPID,
			&a.Description, &a.Details, &acknowledged, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Severity = events.Severity(severity)
		a.HasPID = hasPID != 0
		a.Acknowledged = acknowledged != 0
		if pid.Valid {
			a.PID = int32(pid.Int64)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Acknowledge marks an alert acknowledged. Acknowledging an
// already-acknowledged alert is a no-op success.
func (s *Store) Acknowledge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func lowerOrSelf(s string) string {
	return strings.ToLower(s)
}
