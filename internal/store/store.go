// Package store implements the append-with-upsert Output Store: one SQL
// table per schema_key, unique on (run_id, node_id, iteration), upserted on
// conflict so retries overwrite rather than duplicate.
//
// Each table stores its payload as a single payload_json column rather than
// flattening the payload's top-level keys into their own columns: the
// catalog in internal/schema adds and changes top-level keys per schema
// version, and a flattened table would need an ALTER TABLE migration on
// every such change. internal/ctxaccessor and internal/resume, the two
// consumers that read structured fields back out, both unmarshal
// payload_json rather than querying named columns, so nothing downstream
// depends on the flattened layout.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Row is one output row: the invariant columns plus its validated payload.
type Row struct {
	SchemaKey string
	RunID     string
	NodeID    string
	Iteration int
	Payload   map[string]interface{}
}

// ErrNotFound is returned by exact lookups when no row exists.
var ErrNotFound = fmt.Errorf("store: row not found")

// StorageUnavailableError wraps an I/O failure against the underlying
// database, per spec.md §4.1's "Fails with StorageUnavailable on I/O error."
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("store: storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// Store is the SQLite-backed Output Store. Each schema_key gets its own
// table, created lazily on first Put. Concurrent writers are serialized by
// the underlying *sql.DB connection pool.
type Store struct {
	db *sql.DB

	// knownTables tracks which schema tables have already been migrated in
	// this process, so Put doesn't re-run CREATE TABLE every call.
	knownTables map[string]bool
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open opens (creating if absent) a SQLite database at path, configured the
// way nandosb-ai-native-sdlc's store does: WAL journal mode, a busy timeout
// so concurrent writers block instead of erroring, and foreign keys on.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageUnavailableError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections
	return &Store{db: db, knownTables: map[string]bool{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func tableName(schemaKey string) string {
	return "out_" + schemaKey
}

func (s *Store) ensureTable(ctx context.Context, schemaKey string) error {
	if s.knownTables[schemaKey] {
		return nil
	}
	table := tableName(schemaKey)
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("store: invalid schema key %q", schemaKey)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, node_id, iteration)
	)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &StorageUnavailableError{Op: "migrate " + schemaKey, Err: err}
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_by_node ON %s (run_id, node_id)`, table, table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return &StorageUnavailableError{Op: "migrate " + schemaKey, Err: err}
	}
	s.knownTables[schemaKey] = true
	return nil
}

// Put validates nothing itself — callers pass an already-validated payload
// (see internal/schema.Validator) — and upserts by the unique key, so a
// retried attempt overwrites the previous row rather than erroring.
func (s *Store) Put(ctx context.Context, row Row) error {
	if err := s.ensureTable(ctx, row.SchemaKey); err != nil {
		return err
	}
	raw, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}
	table := tableName(row.SchemaKey)
	stmt := fmt.Sprintf(`INSERT INTO %s (run_id, node_id, iteration, payload_json, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, node_id, iteration) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at_ms = excluded.updated_at_ms`, table)
	_, err = s.db.ExecContext(ctx, stmt, row.RunID, row.NodeID, row.Iteration, string(raw), time.Now().UnixMilli())
	if err != nil {
		return &StorageUnavailableError{Op: "put " + row.SchemaKey, Err: err}
	}
	return nil
}

// GetExact is the current-iteration accessor: returns ErrNotFound if absent.
func (s *Store) GetExact(ctx context.Context, schemaKey, runID, nodeID string, iteration int) (Row, error) {
	if err := s.ensureTable(ctx, schemaKey); err != nil {
		return Row{}, err
	}
	table := tableName(schemaKey)
	query := fmt.Sprintf(`SELECT payload_json FROM %s WHERE run_id = ? AND node_id = ? AND iteration = ?`, table)
	var raw string
	err := s.db.QueryRowContext(ctx, query, runID, nodeID, iteration).Scan(&raw)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, &StorageUnavailableError{Op: "getExact " + schemaKey, Err: err}
	}
	return decodeRow(schemaKey, runID, nodeID, iteration, raw)
}

// GetLatest is the cross-iteration accessor: the row with the largest
// iteration for (run, node_id), or ErrNotFound if none exists.
func (s *Store) GetLatest(ctx context.Context, schemaKey, runID, nodeID string) (Row, error) {
	if err := s.ensureTable(ctx, schemaKey); err != nil {
		return Row{}, err
	}
	table := tableName(schemaKey)
	query := fmt.Sprintf(`SELECT iteration, payload_json FROM %s
		WHERE run_id = ? AND node_id = ?
		ORDER BY iteration DESC LIMIT 1`, table)
	var iteration int
	var raw string
	err := s.db.QueryRowContext(ctx, query, runID, nodeID).Scan(&iteration, &raw)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, &StorageUnavailableError{Op: "getLatest " + schemaKey, Err: err}
	}
	return decodeRow(schemaKey, runID, nodeID, iteration, raw)
}

// Scan returns every row for (schemaKey, runID) in ascending iteration order.
func (s *Store) Scan(ctx context.Context, schemaKey, runID string) ([]Row, error) {
	if err := s.ensureTable(ctx, schemaKey); err != nil {
		return nil, err
	}
	table := tableName(schemaKey)
	query := fmt.Sprintf(`SELECT node_id, iteration, payload_json FROM %s
		WHERE run_id = ? ORDER BY iteration ASC`, table)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, &StorageUnavailableError{Op: "scan " + schemaKey, Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var nodeID, raw string
		var iteration int
		if err := rows.Scan(&nodeID, &iteration, &raw); err != nil {
			return nil, &StorageUnavailableError{Op: "scan " + schemaKey, Err: err}
		}
		row, err := decodeRow(schemaKey, runID, nodeID, iteration, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageUnavailableError{Op: "scan " + schemaKey, Err: err}
	}
	return out, nil
}

// ScanAllRuns returns every row for schemaKey across every run_id, used by
// internal/resume's cross-run durability scan.
func (s *Store) ScanAllRuns(ctx context.Context, schemaKey string) ([]Row, error) {
	if err := s.ensureTable(ctx, schemaKey); err != nil {
		return nil, err
	}
	table := tableName(schemaKey)
	query := fmt.Sprintf(`SELECT run_id, node_id, iteration, payload_json FROM %s ORDER BY run_id, iteration ASC`, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageUnavailableError{Op: "scanAllRuns " + schemaKey, Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var runID, nodeID, raw string
		var iteration int
		if err := rows.Scan(&runID, &nodeID, &iteration, &raw); err != nil {
			return nil, &StorageUnavailableError{Op: "scanAllRuns " + schemaKey, Err: err}
		}
		row, err := decodeRow(schemaKey, runID, nodeID, iteration, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeRow(schemaKey, runID, nodeID string, iteration int, raw string) (Row, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Row{}, fmt.Errorf("store: decode payload for %s/%s: %w", schemaKey, nodeID, err)
	}
	return Row{SchemaKey: schemaKey, RunID: runID, NodeID: nodeID, Iteration: iteration, Payload: payload}, nil
}

// SplitNodeID is a small helper used by the engine and resume packages:
// node ids for per-ticket stages follow "{ticketId}:{stage}", split at the
// last colon.
func SplitNodeID(nodeID string) (ticketID, stage string, ok bool) {
	idx := strings.LastIndex(nodeID, ":")
	if idx < 0 {
		return "", "", false
	}
	return nodeID[:idx], nodeID[idx+1:], true
}
