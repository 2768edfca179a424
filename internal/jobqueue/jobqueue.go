// Package jobqueue implements the transient Active Job Queue: the
// authoritative in-flight set, kept separate from the durable Output Store
// because the store has no concept of "currently running" (spec.md §4.2).
package jobqueue

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Job mirrors the scheduled_tasks row layout from spec.md §6.
type Job struct {
	JobID       string
	JobType     string
	AgentID     string
	TicketID    string // empty when not ticket-scoped
	FocusID     string // empty when not focus-scoped
	CreatedAtMs int64
}

// Queue is the SQLite-backed active-job set.
type Queue struct {
	db *sql.DB
}

// Open opens (creating if absent) the scheduled_tasks table at path. Pass
// the same database path used by internal/store to share a connection
// budget, or a dedicated path — both are valid per spec.md §6.
func Open(path string) (*Queue, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ddl := `CREATE TABLE IF NOT EXISTS scheduled_tasks (
		job_id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		ticket_id TEXT NOT NULL DEFAULT '',
		focus_id TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobqueue: migrate: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error { return q.db.Close() }

// InsertIfAbsent is idempotent on job_id: a second insert of the same
// job_id is a silent no-op, matching spec.md §4.2.
func (q *Queue) InsertIfAbsent(ctx context.Context, job Job) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO scheduled_tasks
		(job_id, job_type, agent_id, ticket_id, focus_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`,
		job.JobID, job.JobType, job.AgentID, job.TicketID, job.FocusID, job.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("jobqueue: insertIfAbsent: %w", err)
	}
	return nil
}

// Remove deletes job_id if present; deleting an absent job_id is a no-op.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("jobqueue: remove: %w", err)
	}
	return nil
}

// Active returns every job ordered ascending by created_at_ms.
func (q *Queue) Active(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT job_id, job_type, agent_id, ticket_id, focus_id, created_at_ms
		FROM scheduled_tasks ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: active: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.JobID, &j.JobType, &j.AgentID, &j.TicketID, &j.FocusID, &j.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("jobqueue: active: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Has reports whether jobID is currently active.
func (q *Queue) Has(ctx context.Context, jobID string) (bool, error) {
	var exists int
	err := q.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled_tasks WHERE job_id = ?`, jobID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobqueue: has: %w", err)
	}
	return true, nil
}
