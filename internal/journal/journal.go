// Package journal persists worker checkpoints to a local SQLite database so
// progress survives a server crash and stalled jobs can be diagnosed after
// the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Checkpoint is one recorded progress report.
type Checkpoint struct {
	JobID          string    `json:"job_id"`
	Percent        int       `json:"percent"`
	BytesProcessed int64     `json:"bytes_processed"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Journal implements the worker pool's checkpoint recorder. Writes go
// through a buffered channel and a single writer goroutine; when the buffer
// is full a checkpoint is dropped rather than stalling the worker.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
	ch     chan Checkpoint
	done   chan struct{}
}

// Open creates or opens the checkpoint journal under dir.
func Open(dir string, logger zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	dbPath := filepath.Join(dir, "checkpoints.db")

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
		ch:     make(chan Checkpoint, 256),
		done:   make(chan struct{}),
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal database: %w", err)
	}

	go j.writeLoop()

	j.logger.Info().Str("path", dbPath).Msg("checkpoint journal opened")
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT NOT NULL,
			percent INTEGER NOT NULL,
			bytes_processed INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_job ON checkpoints(job_id, recorded_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordCheckpoint enqueues a checkpoint for persistence. It never blocks;
// under backpressure the checkpoint is dropped.
func (j *Journal) RecordCheckpoint(jobID string, percent int, bytesProcessed int64) {
	cp := Checkpoint{
		JobID:          jobID,
		Percent:        percent,
		BytesProcessed: bytesProcessed,
		RecordedAt:     time.Now().UTC(),
	}
	select {
	case j.ch <- cp:
	default:
		j.logger.Warn().Str("job_id", jobID).Msg("journal buffer full, checkpoint dropped")
	}
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for cp := range j.ch {
		_, err := j.db.Exec(`
			INSERT INTO checkpoints (job_id, percent, bytes_processed, recorded_at)
			VALUES (?, ?, ?, ?)
		`, cp.JobID, cp.Percent, cp.BytesProcessed, cp.RecordedAt.Format(time.RFC3339Nano))
		if err != nil {
			j.logger.Error().Err(err).Str("job_id", cp.JobID).Msg("failed to persist checkpoint")
		}
	}
}

// LastCheckpoint returns the most recent checkpoint for a job, or nil when
// none has been recorded.
func (j *Journal) LastCheckpoint(ctx context.Context, jobID string) (*Checkpoint, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT job_id, percent, bytes_processed, recorded_at
		FROM checkpoints
		WHERE job_id = ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`, jobID)

	var cp Checkpoint
	var recordedAtStr string
	err := row.Scan(&cp.JobID, &cp.Percent, &cp.BytesProcessed, &recordedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	cp.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}
	return &cp, nil
}

// ListCheckpoints returns the checkpoints recorded for a job, oldest first.
func (j *Journal) ListCheckpoints(ctx context.Context, jobID string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT job_id, percent, bytes_processed, recorded_at
		FROM checkpoints
		WHERE job_id = ?
		ORDER BY recorded_at
		LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var recordedAtStr string
		if err := rows.Scan(&cp.JobID, &cp.Percent, &cp.BytesProcessed, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// PruneBefore removes checkpoints recorded before cutoff and returns how
// many were deleted.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := j.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE recorded_at < ?
	`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(affected), nil
}

// Close drains pending writes and closes the database.
func (j *Journal) Close() error {
	close(j.ch)
	<-j.done
	return j.db.Close()
}
