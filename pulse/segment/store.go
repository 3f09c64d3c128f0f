package segment

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/ontogen/errors"
)

// Run statuses stored in segment_runs
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is one row of segment_runs
type RunRecord struct {
	ID           int64
	RunID        string
	Start        int
	Size         int
	Status       string
	ExitCode     *int
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Store records segment worker runs. It is bookkeeping only: the dataset
// itself is never deduplicated.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over db; migrations must have been applied
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Begin inserts a running row and returns its id
func (s *Store) Begin(ctx context.Context, runID string, d Descriptor) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_runs (run_id, segment_start, segment_size, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, d.Start, d.Size, StatusRunning, s.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to record segment start")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read segment run id")
	}
	return id, nil
}

// Finish closes a run with its exit code; runErr is set when the worker could
// not be started or waited for
func (s *Store) Finish(ctx context.Context, id int64, exitCode int, runErr error) error {
	status := StatusCompleted
	if exitCode != 0 || runErr != nil {
		status = StatusFailed
	}
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE segment_runs
		SET status = ?, exit_code = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		status, exitCode, msg, s.now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to record segment finish")
	}
	return nil
}

// Completed reports whether the latest run of d finished with exit code 0
func (s *Store) Completed(ctx context.Context, d Descriptor) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM segment_runs
		WHERE segment_start = ? AND segment_size = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`,
		d.Start, d.Size).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to query segment runs")
	}
	return status == StatusCompleted, nil
}

// Runs lists the rows of one run, ordered by segment start
func (s *Store) Runs(ctx context.Context, runID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, segment_start, segment_size, status, exit_code, error_message, started_at, finished_at
		FROM segment_runs
		WHERE run_id = ?
		ORDER BY segment_start, id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list segment runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			exitCode sql.NullInt64
			msg      sql.NullString
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Start, &r.Size, &r.Status, &exitCode, &msg, &r.StartedAt, &finished); err != nil {
			return nil, errors.Wrap(err, "failed to scan segment run")
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		if msg.Valid {
			r.ErrorMessage = &msg.String
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate segment runs")
}
