package store

import (
	"database/sql"
	"fmt"
)

// CreateRun inserts a new run record in the running state.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, trigger_kind, status, started_at, window_start, window_end)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Trigger, RunStatusRunning, r.StartedAt, r.WindowStart, r.WindowEnd)
	return err
}

// FinalizeRun writes the terminal state of a run. A run can be finalized only
// once; a second attempt is rejected so finished records stay immutable.
func (db *DB) FinalizeRun(r *Run) error {
	res, err := db.Exec(`
		UPDATE runs
		SET status = ?, finished_at = ?, message_count = ?, unanswered_count = ?, ranked_count = ?, error_detail = ?, report = ?
		WHERE run_id = ? AND status = ?`,
		r.Status, r.FinishedAt, r.MessageCount, r.UnansweredCount, r.RankedCount, r.ErrorDetail, r.Report,
		r.RunID, RunStatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s already finalized or unknown", r.RunID)
	}
	return nil
}

// GetRun returns a run by id, or nil if not found.
func (db *DB) GetRun(runID string) (*Run, error) {
	r, err := scanRun(db.QueryRow(runSelect+` WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// LatestRun returns the most recently started run, or nil if none exist.
func (db *DB) LatestRun() (*Run, error) {
	r, err := scanRun(db.QueryRow(runSelect + ` ORDER BY started_at DESC, run_id DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRuns returns runs ordered by start time descending.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(runSelect+` ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

const runSelect = `
	SELECT run_id, trigger_kind, status, started_at, finished_at, window_start, window_end,
		message_count, unanswered_count, ranked_count, error_detail, report
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.RunID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt, &r.WindowStart, &r.WindowEnd,
		&r.MessageCount, &r.UnansweredCount, &r.RankedCount, &r.ErrorDetail, &r.Report)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
