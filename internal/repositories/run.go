package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
)

const runColumns = `
	id, sequence, command, status, data_dir, written, skipped, failed,
	failed_playlists, error, started_at, finished_at
`

// RunRepository implements models.Repository[*models.HarvestRun] for the run history.
type RunRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.HarvestRun] = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run with a generated ID and sequence
func (r *RunRepository) Create(run *models.HarvestRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "harvest_runs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	failed, err := encodeNames(run.FailedPlaylists())
	if err != nil {
		return err
	}

	id := shared.GenerateID()
	query := `INSERT INTO harvest_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		id,
		sequence,
		run.Command(),
		string(run.Status()),
		run.DataDir(),
		run.Written(),
		run.Skipped(),
		run.Failed(),
		failed,
		run.ErrorMessage(),
		run.StartedAt().UTC(),
		utcOrNil(run.FinishedAt()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	run.SetID(id)
	run.SetSequence(sequence)
	return nil
}

// Get retrieves a run by ID
func (r *RunRepository) Get(id string) (*models.HarvestRun, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return run, err
}

// Update writes the status, counters and finish time of an existing run
func (r *RunRepository) Update(run *models.HarvestRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	failed, err := encodeNames(run.FailedPlaylists())
	if err != nil {
		return err
	}

	query := `
		UPDATE harvest_runs
		SET status = ?, written = ?, skipped = ?, failed = ?,
			failed_playlists = ?, error = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		string(run.Status()),
		run.Written(),
		run.Skipped(),
		run.Failed(),
		failed,
		run.ErrorMessage(),
		utcOrNil(run.FinishedAt()),
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return expectOne(result, run.ID())
}

// Finish stamps the run with err and persists it.
func (r *RunRepository) Finish(run *models.HarvestRun, err error) error {
	run.Finish(err)
	return r.Update(run)
}

// Delete removes a run by ID
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM harvest_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectOne(result, id)
}

// List returns runs newest first. Supported criteria: "command" (string), "status" (string) and "limit" (int).
func (r *RunRepository) List(criteria map[string]any) ([]*models.HarvestRun, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs WHERE 1 = 1`
	args := []any{}

	if command, ok := criteria["command"].(string); ok && command != "" {
		query += " AND command = ?"
		args = append(args, command)
	}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.HarvestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun scans a [sql.Row] or the current row of [sql.Rows] into a [models.HarvestRun]
func scanRun(s scanner) (*models.HarvestRun, error) {
	var (
		id         string
		sequence   int
		command    string
		status     string
		dataDir    string
		written    int
		skipped    int
		failed     int
		names      string
		errMsg     string
		startedAt  time.Time
		finishedAt sql.NullTime
	)

	err := s.Scan(
		&id, &sequence, &command, &status, &dataDir, &written, &skipped, &failed,
		&names, &errMsg, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	var failedPlaylists []string
	if err := json.Unmarshal([]byte(names), &failedPlaylists); err != nil {
		return nil, fmt.Errorf("failed to decode failed playlists of run %s: %w", id, err)
	}

	run := models.NewHarvestRun(command, dataDir)
	run.SetID(id)
	run.SetSequence(sequence)
	run.SetStatus(models.RunStatus(status))
	run.SetCounts(written, skipped, failed)
	run.SetFailedPlaylists(failedPlaylists)
	run.SetError(errMsg)
	run.SetStartedAt(startedAt)
	if finishedAt.Valid {
		run.SetFinishedAt(&finishedAt.Time)
	}

	return run, nil
}

func encodeNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("failed to encode failed playlists: %w", err)
	}
	return string(data), nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func expectOne(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}
