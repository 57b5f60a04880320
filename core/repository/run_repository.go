package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"drift-benchmark/core/models"

	"github.com/google/uuid"
)

// RunRepository handles database operations for benchmark runs
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a new run in pending status
func (r *RunRepository) CreateRun(run *models.Run) error {
	query := `
		INSERT INTO runs (
			id, name, mode, status, spec_yaml, items_total,
			items_completed, items_failed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	runID := uuid.New()
	if run.ID != "" {
		var err error
		runID, err = uuid.Parse(run.ID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	_, err := r.db.Exec(query,
		runID,
		run.Name,
		run.Mode,
		run.Status,
		run.SpecYAML,
		run.ItemsTotal,
		run.ItemsCompleted,
		run.ItemsFailed,
		now,
		now,
	)
	if err != nil {
		return err
	}

	run.ID = runID.String()
	run.CreatedAt = now

	return r.CreateRunEvent(run.ID, nil, run.Status, "run_created", nil)
}

// GetRun retrieves a run by ID. The spec YAML is returned raw; callers
// parse it when they need the validated form.
func (r *RunRepository) GetRun(id string) (*models.Run, error) {
	query := `
		SELECT id, name, mode, status, spec_yaml, items_total,
			items_completed, items_failed, started_at, finished_at,
			created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	var run models.Run
	var startedAt sql.NullTime
	var finishedAt sql.NullTime

	err := r.db.QueryRow(query, id).Scan(
		&run.ID,
		&run.Name,
		&run.Mode,
		&run.Status,
		&run.SpecYAML,
		&run.ItemsTotal,
		&run.ItemsCompleted,
		&run.ItemsFailed,
		&startedAt,
		&finishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.CompletedAt = &finishedAt.Time
	}

	return &run, nil
}

// GetPendingRuns lists runs awaiting pickup in submission order
func (r *RunRepository) GetPendingRuns(limit int) ([]*models.Run, error) {
	query := `
		SELECT id, name, mode, status, spec_yaml, created_at, updated_at
		FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(query, models.RunStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		if err := rows.Scan(&run.ID, &run.Name, &run.Mode, &run.Status, &run.SpecYAML, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates run status atomically with event logging.
// Guarding on fromStatus keeps concurrent transitions honest: the update
// is a no-op when the run already moved on.
func (r *RunRepository) UpdateRunStatus(runID string, fromStatus, toStatus models.RunStatus, reason string, meta map[string]interface{}) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updateQuery := `UPDATE runs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := tx.Exec(updateQuery, toStatus, runID, fromStatus)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s is not in status %q", runID, fromStatus)
	}

	switch toStatus {
	case models.RunStatusGenerating, models.RunStatusEvaluating:
		if fromStatus == models.RunStatusPending {
			if _, err := tx.Exec(`UPDATE runs SET started_at = NOW() WHERE id = $1 AND started_at IS NULL`, runID); err != nil {
				return err
			}
		}
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		if _, err := tx.Exec(`UPDATE runs SET finished_at = NOW() WHERE id = $1 AND finished_at IS NULL`, runID); err != nil {
			return err
		}
	}

	if err := r.createRunEventTx(tx, runID, &fromStatus, toStatus, reason, meta); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateRunProgress updates the per-item counters for a run
func (r *RunRepository) UpdateRunProgress(runID string, total, completed, failed int) error {
	query := `
		UPDATE runs
		SET items_total = $1, items_completed = $2, items_failed = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.Exec(query, total, completed, failed, runID)
	return err
}

// CreateRunEvent records a run event
func (r *RunRepository) CreateRunEvent(runID string, fromStatus *models.RunStatus, toStatus models.RunStatus, reason string, meta map[string]interface{}) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.createRunEventTx(tx, runID, fromStatus, toStatus, reason, meta); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *RunRepository) createRunEventTx(tx *sql.Tx, runID string, fromStatus *models.RunStatus, toStatus models.RunStatus, reason string, meta map[string]interface{}) error {
	query := `
		INSERT INTO run_events (run_id, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5)
	`

	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	metaJSON := "{}"
	if meta != nil {
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to serialize event meta: %w", err)
		}
		metaJSON = string(metaBytes)
	}

	_, err := tx.Exec(query, runID, fromStatusStr, toStatus, reason, metaJSON)
	return err
}

// ListRuns lists runs with an optional status filter, newest first
func (r *RunRepository) ListRuns(status *models.RunStatus, limit int) ([]*models.Run, error) {
	query := `
		SELECT id, name, mode, status, items_total, items_completed, items_failed, created_at, updated_at
		FROM runs
	`
	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		err := rows.Scan(
			&run.ID,
			&run.Name,
			&run.Mode,
			&run.Status,
			&run.ItemsTotal,
			&run.ItemsCompleted,
			&run.ItemsFailed,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
