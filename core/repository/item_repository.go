package repository

import (
	"drift-benchmark/core/models"
)

// ItemRepository handles database operations for per-item run results
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// UpsertItemResult records or refreshes one item's outcome for a run
func (r *ItemRepository) UpsertItemResult(result models.ItemResult) error {
	query := `
		INSERT INTO run_items (run_id, item_id, loop_status, iterations_done, pairs_scored, pairs_unscored, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			loop_status = EXCLUDED.loop_status,
			iterations_done = EXCLUDED.iterations_done,
			pairs_scored = EXCLUDED.pairs_scored,
			pairs_unscored = EXCLUDED.pairs_unscored,
			updated_at = NOW()
	`
	_, err := r.db.Exec(query,
		result.RunID,
		result.ItemID,
		result.LoopStatus,
		result.IterationsDone,
		result.PairsScored,
		result.PairsUnscored,
	)
	return err
}

// GetItemResults retrieves all item results for a run in item order
func (r *ItemRepository) GetItemResults(runID string) ([]models.ItemResult, error) {
	query := `
		SELECT run_id, item_id, loop_status, iterations_done, pairs_scored, pairs_unscored, updated_at
		FROM run_items
		WHERE run_id = $1
		ORDER BY item_id ASC
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ItemResult
	for rows.Next() {
		var res models.ItemResult
		err := rows.Scan(
			&res.RunID,
			&res.ItemID,
			&res.LoopStatus,
			&res.IterationsDone,
			&res.PairsScored,
			&res.PairsUnscored,
			&res.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
