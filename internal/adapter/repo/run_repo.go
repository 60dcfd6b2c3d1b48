// Package repo persists run lifecycle records in PostgreSQL. Persistence is
// an optional collaborator of the orchestrator; the pipeline itself stays
// fully functional without a database.
package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// RunRepositoryPG implements pipeline.RunRecorder.
type RunRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepositoryPG {
	return &RunRepositoryPG{pool: pool}
}

// Create inserts the initial record for a run.
func (r *RunRepositoryPG) Create(ctx context.Context, run *domain.Run) error {
	query := `
INSERT INTO runs (id, session_id, mode, additional_instructions, product_ids, status)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.SessionID,
		run.Config.Mode,
		run.Config.AdditionalInstructions,
		run.Config.SelectedProductIDs,
		run.Status,
	)
	return err
}

// Finish records the terminal status, error message, and final snapshot.
func (r *RunRepositoryPG) Finish(ctx context.Context, runID string, status domain.RunStatus, errMessage string, snapshot []byte) error {
	query := `
UPDATE runs
SET status = $2,
    error_message = $3,
    snapshot_json = COALESCE($4, snapshot_json),
    finished_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, runID, status, errMessage, nullableBytes(snapshot))
	return err
}

// SaveDetails stores the marketing copy generated for a run.
func (r *RunRepositoryPG) SaveDetails(ctx context.Context, runID string, details domain.ProductDetails) error {
	query := `
UPDATE runs
SET details_title = $2,
    details_description = $3,
    details_tags = $4
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, runID, details.Title, details.Description, details.Tags)
	return err
}

// GetStatus fetches the persisted status of a run.
func (r *RunRepositoryPG) GetStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	query := `SELECT status FROM runs WHERE id = $1;`
	var status domain.RunStatus
	if err := r.pool.QueryRow(ctx, query, runID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
