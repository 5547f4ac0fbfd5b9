package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const batchColumns = `id, kind, pipeline_name, model_id, status, total_jobs,
    completed_jobs, failed_jobs, created_at, updated_at`

// CreateBatch persists a new batch parent row in the pending state.
func (s *Store) CreateBatch(ctx context.Context, batch *Batch) (*Batch, error) {
	if batch == nil {
		return nil, errors.New("batch required")
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Kind == "" {
		batch.Kind = KindBatch
	}
	if batch.TotalJobs <= 0 {
		return nil, errors.New("batch requires at least one job")
	}
	now := timestamp(time.Now())

	_, err := s.execWithRetry(ctx,
		`INSERT INTO batches (
            id, kind, pipeline_name, model_id, status, total_jobs,
            completed_jobs, failed_jobs, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		batch.ID,
		string(batch.Kind),
		nullableString(batch.PipelineName),
		nullableString(batch.ModelID),
		string(BatchPending),
		batch.TotalJobs,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return s.GetBatch(ctx, batch.ID)
}

// GetBatch fetches one batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches ordered newest first.
func (s *Store) ListBatches(ctx context.Context, kind BatchKind) ([]*Batch, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + batchColumns + ` FROM batches`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// MarkBatchProcessing moves a pending batch to processing once any child has
// left the queue. A no-op for batches already past pending.
func (s *Store) MarkBatchProcessing(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(BatchProcessing), timestamp(time.Now()), id, string(BatchPending))
	if err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}
	return nil
}

// IncrementBatchCounters atomically records one child's terminal state and
// recomputes the parent status. Sibling completions racing within the same
// instant each land their own increment; counters are never read-modify-write
// in application code.
func (s *Store) IncrementBatchCounters(ctx context.Context, id string, failed bool) (*Batch, error) {
	completedDelta, failedDelta := 1, 0
	if failed {
		completedDelta, failedDelta = 0, 1
	}
	now := timestamp(time.Now())

	err := retryOnBusy(ensureContext(ctx), func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE batches SET
                completed_jobs = completed_jobs + ?,
                failed_jobs = failed_jobs + ?,
                updated_at = ?
             WHERE id = ? AND completed_jobs + failed_jobs < total_jobs`,
			completedDelta, failedDelta, now, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("batch %s: counters already saturated or %w", id, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET status = CASE
                WHEN completed_jobs + failed_jobs < total_jobs THEN ?
                WHEN failed_jobs = 0 THEN ?
                WHEN completed_jobs = 0 THEN ?
                ELSE ?
             END, updated_at = ?
             WHERE id = ?`,
			string(BatchProcessing), string(BatchCompleted), string(BatchFailed), string(BatchPartial),
			now, id)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("increment batch counters: %w", err)
	}
	return s.GetBatch(ctx, id)
}

func scanBatch(row rowScanner) (*Batch, error) {
	var (
		batch        Batch
		kind         string
		pipelineName sql.NullString
		modelID      sql.NullString
		status       string
		createdAt    sql.NullString
		updatedAt    sql.NullString
	)
	err := row.Scan(
		&batch.ID, &kind, &pipelineName, &modelID, &status,
		&batch.TotalJobs, &batch.CompletedJobs, &batch.FailedJobs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.Kind = BatchKind(kind)
	batch.PipelineName = pipelineName.String
	batch.ModelID = modelID.String
	batch.Status = BatchStatus(status)
	batch.CreatedAt = parseTimestamp(createdAt)
	batch.UpdatedAt = parseTimestamp(updatedAt)
	return &batch, nil
}
