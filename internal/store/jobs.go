package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"reelpipe/internal/pipeline"
)

const jobColumns = `id, status, step, pipeline, current_step, total_steps, step_results,
    source_video_url, model_image_url, model_id, batch_id, output_url, error_message,
    post_status, created_at, updated_at, completed_at`

// CreateJob persists a new queued job and returns the stored row.
func (s *Store) CreateJob(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("job required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	now := time.Now().UTC()

	encodedPipeline, err := job.Pipeline.Encode()
	if err != nil {
		return nil, err
	}
	encodedResults, err := encodeStepResults(job.StepResults)
	if err != nil {
		return nil, err
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, status, step, pipeline, current_step, total_steps, step_results,
            source_video_url, model_image_url, model_id, batch_id, output_url,
            error_message, post_status, created_at, updated_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Status),
		job.Step,
		string(encodedPipeline),
		job.CurrentStep,
		len(job.Pipeline.Enabled()),
		string(encodedResults),
		nullableString(job.SourceVideoURL),
		nullableString(job.ModelImageURL),
		nullableString(job.ModelID),
		nullableString(job.BatchID),
		nullableString(job.OutputURL),
		nullableString(job.ErrorMessage),
		nullableString(string(job.PostStatus)),
		timestamp(now),
		timestamp(now),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, job.ID)
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs ordered newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListBatchJobs returns a batch's child jobs ordered by creation.
func (s *Store) ListBatchJobs(ctx context.Context, batchID string) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE batch_id = ? ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Stats returns job counts keyed by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("job stats: %w", err)
		}
		stats[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// ClaimQueued atomically moves the oldest queued job to processing and
// returns it. Returns nil when the queue is empty.
func (s *Store) ClaimQueued(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	var claimedID string
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
			string(StatusQueued))
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				claimedID = ""
				return nil
			}
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(StatusProcessing), timestamp(time.Now()), id, string(StatusQueued))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Raced by a sibling worker; treat as empty and let the caller poll again.
			claimedID = ""
			return nil
		}
		claimedID = id
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("claim queued job: %w", err)
	}
	if claimedID == "" {
		return nil, nil
	}
	return s.GetJob(ctx, claimedID)
}

// SetStep updates the diagnostic progress label.
func (s *Store) SetStep(ctx context.Context, id, label string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET step = ?, updated_at = ? WHERE id = ?`,
		label, timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set step label: %w", err)
	}
	return nil
}

// AppendStepResult durably records one executed step's output together with
// the advanced progress counter and the label of the next pending step.
func (s *Store) AppendStepResult(ctx context.Context, id string, result pipeline.StepResult, currentStep int, nextLabel string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	results := append(job.StepResults, result)
	encoded, err := encodeStepResults(results)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`UPDATE jobs SET step_results = ?, current_step = ?, step = ?, updated_at = ? WHERE id = ?`,
		string(encoded), currentStep, nextLabel, timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("append step result: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a job. Terminal rows are never modified again.
func (s *Store) MarkCompleted(ctx context.Context, id, outputURL string) error {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, output_url = ?, error_message = NULL, step = 'Completed',
            updated_at = ?, completed_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusCompleted), outputURL, now, now, id,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireAffected(res, id)
}

// MarkFailed records the terminal failure reason. Terminal rows are never
// modified again.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusFailed), message, now, now, id,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireAffected(res, id)
}

// ResetForRegenerate begins a fresh logical attempt in place: step results
// before fromStep are kept, later ones dropped, and the job re-enters the
// queue. Only terminal jobs can be regenerated.
func (s *Store) ResetForRegenerate(ctx context.Context, id string, fromStep int) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s; only terminal jobs can be regenerated", id, job.Status)
	}
	if fromStep < 0 || fromStep > len(job.StepResults) {
		return nil, fmt.Errorf("regenerate step %d out of range (job has %d results)", fromStep, len(job.StepResults))
	}

	kept := job.StepResults[:fromStep]
	encoded, err := encodeStepResults(kept)
	if err != nil {
		return nil, err
	}
	_, err = s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, step = '', step_results = ?, current_step = ?,
            output_url = NULL, error_message = NULL, completed_at = NULL, updated_at = ?
         WHERE id = ?`,
		string(StatusQueued), string(encoded), fromStep, timestamp(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("reset job for regenerate: %w", err)
	}
	return s.GetJob(ctx, id)
}

// SetPostStatus records the review decision on a master-batch child.
func (s *Store) SetPostStatus(ctx context.Context, id string, status PostStatus) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET post_status = ?, updated_at = ? WHERE id = ?`,
		string(status), timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	return requireAffected(res, id)
}

// ReclaimProcessing fails every job left in processing, typically after an
// unclean daemon stop. Returns the ids of reclaimed jobs.
func (s *Store) ReclaimProcessing(ctx context.Context, reason string) ([]string, error) {
	jobs, err := s.ListJobs(ctx, StatusProcessing)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := s.MarkFailed(ctx, job.ID, reason); err != nil {
			return ids, err
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func requireAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func encodeStepResults(results []pipeline.StepResult) ([]byte, error) {
	if results == nil {
		results = []pipeline.StepResult{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode step results: %w", err)
	}
	return encoded, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job            Job
		status         string
		pipelineJSON   string
		resultsJSON    string
		sourceVideoURL sql.NullString
		modelImageURL  sql.NullString
		modelID        sql.NullString
		batchID        sql.NullString
		outputURL      sql.NullString
		errorMessage   sql.NullString
		postStatus     sql.NullString
		createdAt      sql.NullString
		updatedAt      sql.NullString
		completedAt    sql.NullString
	)
	err := row.Scan(
		&job.ID, &status, &job.Step, &pipelineJSON, &job.CurrentStep, &job.TotalSteps,
		&resultsJSON, &sourceVideoURL, &modelImageURL, &modelID, &batchID, &outputURL,
		&errorMessage, &postStatus, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	decoded, err := pipeline.Decode([]byte(pipelineJSON))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Pipeline = decoded
	if err := json.Unmarshal([]byte(resultsJSON), &job.StepResults); err != nil {
		return nil, fmt.Errorf("job %s: decode step results: %w", job.ID, err)
	}
	job.SourceVideoURL = sourceVideoURL.String
	job.ModelImageURL = modelImageURL.String
	job.ModelID = modelID.String
	job.BatchID = batchID.String
	job.OutputURL = outputURL.String
	job.ErrorMessage = errorMessage.String
	job.PostStatus = PostStatus(postStatus.String)
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(updatedAt)
	job.CompletedAt = parseTimestamp(completedAt)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
