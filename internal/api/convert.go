package api

import (
	"context"
	"log/slog"
	"time"

	"reelpipe/internal/logging"
	"reelpipe/internal/storage"
	"reelpipe/internal/store"
)

// Resolver mints short-lived URLs for permanent storage references.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Converter builds API views from store records, resolving storage
// references through the signed-URL cache. Signing failures degrade to the
// permanent reference; they never fail the read.
type Converter struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewConverter constructs a Converter. A nil resolver leaves references
// unresolved.
func NewConverter(resolver Resolver, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Converter{resolver: resolver, logger: logging.NewComponentLogger(logger, "api")}
}

// FromJob converts a job record to its API representation.
func (c *Converter) FromJob(ctx context.Context, job *store.Job) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		ID:             job.ID,
		Status:         string(job.Status),
		Step:           job.Step,
		PipelineName:   job.Pipeline.DisplayName(),
		CurrentStep:    job.CurrentStep,
		TotalSteps:     job.TotalSteps,
		SourceVideoURL: job.SourceVideoURL,
		ModelImageURL:  job.ModelImageURL,
		ModelID:        job.ModelID,
		BatchID:        job.BatchID,
		OutputURL:      job.OutputURL,
		ErrorMessage:   job.ErrorMessage,
		PostStatus:     string(job.PostStatus),
		CreatedAt:      FormatTime(job.CreatedAt),
		UpdatedAt:      FormatTime(job.UpdatedAt),
		CompletedAt:    FormatTime(job.CompletedAt),
	}
	view.ResolvedURL = c.resolve(ctx, job.ID, job.OutputURL)

	view.StepResults = make([]StepResultView, 0, len(job.StepResults))
	for _, result := range job.StepResults {
		rv := StepResultView{
			StepID:      result.StepID,
			Type:        string(result.Type),
			Label:       result.Label,
			OutputURL:   result.OutputURL,
			ResolvedURL: c.resolve(ctx, job.ID, result.OutputURL),
			CompletedAt: FormatTime(result.CompletedAt),
		}
		for _, item := range result.Items {
			rv.Items = append(rv.Items, StepItemView{
				InputURL:    item.InputURL,
				OutputURL:   item.OutputURL,
				ResolvedURL: c.resolve(ctx, job.ID, item.OutputURL),
				Error:       item.Error,
			})
		}
		view.StepResults = append(view.StepResults, rv)
	}
	return view
}

// FromJobs converts a slice of job records into API views.
func (c *Converter) FromJobs(ctx context.Context, jobs []*store.Job) []JobView {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, c.FromJob(ctx, job))
	}
	return out
}

// FromBatch converts a batch record, optionally including its child jobs.
func (c *Converter) FromBatch(ctx context.Context, batch *store.Batch, jobs []*store.Job) BatchView {
	if batch == nil {
		return BatchView{}
	}
	return BatchView{
		ID:            batch.ID,
		Kind:          string(batch.Kind),
		PipelineName:  batch.PipelineName,
		ModelID:       batch.ModelID,
		Status:        string(batch.Status),
		TotalJobs:     batch.TotalJobs,
		CompletedJobs: batch.CompletedJobs,
		FailedJobs:    batch.FailedJobs,
		Jobs:          c.FromJobs(ctx, jobs),
		CreatedAt:     FormatTime(batch.CreatedAt),
		UpdatedAt:     FormatTime(batch.UpdatedAt),
	}
}

// resolve returns a signed URL for a permanent reference, or the reference
// itself when it is not permanent or signing fails.
func (c *Converter) resolve(ctx context.Context, jobID, ref string) string {
	if ref == "" || c.resolver == nil || !storage.IsPermanentRef(ref) {
		return ""
	}
	resolved, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		c.logger.Warn("failed to resolve storage reference; returning permanent reference",
			logging.String(logging.FieldJobID, jobID),
			logging.String("ref", ref),
			logging.Error(err))
		return ref
	}
	return resolved
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
