package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reelpipe/internal/logging"
	"reelpipe/internal/metrics"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/steps"
	"reelpipe/internal/store"
)

// Runner executes one job's enabled pipeline steps in order, persisting
// state after every step so progress is observable at each boundary.
type Runner struct {
	store       *store.Store
	registry    *steps.Registry
	stepTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New constructs a Runner.
func New(st *store.Store, registry *steps.Registry, stepTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:       st,
		registry:    registry,
		stepTimeout: stepTimeout,
		metrics:     m,
		logger:      logging.NewComponentLogger(logger, "runner"),
	}
}

// Execute advances a claimed (processing) job to a terminal state. Step N+1
// never starts before step N's result is durably persisted; the first step
// failure stops the run with no further executor invocations.
func (r *Runner) Execute(ctx context.Context, job *store.Job) error {
	runCtx := services.WithJobID(ctx, job.ID)
	jobLogger := logging.WithContext(runCtx, r.logger)

	if job.Status != store.StatusProcessing {
		return fmt.Errorf("job %s is %s, expected %s", job.ID, job.Status, store.StatusProcessing)
	}
	if job.BatchID != "" {
		if err := r.store.MarkBatchProcessing(runCtx, job.BatchID); err != nil {
			jobLogger.Warn("failed to mark parent batch processing", logging.Error(err))
		}
	}

	enabled := job.Pipeline.Enabled()
	if len(enabled) == 0 {
		return r.fail(runCtx, jobLogger, job, fmt.Errorf("pipeline has no enabled steps"))
	}

	// A regenerated job resumes after its kept results; a fresh one starts
	// from the declared source.
	start := len(job.StepResults)
	if start > len(enabled) {
		return r.fail(runCtx, jobLogger, job, fmt.Errorf("job has %d results for %d enabled steps", start, len(enabled)))
	}
	inputRef := job.SourceRef()
	if start > 0 {
		inputRef = job.StepResults[start-1].OutputURL
	}

	jobLogger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("pipeline", job.Pipeline.DisplayName()),
		logging.Int("enabled_steps", len(enabled)),
		logging.Int("starting_at", start))

	for i := start; i < len(enabled); i++ {
		step := enabled[i]
		stepCtx := services.WithStep(runCtx, string(step.Type))
		stepCtx = services.WithRequestID(stepCtx, uuid.NewString())
		stepLogger := logging.WithContext(stepCtx, r.logger)

		if err := r.store.SetStep(stepCtx, job.ID, "Running: "+step.Type.Label()); err != nil {
			return r.fail(stepCtx, stepLogger, job, fmt.Errorf("persist step label: %w", err))
		}

		execCtx, cancel := context.WithTimeout(stepCtx, r.stepTimeout)
		stepStart := time.Now()
		output, execErr := r.registry.Execute(execCtx, job, step, inputRef)
		cancel()
		elapsed := time.Since(stepStart)

		if r.metrics != nil {
			r.metrics.StepDuration.WithLabelValues(string(step.Type)).Observe(elapsed.Seconds())
		}
		if execErr != nil {
			if r.metrics != nil {
				r.metrics.StepFailures.WithLabelValues(string(step.Type)).Inc()
			}
			stepLogger.Error("step failed",
				logging.String(logging.FieldEventType, "step_failed"),
				logging.Duration("elapsed", elapsed),
				logging.Error(execErr))
			return r.fail(stepCtx, stepLogger, job, execErr)
		}
		if r.metrics != nil {
			r.metrics.StepsExecuted.WithLabelValues(string(step.Type)).Inc()
		}

		nextLabel := "Finalizing"
		if i+1 < len(enabled) {
			nextLabel = "Waiting: " + enabled[i+1].Type.Label()
		}
		result := pipeline.StepResult{
			StepID:      step.ID,
			Type:        step.Type,
			Label:       step.Type.Label(),
			OutputURL:   output.Ref,
			Items:       output.Items,
			CompletedAt: time.Now().UTC(),
		}
		if err := r.store.AppendStepResult(stepCtx, job.ID, result, i+1, nextLabel); err != nil {
			return r.fail(stepCtx, stepLogger, job, fmt.Errorf("persist step result: %w", err))
		}

		stepLogger.Info("step finished",
			logging.String(logging.FieldEventType, "step_finished"),
			logging.Duration("elapsed", elapsed),
			logging.String("output_ref", output.Ref))
		inputRef = output.Ref
	}

	if err := r.store.MarkCompleted(runCtx, job.ID, inputRef); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if r.metrics != nil {
		r.metrics.JobsCompleted.Inc()
	}
	jobLogger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_completed"),
		logging.String("output_ref", inputRef))
	return nil
}

// fail records the terminal failure and returns the original error. Errors
// stay confined to this job; the caller keeps serving other jobs.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, job *store.Job, cause error) error {
	if err := r.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	if r.metrics != nil {
		r.metrics.JobsFailed.Inc()
	}
	return cause
}
