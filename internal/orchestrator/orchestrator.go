package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"

	"reelpipe/internal/logging"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/services/late"
	"reelpipe/internal/store"
)

// Kicker wakes the worker pool after new rows are queued.
type Kicker interface {
	Kick()
}

// Poster publishes finished videos through the social posting API.
type Poster interface {
	CreatePost(ctx context.Context, req late.PostRequest) (late.PostRecord, error)
}

// RefResolver mints browser/API-usable URLs for permanent references.
type RefResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Service translates creation requests into persisted job/batch rows and
// keeps parent aggregates consistent as children finish.
type Service struct {
	store          *store.Store
	kicker         Kicker
	poster         Poster
	resolver       RefResolver
	autoPost       bool
	defaultAccount string
	logger         *slog.Logger
}

// New constructs the orchestrator service.
func New(st *store.Store, kicker Kicker, poster Poster, resolver RefResolver, autoPost bool, defaultAccount string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:          st,
		kicker:         kicker,
		poster:         poster,
		resolver:       resolver,
		autoPost:       autoPost,
		defaultAccount: defaultAccount,
		logger:         logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// JobRequest describes one job creation.
type JobRequest struct {
	SourceVideoURL string
	ModelImageURL  string
	ModelID        string
	Pipeline       pipeline.Pipeline
}

// Persona is a reusable identity substituted into generation steps.
type Persona struct {
	ID       string
	ImageURL string
}

// CreateJob validates the request, persists a queued job, and wakes the
// workers. It returns immediately; execution happens on the worker pool.
func (s *Service) CreateJob(ctx context.Context, req JobRequest) (*store.Job, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	job, err := s.store.CreateJob(ctx, &store.Job{
		Pipeline:       req.Pipeline,
		SourceVideoURL: strings.TrimSpace(req.SourceVideoURL),
		ModelImageURL:  strings.TrimSpace(req.ModelImageURL),
		ModelID:        strings.TrimSpace(req.ModelID),
	})
	if err != nil {
		return nil, err
	}
	s.kicker.Kick()
	s.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("pipeline", job.Pipeline.DisplayName()))
	return job, nil
}

// CreateBatch fans one request out over N source items. Children execute
// independently; the parent only aggregates their terminal states.
func (s *Service) CreateBatch(ctx context.Context, sourceVideoURLs []string, common JobRequest) (*store.Batch, []*store.Job, error) {
	if len(sourceVideoURLs) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "create batch", "at least one source item required", nil)
	}
	for i, url := range sourceVideoURLs {
		probe := common
		probe.SourceVideoURL = url
		if err := s.validate(probe); err != nil {
			return nil, nil, fmt.Errorf("source item %d: %w", i, err)
		}
	}

	batch, err := s.store.CreateBatch(ctx, &store.Batch{
		Kind:         store.KindBatch,
		PipelineName: common.Pipeline.DisplayName(),
		ModelID:      strings.TrimSpace(common.ModelID),
		TotalJobs:    len(sourceVideoURLs),
	})
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]*store.Job, 0, len(sourceVideoURLs))
	for _, url := range sourceVideoURLs {
		job, err := s.store.CreateJob(ctx, &store.Job{
			Pipeline:       common.Pipeline,
			SourceVideoURL: strings.TrimSpace(url),
			ModelImageURL:  strings.TrimSpace(common.ModelImageURL),
			ModelID:        strings.TrimSpace(common.ModelID),
			BatchID:        batch.ID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create batch child: %w", err)
		}
		jobs = append(jobs, job)
	}

	s.kicker.Kick()
	s.logger.Info("batch queued",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("jobs", len(jobs)))
	return batch, jobs, nil
}

// CreateMasterBatch runs one pipeline across all selected personas: one
// child job per persona, each with the persona's image baked into its
// generation steps.
func (s *Service) CreateMasterBatch(ctx context.Context, personas []Persona, p pipeline.Pipeline) (*store.Batch, []*store.Job, error) {
	if len(personas) == 0 {
		return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "create master batch", "at least one persona required", nil)
	}
	// The template may leave generation images blank for personas to fill
	// in, so validation runs on each baked pipeline, never the template.
	bakedPipelines := make([]pipeline.Pipeline, 0, len(personas))
	for i, persona := range personas {
		if strings.TrimSpace(persona.ImageURL) == "" {
			return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "create master batch",
				fmt.Sprintf("persona %d has no image", i), nil)
		}
		baked, err := bakePersona(p, persona)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "create master batch", "", err)
		}
		if err := baked.Validate(); err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "create master batch",
				fmt.Sprintf("persona %d", i), err)
		}
		bakedPipelines = append(bakedPipelines, baked)
	}

	batch, err := s.store.CreateBatch(ctx, &store.Batch{
		Kind:         store.KindMaster,
		PipelineName: p.DisplayName(),
		TotalJobs:    len(personas),
	})
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]*store.Job, 0, len(personas))
	for i, persona := range personas {
		job, err := s.store.CreateJob(ctx, &store.Job{
			Pipeline:      bakedPipelines[i],
			ModelImageURL: persona.ImageURL,
			ModelID:       persona.ID,
			BatchID:       batch.ID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create master batch child: %w", err)
		}
		jobs = append(jobs, job)
	}

	s.kicker.Kick()
	s.logger.Info("master batch queued",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String("pipeline", p.DisplayName()),
		logging.Int("personas", len(jobs)))
	return batch, jobs, nil
}

// Regenerate begins a fresh attempt of a terminal job, keeping results
// before fromStep and re-running everything after.
func (s *Service) Regenerate(ctx context.Context, jobID string, fromStep int) (*store.Job, error) {
	job, err := s.store.ResetForRegenerate(ctx, jobID, fromStep)
	if err != nil {
		return nil, err
	}
	s.kicker.Kick()
	s.logger.Info("job requeued for regeneration",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("from_step", fromStep))
	return job, nil
}

// SetPostStatus records the review decision on a master-batch child.
// Approving posts the job's output through the posting API.
func (s *Service) SetPostStatus(ctx context.Context, jobID string, status store.PostStatus, caption string) (*store.Job, error) {
	switch status {
	case store.PostStatusPosted, store.PostStatusRejected:
	default:
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "review", fmt.Sprintf("unknown post status %q", status), nil)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status == store.PostStatusPosted {
		if job.Status != store.StatusCompleted || job.OutputURL == "" {
			return nil, services.Wrap(services.ErrValidation, "orchestrator", "review", "only completed jobs can be posted", nil)
		}
		if err := s.post(ctx, job, caption); err != nil {
			return nil, err
		}
	}
	if err := s.store.SetPostStatus(ctx, jobID, status); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, jobID)
}

// OnJobTerminal is the manager hook keeping parent aggregates consistent
// and firing auto-post for standalone completed jobs.
func (s *Service) OnJobTerminal(ctx context.Context, job *store.Job) {
	if job.BatchID != "" {
		batch, err := s.store.IncrementBatchCounters(ctx, job.BatchID, job.Status == store.StatusFailed)
		if err != nil {
			s.logger.Error("failed to update batch counters",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldBatchID, job.BatchID),
				logging.Error(err))
		} else if batch.Terminal() {
			s.logger.Info("batch finished",
				logging.String(logging.FieldBatchID, batch.ID),
				logging.String("status", string(batch.Status)),
				logging.Int("completed", batch.CompletedJobs),
				logging.Int("failed", batch.FailedJobs))
		}
	}

	// Master-batch children wait for human review; everything else may
	// auto-post when enabled.
	if s.autoPost && job.Status == store.StatusCompleted && !s.awaitingReview(ctx, job) {
		if err := s.post(ctx, job, ""); err != nil {
			s.logger.Error("auto-post failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
}

func (s *Service) awaitingReview(ctx context.Context, job *store.Job) bool {
	if job.BatchID == "" {
		return false
	}
	batch, err := s.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return false
	}
	return batch.Kind == store.KindMaster
}

func (s *Service) post(ctx context.Context, job *store.Job, caption string) error {
	if s.poster == nil {
		return services.Wrap(services.ErrConfiguration, "orchestrator", "post", "posting api not configured", nil)
	}
	mediaURL := job.OutputURL
	if s.resolver != nil {
		if resolved, err := s.resolver.Resolve(ctx, job.OutputURL); err == nil {
			mediaURL = resolved
		} else {
			s.logger.Warn("signing output for post failed; using permanent reference",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
	record, err := s.poster.CreatePost(ctx, late.PostRequest{
		MediaURL:  mediaURL,
		Caption:   caption,
		AccountID: s.defaultAccount,
	})
	if err != nil {
		return err
	}
	s.logger.Info("post created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("post_id", record.ID))
	return nil
}

// validate rejects malformed creation requests synchronously, before any
// row is persisted.
func (s *Service) validate(req JobRequest) error {
	if err := req.Pipeline.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "orchestrator", "create job", "", err)
	}
	first, _ := req.Pipeline.FirstEnabled()
	switch first.Type {
	case pipeline.StepVideoGeneration:
		cfg, err := first.VideoGeneration()
		if err != nil {
			return services.Wrap(services.ErrValidation, "orchestrator", "create job", "", err)
		}
		if cfg.RequiresSourceVideo() {
			if strings.TrimSpace(cfg.SourceVideoURL) == "" && strings.TrimSpace(req.SourceVideoURL) == "" {
				return services.Wrap(services.ErrValidation, "orchestrator", "create job",
					"motion-control pipelines need a source video", nil)
			}
		}
	case pipeline.StepBatchVideoGeneration:
		// Image fan-out is self-contained in the step config.
	default:
		// Render-style first steps consume the job's declared source directly.
		if strings.TrimSpace(req.SourceVideoURL) == "" {
			return services.Wrap(services.ErrValidation, "orchestrator", "create job",
				fmt.Sprintf("first step %s needs a source video", first.Type), nil)
		}
	}
	return nil
}

// bakePersona rewrites the pipeline's generation steps to carry the
// persona's image, leaving every other step untouched.
func bakePersona(p pipeline.Pipeline, persona Persona) (pipeline.Pipeline, error) {
	baked := pipeline.Pipeline{Name: p.Name, Steps: make([]pipeline.Step, len(p.Steps))}
	copy(baked.Steps, p.Steps)
	for i, step := range baked.Steps {
		if step.Type != pipeline.StepVideoGeneration {
			continue
		}
		cfg, err := step.VideoGeneration()
		if err != nil {
			return pipeline.Pipeline{}, err
		}
		cfg.ModelImageURL = persona.ImageURL
		encoded, err := json.Marshal(cfg)
		if err != nil {
			return pipeline.Pipeline{}, fmt.Errorf("bake persona into step %s: %w", step.ID, err)
		}
		baked.Steps[i].Config = encoded
	}
	return baked, nil
}
