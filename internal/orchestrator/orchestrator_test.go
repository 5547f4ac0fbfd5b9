package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"reelpipe/internal/orchestrator"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/services/late"
	"reelpipe/internal/store"
	"reelpipe/internal/testsupport"
)

type countingKicker struct {
	mu    sync.Mutex
	kicks int
}

func (k *countingKicker) Kick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kicks++
}

func (k *countingKicker) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []late.PostRequest
	err   error
}

func (p *recordingPoster) CreatePost(ctx context.Context, req late.PostRequest) (late.PostRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return late.PostRecord{}, p.err
	}
	p.posts = append(p.posts, req)
	return late.PostRecord{ID: "post-1", Status: "published"}, nil
}

func (p *recordingPoster) recorded() []late.PostRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]late.PostRequest, len(p.posts))
	copy(out, p.posts)
	return out
}

type harness struct {
	store  *store.Store
	kicker *countingKicker
	poster *recordingPoster
	svc    *orchestrator.Service
}

func newHarness(t *testing.T, autoPost bool) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	kicker := &countingKicker{}
	poster := &recordingPoster{}
	svc := orchestrator.New(st, kicker, poster, nil, autoPost, "acct-default", nil)
	return &harness{store: st, kicker: kicker, poster: poster, svc: svc}
}

func motionControlPipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	return pipeline.Pipeline{
		Name: "motion swap",
		Steps: []pipeline.Step{{
			ID:      "generate",
			Type:    pipeline.StepVideoGeneration,
			Enabled: true,
			Config: testsupport.StepConfig(t, pipeline.VideoGenerationConfig{
				Mode:          pipeline.ModeMotionControl,
				ModelImageURL: "https://cdn.example.com/model.png",
			}),
		}},
	}
}

// completeChild drives one batch child to a terminal state through the store
// the way a worker would, then fires the terminal hook.
func completeChild(t *testing.T, h *harness, fail bool) {
	t.Helper()
	ctx := context.Background()
	claimed, err := h.store.ClaimQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimQueued: job=%v err=%v", claimed, err)
	}
	if fail {
		if err := h.store.MarkFailed(ctx, claimed.ID, "generation rejected"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	} else {
		if err := h.store.MarkCompleted(ctx, claimed.ID, "gs://memory/out-"+claimed.ID); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	}
	final, err := h.store.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	h.svc.OnJobTerminal(ctx, final)
}

func TestCreateJobQueuesAndKicks(t *testing.T) {
	h := newHarness(t, false)
	job, err := h.svc.CreateJob(context.Background(), orchestrator.JobRequest{
		Pipeline: testsupport.GenerationPipeline(t, "solo"),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.Status != store.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if h.kicker.count() != 1 {
		t.Fatalf("kicks = %d, want 1", h.kicker.count())
	}
}

func TestCreateJobValidatesSynchronously(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	// Motion-control without any source video.
	_, err := h.svc.CreateJob(ctx, orchestrator.JobRequest{Pipeline: motionControlPipeline(t)})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Render-first pipeline without a source to render.
	overlayFirst := pipeline.Pipeline{
		Name: "caption only",
		Steps: []pipeline.Step{{
			ID:      "overlay",
			Type:    pipeline.StepTextOverlay,
			Enabled: true,
			Config:  testsupport.StepConfig(t, pipeline.TextOverlayConfig{Text: "hello"}),
		}},
	}
	_, err = h.svc.CreateJob(ctx, orchestrator.JobRequest{Pipeline: overlayFirst})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Nothing was persisted.
	jobs, err := h.store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty store, found %d jobs", len(jobs))
	}
}

func TestCreateBatchFansOut(t *testing.T) {
	h := newHarness(t, false)
	sources := []string{
		"https://www.tiktok.com/@a/video/1",
		"https://www.tiktok.com/@a/video/2",
		"https://www.tiktok.com/@a/video/3",
	}
	batch, jobs, err := h.svc.CreateBatch(context.Background(), sources, orchestrator.JobRequest{
		Pipeline: motionControlPipeline(t),
		ModelID:  "model-9",
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if batch.Kind != store.KindBatch || batch.TotalJobs != 3 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if len(jobs) != 3 {
		t.Fatalf("children = %d, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.BatchID != batch.ID {
			t.Fatalf("child %d batch id = %q", i, job.BatchID)
		}
		if job.SourceVideoURL != sources[i] {
			t.Fatalf("child %d source = %q, want %q", i, job.SourceVideoURL, sources[i])
		}
	}
	// One kick for the whole batch, not one per child.
	if h.kicker.count() != 1 {
		t.Fatalf("kicks = %d, want 1", h.kicker.count())
	}
}

func TestBatchPartialFailureAggregation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	sources := []string{
		"https://www.tiktok.com/@a/video/1",
		"https://www.tiktok.com/@a/video/2",
		"https://www.tiktok.com/@a/video/3",
	}
	batch, _, err := h.svc.CreateBatch(ctx, sources, orchestrator.JobRequest{
		Pipeline: motionControlPipeline(t),
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	completeChild(t, h, false)
	completeChild(t, h, true)

	mid, err := h.store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if mid.Terminal() {
		t.Fatalf("batch terminal with %d/%d children done", mid.CompletedJobs+mid.FailedJobs, mid.TotalJobs)
	}

	completeChild(t, h, false)

	final, err := h.store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if final.CompletedJobs != 2 || final.FailedJobs != 1 {
		t.Fatalf("counters = %d/%d, want 2/1", final.CompletedJobs, final.FailedJobs)
	}
	if final.Status != store.BatchPartial {
		t.Fatalf("status = %s, want partial", final.Status)
	}
}

func TestCreateMasterBatchBakesPersonaImages(t *testing.T) {
	h := newHarness(t, false)
	personas := []orchestrator.Persona{
		{ID: "luna", ImageURL: "https://cdn.example.com/luna.png"},
		{ID: "nova", ImageURL: "https://cdn.example.com/nova.png"},
	}
	batch, jobs, err := h.svc.CreateMasterBatch(context.Background(), personas, testsupport.GenerationPipeline(t, "weekly drop"))
	if err != nil {
		t.Fatalf("CreateMasterBatch failed: %v", err)
	}
	if batch.Kind != store.KindMaster {
		t.Fatalf("kind = %s, want master", batch.Kind)
	}
	for i, job := range jobs {
		if job.ModelID != personas[i].ID {
			t.Fatalf("child %d model id = %q, want %q", i, job.ModelID, personas[i].ID)
		}
		cfg, err := job.Pipeline.Steps[0].VideoGeneration()
		if err != nil {
			t.Fatalf("decode child %d config: %v", i, err)
		}
		if cfg.ModelImageURL != personas[i].ImageURL {
			t.Fatalf("child %d image = %q, want %q", i, cfg.ModelImageURL, personas[i].ImageURL)
		}
	}
}

func TestCreateMasterBatchAcceptsTemplateWithoutImage(t *testing.T) {
	h := newHarness(t, false)
	template := pipeline.Pipeline{
		Name: "persona fill-in",
		Steps: []pipeline.Step{
			{
				ID:      "generate",
				Type:    pipeline.StepVideoGeneration,
				Enabled: true,
				Config: testsupport.StepConfig(t, pipeline.VideoGenerationConfig{
					Prompt: "evening drop",
					Mode:   pipeline.ModeSubtleAnimation,
				}),
			},
		},
	}

	batch, jobs, err := h.svc.CreateMasterBatch(context.Background(), []orchestrator.Persona{
		{ID: "luna", ImageURL: "https://cdn.example.com/luna.png"},
	}, template)
	if err != nil {
		t.Fatalf("CreateMasterBatch failed: %v", err)
	}
	if batch.TotalJobs != 1 || len(jobs) != 1 {
		t.Fatalf("expected one child, got batch total %d, jobs %d", batch.TotalJobs, len(jobs))
	}
	cfg, err := jobs[0].Pipeline.Steps[0].VideoGeneration()
	if err != nil {
		t.Fatalf("decode child config: %v", err)
	}
	if cfg.ModelImageURL != "https://cdn.example.com/luna.png" {
		t.Fatalf("baked image = %q", cfg.ModelImageURL)
	}
}

func TestAutoPostOnCompletion(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.CreateJob(context.Background(), orchestrator.JobRequest{
		Pipeline: testsupport.GenerationPipeline(t, "solo"),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	completeChild(t, h, false)

	posts := h.poster.recorded()
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	if posts[0].MediaURL == "" {
		t.Fatal("post carries no media url")
	}
}

func TestAutoPostSkipsMasterBatchChildren(t *testing.T) {
	h := newHarness(t, true)
	_, _, err := h.svc.CreateMasterBatch(context.Background(), []orchestrator.Persona{
		{ID: "luna", ImageURL: "https://cdn.example.com/luna.png"},
	}, testsupport.GenerationPipeline(t, "weekly drop"))
	if err != nil {
		t.Fatalf("CreateMasterBatch failed: %v", err)
	}

	completeChild(t, h, false)

	if posts := h.poster.recorded(); len(posts) != 0 {
		t.Fatalf("master-batch child auto-posted: %+v", posts)
	}
}

func TestReviewApprovalPostsOutput(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, jobs, err := h.svc.CreateMasterBatch(ctx, []orchestrator.Persona{
		{ID: "luna", ImageURL: "https://cdn.example.com/luna.png"},
	}, testsupport.GenerationPipeline(t, "weekly drop"))
	if err != nil {
		t.Fatalf("CreateMasterBatch failed: %v", err)
	}
	completeChild(t, h, false)

	reviewed, err := h.svc.SetPostStatus(ctx, jobs[0].ID, store.PostStatusPosted, "approved drop")
	if err != nil {
		t.Fatalf("SetPostStatus failed: %v", err)
	}
	if reviewed.PostStatus != store.PostStatusPosted {
		t.Fatalf("post status = %s, want posted", reviewed.PostStatus)
	}
	posts := h.poster.recorded()
	if len(posts) != 1 || posts[0].Caption != "approved drop" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestReviewRejectsIncompleteJob(t *testing.T) {
	h := newHarness(t, false)
	job, err := h.svc.CreateJob(context.Background(), orchestrator.JobRequest{
		Pipeline: testsupport.GenerationPipeline(t, "solo"),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	_, err = h.svc.SetPostStatus(context.Background(), job.ID, store.PostStatusPosted, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for queued job, got %v", err)
	}
	if posts := h.poster.recorded(); len(posts) != 0 {
		t.Fatalf("poster called for incomplete job: %+v", posts)
	}
}

func TestReviewRejectionDoesNotPost(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, jobs, err := h.svc.CreateMasterBatch(ctx, []orchestrator.Persona{
		{ID: "luna", ImageURL: "https://cdn.example.com/luna.png"},
	}, testsupport.GenerationPipeline(t, "weekly drop"))
	if err != nil {
		t.Fatalf("CreateMasterBatch failed: %v", err)
	}
	completeChild(t, h, false)

	reviewed, err := h.svc.SetPostStatus(ctx, jobs[0].ID, store.PostStatusRejected, "")
	if err != nil {
		t.Fatalf("SetPostStatus failed: %v", err)
	}
	if reviewed.PostStatus != store.PostStatusRejected {
		t.Fatalf("post status = %s, want rejected", reviewed.PostStatus)
	}
	if posts := h.poster.recorded(); len(posts) != 0 {
		t.Fatalf("rejected job was posted: %+v", posts)
	}
}

func TestRegenerateRequeues(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.svc.CreateJob(context.Background(), orchestrator.JobRequest{
		Pipeline: testsupport.GenerationPipeline(t, "solo"),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	claimed, err := h.store.ClaimQueued(context.Background())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimQueued: job=%v err=%v", claimed, err)
	}
	if err := h.store.MarkFailed(context.Background(), claimed.ID, "provider outage"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	kicksBefore := h.kicker.count()
	requeued, err := h.svc.Regenerate(context.Background(), claimed.ID, 0)
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if requeued.Status != store.StatusQueued {
		t.Fatalf("status = %s, want queued", requeued.Status)
	}
	if requeued.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", requeued.ErrorMessage)
	}
	if h.kicker.count() != kicksBefore+1 {
		t.Fatal("regenerate did not kick the workers")
	}
}
