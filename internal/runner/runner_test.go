package runner_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"reelpipe/internal/pipeline"
	"reelpipe/internal/runner"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/steps"
	"reelpipe/internal/storage"
	"reelpipe/internal/store"
	"reelpipe/internal/testsupport"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	refs  []string
	err   error
	calls int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req fal.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	ref := g.refs[g.calls%len(g.refs)]
	g.calls++
	return ref, nil
}

type scriptedRenderer struct {
	mu          sync.Mutex
	overlayErr  error
	overlayRuns int
	mixRuns     int
}

func (r *scriptedRenderer) Overlay(ctx context.Context, inputPath, outputPath string, cfg pipeline.TextOverlayConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlayRuns++
	if r.overlayErr != nil {
		return r.overlayErr
	}
	return os.WriteFile(outputPath, []byte("overlaid"), 0o644)
}

func (r *scriptedRenderer) MixAudio(ctx context.Context, videoPath, audioPath, outputPath string, cfg pipeline.BgMusicConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mixRuns++
	return os.WriteFile(outputPath, []byte("mixed"), 0o644)
}

func (r *scriptedRenderer) Concat(ctx context.Context, firstPath, secondPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("joined"), 0o644)
}

type fixture struct {
	store    *store.Store
	mem      *storage.Memory
	gen      *scriptedGenerator
	renderer *scriptedRenderer
	runner   *runner.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mem := storage.NewMemory()
	gen := &scriptedGenerator{}
	renderer := &scriptedRenderer{}
	registry := steps.NewRegistry(steps.Deps{
		Generator: gen,
		Storage:   mem,
		Fetcher:   storage.NewFetcher(mem, nil),
		Renderer:  renderer,
		WorkDir:   t.TempDir(),
	})
	return &fixture{
		store:    st,
		mem:      mem,
		gen:      gen,
		renderer: renderer,
		runner:   runner.New(st, registry, 10*time.Second, nil, nil),
	}
}

func (f *fixture) seedGeneration(t *testing.T, payload string) {
	t.Helper()
	ref, err := f.mem.Upload(context.Background(), []byte(payload), "video/mp4")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.gen.refs = append(f.gen.refs, ref)
}

func threeStepPipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	return pipeline.Pipeline{
		Name: "full treatment",
		Steps: []pipeline.Step{
			{
				ID:      "generate",
				Type:    pipeline.StepVideoGeneration,
				Enabled: true,
				Config: testsupport.StepConfig(t, pipeline.VideoGenerationConfig{
					Mode:          pipeline.ModeSubtleAnimation,
					ModelImageURL: "https://cdn.example.com/model.png",
				}),
			},
			{
				ID:      "overlay",
				Type:    pipeline.StepTextOverlay,
				Enabled: true,
				Config:  testsupport.StepConfig(t, pipeline.TextOverlayConfig{Text: "link in bio"}),
			},
			{
				ID:      "music",
				Type:    pipeline.StepBgMusic,
				Enabled: true,
				Config:  testsupport.StepConfig(t, pipeline.BgMusicConfig{TrackURL: "", Volume: 0.3}),
			},
		},
	}
}

func claim(t *testing.T, st *store.Store) *store.Job {
	t.Helper()
	job, err := st.ClaimQueued(context.Background())
	if err != nil {
		t.Fatalf("ClaimQueued: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}

func TestExecuteRunsAllStepsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.seedGeneration(t, "generated")
	trackRef, err := f.mem.Upload(context.Background(), []byte("track"), "audio/mpeg")
	if err != nil {
		t.Fatalf("upload track: %v", err)
	}

	p := threeStepPipeline(t)
	p.Steps[2].Config = testsupport.StepConfig(t, pipeline.BgMusicConfig{TrackURL: trackRef, Volume: 0.3})
	testsupport.NewJob(t, f.store, &store.Job{Pipeline: p})

	job := claim(t, f.store)
	if err := f.runner.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	final, err := f.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if len(final.StepResults) != 3 {
		t.Fatalf("step results = %d, want 3", len(final.StepResults))
	}
	if final.OutputURL != final.StepResults[2].OutputURL {
		t.Fatalf("job output %q does not match last step output %q", final.OutputURL, final.StepResults[2].OutputURL)
	}
	data, err := f.mem.Download(context.Background(), final.OutputURL)
	if err != nil {
		t.Fatalf("download final output: %v", err)
	}
	if string(data) != "mixed" {
		t.Fatalf("final bytes = %q", data)
	}
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.seedGeneration(t, "generated")
	f.renderer.overlayErr = errors.New("drawtext filter rejected")

	testsupport.NewJob(t, f.store, &store.Job{Pipeline: threeStepPipeline(t)})

	job := claim(t, f.store)
	err := f.runner.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected step failure")
	}

	final, getErr := f.store.GetJob(context.Background(), job.ID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}
	if final.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	// Only the successful first step is recorded; the third never ran.
	if len(final.StepResults) != 1 {
		t.Fatalf("step results = %d, want 1", len(final.StepResults))
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected a persisted error message")
	}
	if f.renderer.mixRuns != 0 {
		t.Fatalf("bg-music ran %d times after overlay failed", f.renderer.mixRuns)
	}
}

func TestExecuteResumesAfterKeptResults(t *testing.T) {
	f := newFixture(t)
	f.seedGeneration(t, "generated-v1")

	testsupport.NewJob(t, f.store, &store.Job{Pipeline: threeStepPipeline(t)})
	job := claim(t, f.store)
	f.renderer.overlayErr = errors.New("transient render failure")
	if err := f.runner.Execute(context.Background(), job); err == nil {
		t.Fatal("expected first run to fail at overlay")
	}

	if _, err := f.store.ResetForRegenerate(context.Background(), job.ID, 1); err != nil {
		t.Fatalf("ResetForRegenerate: %v", err)
	}
	f.renderer.overlayErr = nil
	trackRef, err := f.mem.Upload(context.Background(), []byte("track"), "audio/mpeg")
	if err != nil {
		t.Fatalf("upload track: %v", err)
	}
	resumed := claim(t, f.store)
	resumed.Pipeline.Steps[2].Config = testsupport.StepConfig(t, pipeline.BgMusicConfig{TrackURL: trackRef, Volume: 0.3})

	if err := f.runner.Execute(context.Background(), resumed); err != nil {
		t.Fatalf("resumed Execute failed: %v", err)
	}

	final, err := f.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if len(final.StepResults) != 3 {
		t.Fatalf("step results = %d, want 3", len(final.StepResults))
	}
	// The kept generation result was reused, not regenerated.
	if f.gen.calls != 1 {
		t.Fatalf("generator ran %d times, want 1", f.gen.calls)
	}
}

func TestExecuteRejectsUnclaimedJob(t *testing.T) {
	f := newFixture(t)
	created := testsupport.NewJob(t, f.store, &store.Job{})
	if err := f.runner.Execute(context.Background(), created); err == nil {
		t.Fatal("expected error for job not in processing state")
	}
}

func TestManagerDrivesQueuedJobs(t *testing.T) {
	f := newFixture(t)
	f.seedGeneration(t, "generated")

	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	manager := runner.NewManager(cfg, f.store, f.runner, nil)

	var hookMu sync.Mutex
	var terminal []string
	manager.OnTerminal(func(ctx context.Context, job *store.Job) {
		hookMu.Lock()
		defer hookMu.Unlock()
		terminal = append(terminal, job.ID)
	})

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	created := testsupport.NewJob(t, f.store, &store.Job{})
	manager.Kick()

	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := f.store.GetJob(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status.IsTerminal() {
			if job.Status != store.StatusCompleted {
				t.Fatalf("job finished as %s: %s", job.Status, job.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s after deadline", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	hookDeadline := time.Now().Add(5 * time.Second)
	for {
		hookMu.Lock()
		n := len(terminal)
		hookMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(hookDeadline) {
			t.Fatalf("terminal hook ran %d times, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
