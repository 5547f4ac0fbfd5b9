package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelpipe/internal/api"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/store"
	"reelpipe/internal/testsupport"
)

type stubResolver struct {
	err   error
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, ref string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "https://signed.example/" + ref, nil
}

func sampleJob(t *testing.T) *store.Job {
	t.Helper()
	return &store.Job{
		ID:        "job-1",
		Status:    store.StatusCompleted,
		Pipeline:  testsupport.GenerationPipeline(t, "persona reel"),
		OutputURL: "gs://reelpipe-media/job-1/final.mp4",
		StepResults: []pipeline.StepResult{{
			StepID:      "generate",
			Type:        pipeline.StepVideoGeneration,
			Label:       "Video Generation",
			OutputURL:   "gs://reelpipe-media/job-1/step-0.mp4",
			CompletedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		}},
		CreatedAt: time.Date(2026, 3, 14, 8, 55, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC),
	}
}

func TestFromJobResolvesPermanentRefs(t *testing.T) {
	resolver := &stubResolver{}
	converter := api.NewConverter(resolver, nil)

	view := converter.FromJob(context.Background(), sampleJob(t))
	if view.ResolvedURL != "https://signed.example/gs://reelpipe-media/job-1/final.mp4" {
		t.Fatalf("unexpected resolved url: %q", view.ResolvedURL)
	}
	if len(view.StepResults) != 1 {
		t.Fatalf("step results = %d, want 1", len(view.StepResults))
	}
	if view.StepResults[0].ResolvedURL == "" {
		t.Fatal("step result reference not resolved")
	}
	if view.PipelineName != "persona reel" {
		t.Fatalf("pipeline name = %q", view.PipelineName)
	}
	if view.CreatedAt != "2026-03-14T08:55:00.000Z" {
		t.Fatalf("created at = %q", view.CreatedAt)
	}
}

func TestFromJobFallsBackWhenSigningFails(t *testing.T) {
	resolver := &stubResolver{err: errors.New("gateway unavailable")}
	converter := api.NewConverter(resolver, nil)

	view := converter.FromJob(context.Background(), sampleJob(t))
	// Reads never fail on signing errors; the permanent ref is still usable.
	if view.ResolvedURL != "gs://reelpipe-media/job-1/final.mp4" {
		t.Fatalf("expected permanent ref fallback, got %q", view.ResolvedURL)
	}
}

func TestFromJobSkipsNonPermanentRefs(t *testing.T) {
	resolver := &stubResolver{}
	converter := api.NewConverter(resolver, nil)

	job := sampleJob(t)
	job.OutputURL = "https://cdn.example.com/direct.mp4"
	job.StepResults = nil

	view := converter.FromJob(context.Background(), job)
	if view.ResolvedURL != "" {
		t.Fatalf("direct url should not be resolved, got %q", view.ResolvedURL)
	}
	if resolver.calls != 0 {
		t.Fatalf("resolver called %d times for a direct url", resolver.calls)
	}
}

func TestFromBatchIncludesChildren(t *testing.T) {
	converter := api.NewConverter(nil, nil)
	batch := &store.Batch{
		ID:            "batch-1",
		Kind:          store.KindMaster,
		Status:        store.BatchPartial,
		TotalJobs:     2,
		CompletedJobs: 1,
		FailedJobs:    1,
	}
	view := converter.FromBatch(context.Background(), batch, []*store.Job{sampleJob(t)})
	if view.Kind != "master" || view.Status != "partial" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Jobs) != 1 || view.Jobs[0].ID != "job-1" {
		t.Fatalf("children missing: %+v", view.Jobs)
	}
}

func TestFormatTimeZeroValue(t *testing.T) {
	if got := api.FormatTime(time.Time{}); got != "" {
		t.Fatalf("zero time formatted as %q", got)
	}
}
