package steps_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/steps"
	"reelpipe/internal/storage"
	"reelpipe/internal/store"
	"reelpipe/internal/testsupport"
)

// fakeGenerator serves generation requests from a canned image→result map and
// records every request it sees.
type fakeGenerator struct {
	mu       sync.Mutex
	results  map[string]string
	failures map[string]error
	requests []fal.GenerationRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req fal.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err, ok := g.failures[req.ImageURL]; ok {
		return "", err
	}
	if result, ok := g.results[req.ImageURL]; ok {
		return result, nil
	}
	return "", errors.New("no canned result for " + req.ImageURL)
}

type fakeRenderer struct {
	calls []string
}

func (r *fakeRenderer) Overlay(ctx context.Context, inputPath, outputPath string, cfg pipeline.TextOverlayConfig) error {
	r.calls = append(r.calls, "overlay")
	return os.WriteFile(outputPath, []byte("overlaid"), 0o644)
}

func (r *fakeRenderer) MixAudio(ctx context.Context, videoPath, audioPath, outputPath string, cfg pipeline.BgMusicConfig) error {
	r.calls = append(r.calls, "mix")
	return os.WriteFile(outputPath, []byte("mixed"), 0o644)
}

func (r *fakeRenderer) Concat(ctx context.Context, firstPath, secondPath, outputPath string) error {
	first, err := os.ReadFile(firstPath)
	if err != nil {
		return err
	}
	second, err := os.ReadFile(secondPath)
	if err != nil {
		return err
	}
	r.calls = append(r.calls, "concat")
	return os.WriteFile(outputPath, append(first, second...), 0o644)
}

func newDeps(t *testing.T, mem *storage.Memory, gen *fakeGenerator, renderer *fakeRenderer) steps.Deps {
	t.Helper()
	return steps.Deps{
		Generator: gen,
		Storage:   mem,
		Fetcher:   storage.NewFetcher(mem, nil),
		Renderer:  renderer,
		WorkDir:   t.TempDir(),
	}
}

func uploadRef(t *testing.T, mem *storage.Memory, data string) string {
	t.Helper()
	ref, err := mem.Upload(context.Background(), []byte(data), "video/mp4")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return ref
}

func TestVideoGenerationStoresResult(t *testing.T) {
	mem := storage.NewMemory()
	resultRef := uploadRef(t, mem, "generated-bytes")
	gen := &fakeGenerator{results: map[string]string{
		"https://cdn.example.com/model.png": resultRef,
	}}
	registry := steps.NewRegistry(newDeps(t, mem, gen, nil))

	step := pipeline.Step{
		ID:      "generate",
		Type:    pipeline.StepVideoGeneration,
		Enabled: true,
		Config: testsupport.StepConfig(t, pipeline.VideoGenerationConfig{
			Mode:          pipeline.ModeSubtleAnimation,
			ModelImageURL: "https://cdn.example.com/model.png",
			Prompt:        "hold still",
		}),
	}
	job := &store.Job{ID: "job-1"}

	out, err := registry.Execute(context.Background(), job, step, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !storage.IsPermanentRef(out.Ref) {
		t.Fatalf("output ref %q is not a permanent reference", out.Ref)
	}
	data, err := mem.Download(context.Background(), out.Ref)
	if err != nil {
		t.Fatalf("download output: %v", err)
	}
	if string(data) != "generated-bytes" {
		t.Fatalf("stored bytes = %q", data)
	}
	if len(gen.requests) != 1 || gen.requests[0].Prompt != "hold still" {
		t.Fatalf("unexpected generation requests: %+v", gen.requests)
	}
}

func TestBatchGenerationToleratesPartialFailure(t *testing.T) {
	mem := storage.NewMemory()
	refA := uploadRef(t, mem, "clip-a")
	refC := uploadRef(t, mem, "clip-c")
	refD := uploadRef(t, mem, "clip-d")
	gen := &fakeGenerator{
		results: map[string]string{
			"https://cdn.example.com/a.png": refA,
			"https://cdn.example.com/c.png": refC,
			"https://cdn.example.com/d.png": refD,
		},
		failures: map[string]error{
			"https://cdn.example.com/b.png": errors.New("capacity exceeded"),
		},
	}
	registry := steps.NewRegistry(newDeps(t, mem, gen, nil))

	step := pipeline.Step{
		ID:      "batch",
		Type:    pipeline.StepBatchVideoGeneration,
		Enabled: true,
		Config: testsupport.StepConfig(t, pipeline.BatchVideoGenerationConfig{
			Mode: pipeline.ModeSubtleAnimation,
			ImageURLs: []string{
				"https://cdn.example.com/a.png",
				"https://cdn.example.com/b.png",
				"https://cdn.example.com/c.png",
				"https://cdn.example.com/d.png",
			},
		}),
	}

	out, err := registry.Execute(context.Background(), &store.Job{ID: "job-2"}, step, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out.Items) != 4 {
		t.Fatalf("items = %d, want 4", len(out.Items))
	}
	succeeded, failed := 0, 0
	for _, item := range out.Items {
		if item.Error != "" {
			failed++
			if item.InputURL != "https://cdn.example.com/b.png" {
				t.Fatalf("unexpected failing item %q", item.InputURL)
			}
			continue
		}
		succeeded++
		if item.OutputURL == "" {
			t.Fatalf("succeeded item %q missing output", item.InputURL)
		}
	}
	if succeeded != 3 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 3/1", succeeded, failed)
	}
	// Item order follows input order, so the chained ref is the first success.
	if out.Ref != out.Items[0].OutputURL {
		t.Fatalf("chained ref %q is not the first successful item", out.Ref)
	}
}

func TestBatchGenerationFailsWhenAllItemsFail(t *testing.T) {
	mem := storage.NewMemory()
	gen := &fakeGenerator{failures: map[string]error{
		"https://cdn.example.com/a.png": errors.New("capacity exceeded"),
		"https://cdn.example.com/b.png": errors.New("capacity exceeded"),
	}}
	registry := steps.NewRegistry(newDeps(t, mem, gen, nil))

	step := pipeline.Step{
		ID:      "batch",
		Type:    pipeline.StepBatchVideoGeneration,
		Enabled: true,
		Config: testsupport.StepConfig(t, pipeline.BatchVideoGenerationConfig{
			Mode:      pipeline.ModeSubtleAnimation,
			ImageURLs: []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"},
		}),
	}

	_, err := registry.Execute(context.Background(), &store.Job{ID: "job-3"}, step, "")
	if err == nil {
		t.Fatal("expected error when every item fails")
	}
	if !strings.Contains(err.Error(), "all 2 items failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBatchGenerationRejectsEmptyImageList(t *testing.T) {
	mem := storage.NewMemory()
	registry := steps.NewRegistry(newDeps(t, mem, &fakeGenerator{}, nil))

	// Bypasses pipeline validation the way a hand-edited or migrated row
	// could; the executor must reject it rather than panic.
	step := pipeline.Step{
		ID:      "batch",
		Type:    pipeline.StepBatchVideoGeneration,
		Enabled: true,
		Config: testsupport.StepConfig(t, pipeline.BatchVideoGenerationConfig{
			Mode: pipeline.ModeSubtleAnimation,
		}),
	}

	_, err := registry.Execute(context.Background(), &store.Job{ID: "job-4"}, step, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTextOverlayRendersAndPublishes(t *testing.T) {
	mem := storage.NewMemory()
	inputRef := uploadRef(t, mem, "raw-clip")
	renderer := &fakeRenderer{}
	registry := steps.NewRegistry(newDeps(t, mem, nil, renderer))

	step := pipeline.Step{
		ID:      "overlay",
		Type:    pipeline.StepTextOverlay,
		Enabled: true,
		Config:  testsupport.StepConfig(t, pipeline.TextOverlayConfig{Text: "wait for it"}),
	}

	out, err := registry.Execute(context.Background(), &store.Job{ID: "job-4"}, step, inputRef)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, err := mem.Download(context.Background(), out.Ref)
	if err != nil {
		t.Fatalf("download output: %v", err)
	}
	if string(data) != "overlaid" {
		t.Fatalf("stored bytes = %q", data)
	}
	if len(renderer.calls) != 1 || renderer.calls[0] != "overlay" {
		t.Fatalf("renderer calls = %v", renderer.calls)
	}
}

func TestAttachVideoBeforeReordersClips(t *testing.T) {
	mem := storage.NewMemory()
	primaryRef := uploadRef(t, mem, "MAIN")
	introRef := uploadRef(t, mem, "INTRO")
	renderer := &fakeRenderer{}
	registry := steps.NewRegistry(newDeps(t, mem, nil, renderer))

	step := pipeline.Step{
		ID:      "attach",
		Type:    pipeline.StepAttachVideo,
		Enabled: true,
		Config: testsupport.StepConfig(t, pipeline.AttachVideoConfig{
			VideoURL: introRef,
			Position: pipeline.AttachBefore,
		}),
	}

	out, err := registry.Execute(context.Background(), &store.Job{ID: "job-5"}, step, primaryRef)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, err := mem.Download(context.Background(), out.Ref)
	if err != nil {
		t.Fatalf("download output: %v", err)
	}
	if string(data) != "INTROMAIN" {
		t.Fatalf("concat order wrong: %q", data)
	}
}

func TestExecuteRejectsUnknownStepType(t *testing.T) {
	registry := steps.NewRegistry(steps.Deps{})
	_, err := registry.Execute(context.Background(), &store.Job{ID: "job-6"}, pipeline.Step{
		ID:   "mystery",
		Type: pipeline.StepType("color-grade"),
	}, "")
	if err == nil || !strings.Contains(err.Error(), "no executor") {
		t.Fatalf("expected unknown step type error, got %v", err)
	}
}
