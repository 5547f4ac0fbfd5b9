package steps

import (
	"context"
	"fmt"
	"log/slog"

	"reelpipe/internal/logging"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/storage"
	"reelpipe/internal/store"
)

// Generator produces a video from a generation request, returning a
// short-lived media URL.
type Generator interface {
	Generate(ctx context.Context, req fal.GenerationRequest) (string, error)
}

// SourceResolver turns a social-platform page URL into a direct video URL.
type SourceResolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// VideoRenderer performs local media transformations on files.
type VideoRenderer interface {
	Overlay(ctx context.Context, inputPath, outputPath string, cfg pipeline.TextOverlayConfig) error
	MixAudio(ctx context.Context, videoPath, audioPath, outputPath string, cfg pipeline.BgMusicConfig) error
	Concat(ctx context.Context, firstPath, secondPath, outputPath string) error
}

// RefResolver converts permanent storage references into URLs an external
// capability can reach. Non-permanent references pass through unchanged.
type RefResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Output is one executed step's product: the reference chained into the next
// step, plus per-item outcomes for fan-out steps.
type Output struct {
	Ref   string
	Items []pipeline.StepItemResult
}

// Executor runs one pipeline step variant.
type Executor interface {
	Type() pipeline.StepType
	Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error)
}

// Deps bundles the capabilities executors draw on.
type Deps struct {
	Generator Generator
	Resolver  SourceResolver
	Storage   storage.Store
	Fetcher   *storage.Fetcher
	Renderer  VideoRenderer
	Signer    RefResolver
	WorkDir   string
	Logger    *slog.Logger
}

// Registry dispatches steps to their executors. Construction is exhaustive
// over the closed set of step variants.
type Registry struct {
	executors map[pipeline.StepType]Executor
}

// NewRegistry builds the executor set for all supported step types.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	registry := &Registry{executors: make(map[pipeline.StepType]Executor, 5)}
	for _, executor := range []Executor{
		&videoGeneration{deps: deps},
		&batchVideoGeneration{deps: deps},
		&textOverlay{deps: deps},
		&bgMusic{deps: deps},
		&attachVideo{deps: deps},
	} {
		registry.executors[executor.Type()] = executor
	}
	return registry
}

// Execute runs the step through its registered executor.
func (r *Registry) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	executor, ok := r.executors[step.Type]
	if !ok {
		return Output{}, fmt.Errorf("no executor for step type %q", step.Type)
	}
	return executor.Execute(ctx, job, step, inputRef)
}

// resolveForExternal signs permanent references so external APIs can fetch
// them; direct URLs pass through.
func resolveForExternal(ctx context.Context, signer RefResolver, ref string) (string, error) {
	if !storage.IsPermanentRef(ref) || signer == nil {
		return ref, nil
	}
	return signer.Resolve(ctx, ref)
}
