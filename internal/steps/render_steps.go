package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/store"
)

type textOverlay struct {
	deps Deps
}

func (e *textOverlay) Type() pipeline.StepType {
	return pipeline.StepTextOverlay
}

func (e *textOverlay) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	cfg, err := step.TextOverlay()
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "text-overlay", "config", "", err)
	}

	work, cleanup, err := newWorkspace(e.deps.WorkDir, job.ID)
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	inputPath, err := materialize(ctx, e.deps, work, "input.mp4", inputRef)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "text-overlay", "fetch input", "", err)
	}
	outputPath := filepath.Join(work, "overlay.mp4")
	if err := e.deps.Renderer.Overlay(ctx, inputPath, outputPath, cfg); err != nil {
		return Output{}, err
	}

	ref, err := publish(ctx, e.deps, outputPath)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "text-overlay", "store result", "", err)
	}
	return Output{Ref: ref}, nil
}

type bgMusic struct {
	deps Deps
}

func (e *bgMusic) Type() pipeline.StepType {
	return pipeline.StepBgMusic
}

func (e *bgMusic) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	cfg, err := step.BgMusic()
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "bg-music", "config", "", err)
	}

	work, cleanup, err := newWorkspace(e.deps.WorkDir, job.ID)
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	videoPath, err := materialize(ctx, e.deps, work, "input.mp4", inputRef)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "bg-music", "fetch input", "", err)
	}
	trackPath, err := materialize(ctx, e.deps, work, "track.mp3", cfg.TrackURL)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "bg-music", "fetch track", "", err)
	}
	outputPath := filepath.Join(work, "mixed.mp4")
	if err := e.deps.Renderer.MixAudio(ctx, videoPath, trackPath, outputPath, cfg); err != nil {
		return Output{}, err
	}

	ref, err := publish(ctx, e.deps, outputPath)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "bg-music", "store result", "", err)
	}
	return Output{Ref: ref}, nil
}

type attachVideo struct {
	deps Deps
}

func (e *attachVideo) Type() pipeline.StepType {
	return pipeline.StepAttachVideo
}

func (e *attachVideo) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	cfg, err := step.AttachVideo()
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "attach-video", "config", "", err)
	}

	work, cleanup, err := newWorkspace(e.deps.WorkDir, job.ID)
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	primaryPath, err := materialize(ctx, e.deps, work, "primary.mp4", inputRef)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "attach-video", "fetch primary", "", err)
	}
	secondaryPath, err := materialize(ctx, e.deps, work, "secondary.mp4", cfg.VideoURL)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "attach-video", "fetch secondary", "", err)
	}

	firstPath, secondPath := primaryPath, secondaryPath
	if cfg.Position == pipeline.AttachBefore {
		firstPath, secondPath = secondaryPath, primaryPath
	}
	outputPath := filepath.Join(work, "attached.mp4")
	if err := e.deps.Renderer.Concat(ctx, firstPath, secondPath, outputPath); err != nil {
		return Output{}, err
	}

	ref, err := publish(ctx, e.deps, outputPath)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternal, "attach-video", "store result", "", err)
	}
	return Output{Ref: ref}, nil
}

func newWorkspace(workDir, jobID string) (string, func(), error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(workDir, "step-"+jobID+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create step workspace: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func materialize(ctx context.Context, deps Deps, work, name, ref string) (string, error) {
	data, err := deps.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	path := filepath.Join(work, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func publish(ctx context.Context, deps Deps, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read render output: %w", err)
	}
	return deps.Storage.Upload(ctx, data, "video/mp4")
}
