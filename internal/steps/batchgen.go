package steps

import (
	"context"
	"fmt"
	"sync"

	"reelpipe/internal/logging"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/store"
)

type batchVideoGeneration struct {
	deps Deps
}

func (e *batchVideoGeneration) Type() pipeline.StepType {
	return pipeline.StepBatchVideoGeneration
}

// Execute fans one generation request out over N images in parallel. The
// step succeeds with partial results as long as at least one item succeeded;
// it fails only when every item failed.
func (e *batchVideoGeneration) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	cfg, err := step.BatchVideoGeneration()
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "batch-video-generation", "config", "", err)
	}
	if len(cfg.ImageURLs) == 0 {
		return Output{}, services.Wrap(services.ErrValidation, "batch-video-generation", "config", "no image urls", nil)
	}

	items := make([]pipeline.StepItemResult, len(cfg.ImageURLs))
	var wg sync.WaitGroup
	for i, imageURL := range cfg.ImageURLs {
		wg.Add(1)
		go func(i int, imageURL string) {
			defer wg.Done()
			ref, err := generateOne(ctx, e.deps, generationInput{
				Mode:            cfg.Mode,
				ImageRef:        imageURL,
				SourceRef:       inputRef,
				Prompt:          cfg.Prompt,
				DurationSeconds: cfg.DurationSeconds,
				Resolution:      cfg.Resolution,
			})
			items[i] = pipeline.StepItemResult{InputURL: imageURL}
			if err != nil {
				items[i].Error = err.Error()
				return
			}
			items[i].OutputURL = ref
		}(i, imageURL)
	}
	wg.Wait()

	var firstRef string
	succeeded := 0
	for _, item := range items {
		if item.Error != "" {
			continue
		}
		succeeded++
		if firstRef == "" {
			firstRef = item.OutputURL
		}
	}

	e.deps.Logger.Info("batch generation finished",
		logging.String(logging.FieldStepType, string(pipeline.StepBatchVideoGeneration)),
		logging.Int("requested", len(items)),
		logging.Int("succeeded", succeeded))

	if succeeded == 0 {
		firstErr := items[0].Error
		return Output{}, services.Wrap(services.ErrExternal, "batch-video-generation", "generate",
			fmt.Sprintf("all %d items failed (first: %s)", len(items), firstErr), nil)
	}
	return Output{Ref: firstRef, Items: items}, nil
}
