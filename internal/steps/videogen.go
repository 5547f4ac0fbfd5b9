package steps

import (
	"context"
	"strings"

	"reelpipe/internal/logging"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/store"
)

type videoGeneration struct {
	deps Deps
}

func (e *videoGeneration) Type() pipeline.StepType {
	return pipeline.StepVideoGeneration
}

func (e *videoGeneration) Execute(ctx context.Context, job *store.Job, step pipeline.Step, inputRef string) (Output, error) {
	cfg, err := step.VideoGeneration()
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "video-generation", "config", "", err)
	}

	ref, err := generateOne(ctx, e.deps, generationInput{
		Mode:            cfg.Mode,
		ImageRef:        cfg.ModelImageURL,
		SourceRef:       pickSource(cfg.SourceVideoURL, inputRef),
		Prompt:          cfg.Prompt,
		DurationSeconds: cfg.DurationSeconds,
		Resolution:      cfg.Resolution,
	})
	if err != nil {
		return Output{}, err
	}
	return Output{Ref: ref}, nil
}

type generationInput struct {
	Mode            pipeline.GenerationMode
	ImageRef        string
	SourceRef       string
	Prompt          string
	DurationSeconds int
	Resolution      string
}

// generateOne performs a full generation round trip: resolve references for
// the external API, generate, then copy the short-lived result into owned
// storage so the chained reference cannot expire mid-pipeline.
func generateOne(ctx context.Context, deps Deps, input generationInput) (string, error) {
	imageURL, err := resolveForExternal(ctx, deps.Signer, input.ImageRef)
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "video-generation", "sign image", "", err)
	}

	req := fal.GenerationRequest{
		Mode:            input.Mode,
		ImageURL:        imageURL,
		Prompt:          input.Prompt,
		DurationSeconds: input.DurationSeconds,
		Resolution:      input.Resolution,
	}
	if input.Mode == pipeline.ModeMotionControl {
		sourceURL, err := resolveSource(ctx, deps, input.SourceRef)
		if err != nil {
			return "", err
		}
		req.SourceVideoURL = sourceURL
	}

	resultURL, err := deps.Generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	data, err := deps.Fetcher.Fetch(ctx, resultURL)
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "video-generation", "download result", "", err)
	}
	ref, err := deps.Storage.Upload(ctx, data, "video/mp4")
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "video-generation", "store result", "", err)
	}

	deps.Logger.Info("generation finished",
		logging.String(logging.FieldStepType, string(pipeline.StepVideoGeneration)),
		logging.String("output_ref", ref))
	return ref, nil
}

// resolveSource prepares a source video reference for the generation API:
// TikTok page URLs go through the scraper, permanent refs get signed, and
// direct URLs pass through.
func resolveSource(ctx context.Context, deps Deps, sourceRef string) (string, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return "", services.Wrap(services.ErrValidation, "video-generation", "source", "motion-control requires a source video", nil)
	}
	if isTikTokURL(sourceRef) {
		if deps.Resolver == nil {
			return "", services.Wrap(services.ErrConfiguration, "video-generation", "source", "tiktok resolution not configured", nil)
		}
		resolved, err := deps.Resolver.Resolve(ctx, sourceRef)
		if err != nil {
			return "", err
		}
		return resolved, nil
	}
	return resolveForExternal(ctx, deps.Signer, sourceRef)
}

func isTikTokURL(ref string) bool {
	return strings.Contains(ref, "tiktok.com/")
}

func pickSource(configured, chained string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return chained
}
