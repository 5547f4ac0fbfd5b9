package testsupport

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"reelpipe/internal/config"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob persists a queued job for tests using the provided store.
func NewJob(t testing.TB, st *store.Store, job *store.Job) *store.Job {
	t.Helper()

	if len(job.Pipeline.Steps) == 0 {
		job.Pipeline = GenerationPipeline(t, "test pipeline")
	}
	created, err := st.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return created
}

// GenerationPipeline builds a minimal single-step generation pipeline.
func GenerationPipeline(t testing.TB, name string) pipeline.Pipeline {
	t.Helper()

	return pipeline.Pipeline{
		Name: name,
		Steps: []pipeline.Step{
			{
				ID:      "generate",
				Type:    pipeline.StepVideoGeneration,
				Enabled: true,
				Config: StepConfig(t, pipeline.VideoGenerationConfig{
					Prompt:        "test prompt",
					Mode:          pipeline.ModeSubtleAnimation,
					ModelImageURL: "https://cdn.example.com/model.png",
				}),
			},
		},
	}
}

// StepConfig marshals a step config struct for embedding in a pipeline.
func StepConfig(t testing.TB, cfg any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal step config: %v", err)
	}
	return data
}
