package daemonrun

import (
	"context"

	"reelpipe/internal/metrics"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/services/late"
	"reelpipe/internal/steps"
)

// instrumentedGenerator counts generation calls and failures per service.
type instrumentedGenerator struct {
	inner steps.Generator
	m     *metrics.Metrics
}

func (g instrumentedGenerator) Generate(ctx context.Context, req fal.GenerationRequest) (string, error) {
	url, err := g.inner.Generate(ctx, req)
	g.m.ObserveExternalCall("fal", err)
	return url, err
}

type instrumentedResolver struct {
	inner steps.SourceResolver
	m     *metrics.Metrics
}

func (r instrumentedResolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	url, err := r.inner.Resolve(ctx, pageURL)
	r.m.ObserveExternalCall("tikscrape", err)
	return url, err
}

type poster interface {
	CreatePost(ctx context.Context, req late.PostRequest) (late.PostRecord, error)
}

type instrumentedPoster struct {
	inner poster
	m     *metrics.Metrics
}

func (p instrumentedPoster) CreatePost(ctx context.Context, req late.PostRequest) (late.PostRecord, error) {
	record, err := p.inner.CreatePost(ctx, req)
	p.m.ObserveExternalCall("late", err)
	return record, err
}
