package api

import (
	"context"

	"reelpipe/internal/store"
)

// StoreReader abstracts the persistence interactions needed for API queries.
type StoreReader interface {
	GetJob(ctx context.Context, id string) (*store.Job, error)
	ListJobs(ctx context.Context, statuses ...store.Status) ([]*store.Job, error)
	ListBatchJobs(ctx context.Context, batchID string) ([]*store.Job, error)
	GetBatch(ctx context.Context, id string) (*store.Batch, error)
	ListBatches(ctx context.Context, kind store.BatchKind) ([]*store.Batch, error)
	Stats(ctx context.Context) (map[store.Status]int, error)
}

// Service exposes read-only job and batch queries returning API views.
type Service struct {
	store     StoreReader
	converter *Converter
}

// NewService constructs a Service around the provided reader and converter.
func NewService(store StoreReader, converter *Converter) *Service {
	if store == nil {
		return nil
	}
	return &Service{store: store, converter: converter}
}

// DescribeJob fetches a single job view.
func (s *Service) DescribeJob(ctx context.Context, id string) (*JobView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.converter.FromJob(ctx, job)
	return &view, nil
}

// ListJobs returns job views filtered by status, newest first.
func (s *Service) ListJobs(ctx context.Context, statuses ...store.Status) ([]JobView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return s.converter.FromJobs(ctx, jobs), nil
}

// DescribeBatch fetches a batch view including its child jobs.
func (s *Service) DescribeBatch(ctx context.Context, id string) (*BatchView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListBatchJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.converter.FromBatch(ctx, batch, jobs)
	return &view, nil
}

// ListBatches returns batch views of the given kind without child jobs.
func (s *Service) ListBatches(ctx context.Context, kind store.BatchKind) ([]BatchView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	batches, err := s.store.ListBatches(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]BatchView, 0, len(batches))
	for _, batch := range batches {
		out = append(out, s.converter.FromBatch(ctx, batch, nil))
	}
	return out, nil
}

// Stats returns job summary counts keyed by status string.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}
