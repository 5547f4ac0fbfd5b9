// Package api defines wire-format types and converters for the HTTP API
// layer. It translates internal store models into transport-friendly DTOs
// that the CLI and other consumers can render without coupling to internal
// types.
//
// # Key Types
//
// JobView: transport representation of a job with pipeline progress, step
// results, and resolved media URLs.
//
// BatchView: batch aggregate counters plus optional child job views.
//
// DaemonStatus: aggregated runtime information for the status endpoint.
//
// # Converters
//
// Converter.FromJob: store.Job -> JobView with storage references resolved
// to short-lived URLs through the signed-URL cache.
//
// Converter.FromBatch: store.Batch -> BatchView.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (store.Status, store.BatchKind) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. URL resolution failures degrade
// to the permanent reference and are logged, never surfaced to the reader.
package api
