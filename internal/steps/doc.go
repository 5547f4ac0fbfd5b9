// Package steps implements one executor per pipeline step variant. Every
// executor consumes one chained media reference (plus its typed config) and
// produces one reference to owned storage; provenance of the input never
// matters, only that it resolves to bytes.
package steps
