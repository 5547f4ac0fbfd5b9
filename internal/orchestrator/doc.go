// Package orchestrator owns job and batch creation, review decisions, and
// the bookkeeping that runs when a job reaches a terminal state. Requests
// are validated synchronously and persisted as queued rows; the worker pool
// picks them up asynchronously.
package orchestrator
