// Package daemon coordinates the long-running process and its integration
// points.
//
// It wires configuration, the job store, the worker-pool manager, and the
// orchestrator into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the HTTP API the CLI talks to.
//
// Keep orchestration logic out of here: creation and review semantics live
// in the orchestrator, step execution in the runner, while the daemon
// focuses on startup, shutdown, and transport.
package daemon
