package store

import (
	"strings"
	"time"

	"reelpipe/internal/pipeline"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status is final. Terminal statuses never
// change for a logical execution attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DaemonStopReason is the error message set on jobs failed during shutdown reclaim.
const DaemonStopReason = "Daemon stopped"

// BatchStatus represents the aggregate lifecycle of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
)

// BatchKind distinguishes plain fan-out batches from master (per-persona) batches.
type BatchKind string

const (
	KindBatch  BatchKind = "batch"
	KindMaster BatchKind = "master"
)

// PostStatus records the human review decision on a master-batch child.
type PostStatus string

const (
	PostStatusPosted   PostStatus = "posted"
	PostStatusRejected PostStatus = "rejected"
)

// Job is one generation unit driven by a pipeline. Single-capability jobs
// carry a synthesized one-step pipeline; template jobs carry the full
// user-authored recipe.
type Job struct {
	ID             string
	Status         Status
	Step           string
	Pipeline       pipeline.Pipeline
	CurrentStep    int
	TotalSteps     int
	StepResults    []pipeline.StepResult
	SourceVideoURL string
	ModelImageURL  string
	ModelID        string
	BatchID        string
	OutputURL      string
	ErrorMessage   string
	PostStatus     PostStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    time.Time
}

// HasSource reports whether the job declares any source reference.
func (j *Job) HasSource() bool {
	return strings.TrimSpace(j.SourceVideoURL) != "" || strings.TrimSpace(j.ModelImageURL) != ""
}

// SourceRef returns the reference fed to the first enabled step: the source
// video when present, otherwise the persona image.
func (j *Job) SourceRef() string {
	if ref := strings.TrimSpace(j.SourceVideoURL); ref != "" {
		return ref
	}
	return strings.TrimSpace(j.ModelImageURL)
}

// Batch aggregates the terminal states of fanned-out child jobs.
type Batch struct {
	ID            string
	Kind          BatchKind
	PipelineName  string
	ModelID       string
	Status        BatchStatus
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether every child job has reached a terminal state.
func (b *Batch) Terminal() bool {
	return b.CompletedJobs+b.FailedJobs >= b.TotalJobs
}
