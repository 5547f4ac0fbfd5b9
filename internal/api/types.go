package api

import "reelpipe/internal/pipeline"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format. Permanent storage
// references are accompanied by short-lived resolved URLs where signing
// succeeded.
type JobView struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Step           string           `json:"step,omitempty"`
	PipelineName   string           `json:"pipelineName"`
	CurrentStep    int              `json:"currentStep"`
	TotalSteps     int              `json:"totalSteps"`
	StepResults    []StepResultView `json:"stepResults"`
	SourceVideoURL string           `json:"sourceVideoUrl,omitempty"`
	ModelImageURL  string           `json:"modelImageUrl,omitempty"`
	ModelID        string           `json:"modelId,omitempty"`
	BatchID        string           `json:"batchId,omitempty"`
	OutputURL      string           `json:"outputUrl,omitempty"`
	ResolvedURL    string           `json:"resolvedUrl,omitempty"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
	PostStatus     string           `json:"postStatus,omitempty"`
	CreatedAt      string           `json:"createdAt,omitempty"`
	UpdatedAt      string           `json:"updatedAt,omitempty"`
	CompletedAt    string           `json:"completedAt,omitempty"`
}

// StepResultView is the API projection of one recorded step result.
type StepResultView struct {
	StepID      string           `json:"stepId"`
	Type        string           `json:"type"`
	Label       string           `json:"label"`
	OutputURL   string           `json:"outputUrl,omitempty"`
	ResolvedURL string           `json:"resolvedUrl,omitempty"`
	Items       []StepItemView   `json:"items,omitempty"`
	CompletedAt string           `json:"completedAt,omitempty"`
}

// StepItemView is the per-input outcome of a fan-out step.
type StepItemView struct {
	InputURL    string `json:"inputUrl"`
	OutputURL   string `json:"outputUrl,omitempty"`
	ResolvedURL string `json:"resolvedUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchView describes a batch and its aggregate counters.
type BatchView struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	PipelineName  string    `json:"pipelineName,omitempty"`
	ModelID       string    `json:"modelId,omitempty"`
	Status        string    `json:"status"`
	TotalJobs     int       `json:"totalJobs"`
	CompletedJobs int       `json:"completedJobs"`
	FailedJobs    int       `json:"failedJobs"`
	Jobs          []JobView `json:"jobs,omitempty"`
	CreatedAt     string    `json:"createdAt,omitempty"`
	UpdatedAt     string    `json:"updatedAt,omitempty"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// BatchListResponse wraps a collection of batches.
type BatchListResponse struct {
	Batches []BatchView `json:"batches"`
}

// BatchResponse wraps a single batch.
type BatchResponse struct {
	Batch BatchView `json:"batch"`
}

// CreateJobRequest is the payload for queuing a single job.
type CreateJobRequest struct {
	SourceVideoURL string            `json:"sourceVideoUrl,omitempty"`
	ModelImageURL  string            `json:"modelImageUrl,omitempty"`
	ModelID        string            `json:"modelId,omitempty"`
	Pipeline       pipeline.Pipeline `json:"pipeline"`
}

// CreateBatchRequest fans one pipeline out over several source videos.
type CreateBatchRequest struct {
	SourceVideoURLs []string          `json:"sourceVideoUrls"`
	ModelImageURL   string            `json:"modelImageUrl,omitempty"`
	ModelID         string            `json:"modelId,omitempty"`
	Pipeline        pipeline.Pipeline `json:"pipeline"`
}

// CreateMasterBatchRequest runs one pipeline across selected personas.
type CreateMasterBatchRequest struct {
	Personas []PersonaRef      `json:"personas"`
	Pipeline pipeline.Pipeline `json:"pipeline"`
}

// PersonaRef identifies one persona and its image for a master batch.
type PersonaRef struct {
	ID       string `json:"id"`
	ImageURL string `json:"imageUrl"`
}

// RegenerateRequest restarts a job from the given zero-based step index.
type RegenerateRequest struct {
	FromStep int `json:"fromStep"`
}

// ReviewRequest records a posting decision on a finished job.
type ReviewRequest struct {
	Status  string `json:"status"`
	Caption string `json:"caption,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	Workers      int            `json:"workers"`
	QueueStats   map[string]int `json:"queueStats"`
}
