package model

import "time"

// Job represents one segmentation request. A job is owned by the queue until
// it reaches a terminal status and is read-only afterward.
type Job struct {
	ID          string        `json:"id"`
	ImageID     string        `json:"imageId"`
	Status      JobStatus     `json:"status"`
	Config      SegmentConfig `json:"config"`
	Error       *string       `json:"error,omitempty"`
	FailureKind FailureKind   `json:"failureKind,omitempty"`
	Result      []byte        `json:"-"` // marshaled MaskSet
	MaskSetKey  string        `json:"maskSetKey,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	CanceledAt  *time.Time    `json:"canceledAt,omitempty"`
}

// Point is a prompt coordinate in image pixel space
type Point struct {
	X int `json:"x" validate:"gte=0"`
	Y int `json:"y" validate:"gte=0"`
}

// SegmentConfig enumerates the recognized segmentation options. Zero values
// mean "use the configured default"; the handler resolves defaults before a
// job is enqueued so workers always see a fully populated config.
type SegmentConfig struct {
	Preset              string  `json:"preset,omitempty"`
	PromptPoints        []Point `json:"promptPoints,omitempty" validate:"omitempty,dive"`
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty" validate:"gte=0,lte=1"`
	MaxMasks            int     `json:"maxMasks,omitempty" validate:"gte=0,lte=256"`
	MaxDimension        int     `json:"maxDimension,omitempty" validate:"gte=0,lte=8192"`
}

// JobCreateRequest is the body for POST /api/jobs
type JobCreateRequest struct {
	ImageID string        `json:"imageId" validate:"required,len=64,hexadecimal"`
	Config  SegmentConfig `json:"config"`
}

// JobCreateResponse acknowledges an enqueued job
type JobCreateResponse struct {
	JobID     string    `json:"jobId"`
	ImageID   string    `json:"imageId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse reports the observable state of a job. The mask set is
// inlined once the job succeeds; error detail once it fails.
type JobStatusResponse struct {
	JobID       string        `json:"jobId"`
	ImageID     string        `json:"imageId"`
	Status      JobStatus     `json:"status"`
	Config      SegmentConfig `json:"config"`
	Error       *string       `json:"error,omitempty"`
	FailureKind FailureKind   `json:"failureKind,omitempty"`
	Result      *MaskSet      `json:"result,omitempty"`
	MaskSetKey  string        `json:"maskSetKey,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// JobCancelResponse acknowledges a cancellation
type JobCancelResponse struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Success bool      `json:"success"`
}
