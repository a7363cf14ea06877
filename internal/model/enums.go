package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Image formats accepted on upload
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
)

var ValidImageFormats = []ImageFormat{
	ImageFormatPNG, ImageFormatJPEG,
}

// Model families
type ModelFamily string

const (
	ModelFamilySAM1    ModelFamily = "sam1"
	ModelFamilySAM2    ModelFamily = "sam2"
	ModelFamilySAM21   ModelFamily = "sam2.1"
	ModelFamilyBuiltin ModelFamily = "builtin"
)

// Failure kinds recorded on a failed job. Resource exhaustion terminates a
// job exactly like a model error, but stays distinguishable for capacity
// diagnosis.
type FailureKind string

const (
	FailureModelError        FailureKind = "model_error"
	FailureResourceExhausted FailureKind = "resource_exhausted"
)
