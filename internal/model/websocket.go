package model

// WebSocket message types
type WSMessageType string

const (
	WSMessageTypeStatus   WSMessageType = "status"
	WSMessageTypeComplete WSMessageType = "complete"
	WSMessageTypeError    WSMessageType = "error"
)

// WSStatusMessage notifies subscribers of a job status transition
type WSStatusMessage struct {
	Type   WSMessageType `json:"type"`
	JobID  string        `json:"jobId"`
	Status JobStatus     `json:"status"`
	Step   string        `json:"step,omitempty"`
}

// WSCompleteMessage carries the final result to subscribers
type WSCompleteMessage struct {
	Type   WSMessageType `json:"type"`
	JobID  string        `json:"jobId"`
	Result interface{}   `json:"result"`
}

// WSErrorMessage notifies subscribers of a job failure
type WSErrorMessage struct {
	Type    WSMessageType `json:"type"`
	JobID   string        `json:"jobId"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
}
