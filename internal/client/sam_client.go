package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
)

// ErrServiceBusy is returned when the model service reports it cannot take
// on more work (out of memory or accelerator slots).
var ErrServiceBusy = errors.New("model service busy")

// SAMSegmenter defines the interface for the external segmentation service
type SAMSegmenter interface {
	Segment(ctx context.Context, req *SegmentRequest) (*SegmentResponse, error)
	HealthCheck(ctx context.Context) error
	IsConfigured() bool
}

// SAMClient implements SAMSegmenter against the Python inference microservice
type SAMClient struct {
	httpClient *http.Client
	baseURL    string
	modelKey   string
}

// SegmentRequest carries one inference call. The image travels base64-encoded
// inside the JSON body; the service decodes and resizes per MaxDimension.
type SegmentRequest struct {
	ImageB64      string        `json:"image_b64"`
	Format        string        `json:"format"`
	Model         string        `json:"model"`
	Preset        string        `json:"preset,omitempty"`
	PromptPoints  []model.Point `json:"prompt_points,omitempty"`
	MaxDimension  int           `json:"max_dimension,omitempty"`
	PointsPerSide int           `json:"points_per_side,omitempty"`
}

// RemoteMask is one mask record in the service response, matching the
// unified mask schema of the inference service.
type RemoteMask struct {
	Counts     []int   `json:"counts"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
	Area       int     `json:"area"`
	Label      string  `json:"label,omitempty"`
}

// SegmentResponse is the full service response
type SegmentResponse struct {
	Model string       `json:"model"`
	Masks []RemoteMask `json:"masks"`
}

// NewSAMClient creates a new segmentation service client
func NewSAMClient(cfg *config.SAMConfig) *SAMClient {
	return &SAMClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:  cfg.ServiceURL,
		modelKey: cfg.Model,
	}
}

// Segment sends an image to the /segment endpoint
func (c *SAMClient) Segment(ctx context.Context, req *SegmentRequest) (*SegmentResponse, error) {
	if req.Model == "" {
		req.Model = c.modelKey
	}
	var result SegmentResponse
	if err := c.post(ctx, "/segment", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck pings the service health endpoint
func (c *SAMClient) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if a service URL is set
func (c *SAMClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *SAMClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("model service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusInsufficientStorage:
		return ErrServiceBusy
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// EncodeImage prepares raw image bytes for transport.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
