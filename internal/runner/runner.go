// Package runner wraps the segmentation model behind a synchronous Segment
// call. It is invoked exclusively from queue workers; the model handle is
// loaded once at startup and shared read-only across all of them.
package runner

import (
	"context"
	"errors"
	"sort"

	"github.com/hsforensics/api/internal/model"
)

var (
	// ErrModel means the underlying model raised during inference.
	ErrModel = errors.New("model error")
	// ErrResourceExhausted means the model could not acquire the memory or
	// accelerator capacity needed to run. Terminates the job like ErrModel
	// but is logged separately for capacity diagnosis.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Runner executes one blocking segmentation per call. Implementations must
// be safe for concurrent use by multiple workers.
type Runner interface {
	Segment(ctx context.Context, img *model.Image, data []byte, cfg model.SegmentConfig) ([]model.Mask, error)
	Info() model.ModelInfo
}

// applyLimits drops masks under the confidence threshold, orders the rest by
// confidence descending and truncates to maxMasks. maxMasks <= 0 means
// unlimited.
func applyLimits(masks []model.Mask, threshold float64, maxMasks int) []model.Mask {
	kept := masks[:0]
	for _, m := range masks {
		if m.Confidence >= threshold {
			kept = append(kept, m)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	if maxMasks > 0 && len(kept) > maxMasks {
		kept = kept[:maxMasks]
	}
	return kept
}
