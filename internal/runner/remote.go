package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
)

// RemoteRunner dispatches inference to the external SAM service. The HTTP
// client inside is the shared handle: one instance, reused by every worker.
type RemoteRunner struct {
	sam      client.SAMSegmenter
	modelKey string
	family   model.ModelFamily
	presets  map[string]model.PresetParams
	log      *zap.Logger
}

func NewRemoteRunner(sam client.SAMSegmenter, samCfg *config.SAMConfig, presets map[string]model.PresetParams, log *zap.Logger) *RemoteRunner {
	return &RemoteRunner{
		sam:      sam,
		modelKey: samCfg.Model,
		family:   familyForKey(samCfg.Model),
		presets:  presets,
		log:      log,
	}
}

func familyForKey(key string) model.ModelFamily {
	switch {
	case len(key) >= 6 && key[:6] == "sam2.1":
		return model.ModelFamilySAM21
	case len(key) >= 4 && key[:4] == "sam2":
		return model.ModelFamilySAM2
	case len(key) >= 4 && key[:4] == "sam1":
		return model.ModelFamilySAM1
	default:
		return model.ModelFamilyBuiltin
	}
}

func (r *RemoteRunner) Info() model.ModelInfo {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	return model.ModelInfo{
		Key:     r.modelKey,
		Family:  r.family,
		Remote:  true,
		Presets: names,
	}
}

func (r *RemoteRunner) Segment(ctx context.Context, img *model.Image, data []byte, cfg model.SegmentConfig) ([]model.Mask, error) {
	req := &client.SegmentRequest{
		ImageB64:     client.EncodeImage(data),
		Format:       string(img.Format),
		Model:        r.modelKey,
		Preset:       cfg.Preset,
		PromptPoints: cfg.PromptPoints,
		MaxDimension: cfg.MaxDimension,
	}
	if preset, ok := r.presets[cfg.Preset]; ok {
		req.PointsPerSide = preset.PointsPerSide
	}

	resp, err := r.sam.Segment(ctx, req)
	if err != nil {
		if errors.Is(err, client.ErrServiceBusy) {
			return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}

	masks := make([]model.Mask, 0, len(resp.Masks))
	for _, rm := range resp.Masks {
		m := model.Mask{
			Region: model.RLE{
				Width:  rm.Width,
				Height: rm.Height,
				Counts: rm.Counts,
			},
			Confidence: rm.Confidence,
			Label:      rm.Label,
			BBox:       rm.BBox,
			Area:       rm.Area,
		}
		if m.Area == 0 {
			m.Area = m.Region.Area()
		}
		masks = append(masks, m)
	}

	r.log.Debug("remote segmentation finished",
		zap.String("imageId", img.ID),
		zap.String("model", resp.Model),
		zap.Int("masks", len(masks)),
	)

	return applyLimits(masks, cfg.ConfidenceThreshold, cfg.MaxMasks), nil
}
