package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/queue"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/internal/service"
)

// SegmentWorker processes segmentation jobs: it loads the image, invokes the
// model runner and persists the resulting mask set. Invoked only from the
// queue's worker pool, never from a request handler.
type SegmentWorker struct {
	images *service.ImageService
	masks  *service.MaskService
	runner runner.Runner
	log    *zap.Logger
}

func NewSegmentWorker(images *service.ImageService, masks *service.MaskService, r runner.Runner, log *zap.Logger) *SegmentWorker {
	return &SegmentWorker{
		images: images,
		masks:  masks,
		runner: r,
		log:    log,
	}
}

// Process executes one job to completion.
func (w *SegmentWorker) Process(ctx context.Context, job model.Job) (*queue.Output, error) {
	img, err := w.images.Get(ctx, job.ImageID)
	if err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			// The image was deleted between enqueue and execution.
			return nil, fmt.Errorf("%w: image %s disappeared", runner.ErrModel, job.ImageID)
		}
		return nil, fmt.Errorf("%w: load image record: %v", runner.ErrModel, err)
	}

	data, err := w.images.GetBytes(ctx, job.ImageID)
	if err != nil {
		return nil, fmt.Errorf("%w: load image bytes: %v", runner.ErrModel, err)
	}

	w.log.Debug("starting segmentation",
		zap.String("jobId", job.ID),
		zap.String("imageId", job.ImageID),
		zap.String("model", w.runner.Info().Key),
	)

	masks, err := w.runner.Segment(ctx, img, data, job.Config)
	if err != nil {
		return nil, err
	}

	set := &model.MaskSet{
		JobID:       job.ID,
		ImageID:     job.ImageID,
		Model:       w.runner.Info().Key,
		Preset:      job.Config.Preset,
		Masks:       masks,
		GeneratedAt: time.Now().UTC(),
	}

	key, err := w.masks.Save(ctx, set)
	if err != nil {
		return nil, fmt.Errorf("%w: persist mask set: %v", runner.ErrModel, err)
	}

	return &queue.Output{MaskSet: set, Key: key}, nil
}
