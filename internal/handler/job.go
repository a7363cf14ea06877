package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/queue"
	"github.com/hsforensics/api/internal/service"
	"github.com/hsforensics/api/pkg/response"
)

type JobHandler struct {
	queue     *queue.Queue
	images    *service.ImageService
	segCfg    *config.SegmentConfig
	samCfg    *config.SAMConfig
	validator *validator.Validate
}

func NewJobHandler(q *queue.Queue, images *service.ImageService, segCfg *config.SegmentConfig, samCfg *config.SAMConfig, v *validator.Validate) *JobHandler {
	return &JobHandler{
		queue:     q,
		images:    images,
		segCfg:    segCfg,
		samCfg:    samCfg,
		validator: v,
	}
}

// Create handles POST /api/jobs
// @Summary      Enqueue segmentation job
// @Description  Queue a segmentation run for a stored image; never blocks on model execution
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.JobCreateRequest true "Job request"
// @Success      202 {object} model.JobCreateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/jobs [post]
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.JobCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	cfg, err := h.resolveConfig(req.Config)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	// An unknown image must fail now, before a job record exists.
	if _, err := h.images.Get(c.Context(), req.ImageID); err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			return response.NotFound(c, "Image not found")
		}
		return response.ServiceError(c, err.Error())
	}

	job, err := h.queue.Enqueue(req.ImageID, cfg)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return response.QueueFull(c)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.JobCreateResponse{
		JobID:     job.ID,
		ImageID:   job.ImageID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Current state and timestamps; the mask set is inlined once succeeded
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.queue.Status(jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	resp := model.JobStatusResponse{
		JobID:       job.ID,
		ImageID:     job.ImageID,
		Status:      job.Status,
		Config:      job.Config,
		Error:       job.Error,
		FailureKind: job.FailureKind,
		MaskSetKey:  job.MaskSetKey,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	if job.Status == model.JobStatusSucceeded {
		set, err := h.queue.Result(jobID)
		if err == nil {
			resp.Result = set
		}
	}

	return response.OK(c, resp)
}

// Result handles GET /api/jobs/:jobId/result
// @Summary      Get job result
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.MaskSet
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/result [get]
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	set, err := h.queue.Result(jobID)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, queue.ErrJobNotFinished):
			return response.JobNotFinished(c, "Job has not succeeded yet")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.OK(c, set)
}

// Cancel handles POST /api/jobs/:jobId/cancel
// @Summary      Cancel queued job
// @Description  Removes a queued job; running jobs are not interruptible
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobCancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.queue.Cancel(jobID)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, queue.ErrJobRunning):
			return response.ValidationError(c, "Job is already running and cannot be canceled", nil)
		case errors.Is(err, queue.ErrJobFinished):
			return response.ValidationError(c, "Job already finished", nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.OK(c, model.JobCancelResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Success: true,
	})
}

// resolveConfig fills unset options from the named preset and the configured
// defaults, so workers always see a complete config.
func (h *JobHandler) resolveConfig(cfg model.SegmentConfig) (model.SegmentConfig, error) {
	if cfg.Preset == "" {
		cfg.Preset = h.samCfg.DefaultPreset
	}

	preset, ok := h.segCfg.Presets[cfg.Preset]
	if !ok {
		return cfg, errors.New("unknown preset: " + cfg.Preset)
	}

	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = preset.ConfidenceThreshold
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = h.segCfg.ConfidenceThreshold
	}
	if cfg.MaxMasks == 0 {
		cfg.MaxMasks = preset.MaxMasks
	}
	if cfg.MaxMasks == 0 {
		cfg.MaxMasks = h.segCfg.MaxMasks
	}
	if cfg.MaxDimension == 0 {
		cfg.MaxDimension = preset.MaxDimension
	}
	if cfg.MaxDimension == 0 {
		cfg.MaxDimension = h.segCfg.MaxDimension
	}

	return cfg, nil
}
