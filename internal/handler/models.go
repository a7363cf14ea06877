package handler

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/pkg/response"
)

type ModelHandler struct {
	runner runner.Runner
	segCfg *config.SegmentConfig
	samCfg *config.SAMConfig
}

func NewModelHandler(r runner.Runner, segCfg *config.SegmentConfig, samCfg *config.SAMConfig) *ModelHandler {
	return &ModelHandler{
		runner: r,
		segCfg: segCfg,
		samCfg: samCfg,
	}
}

// List handles GET /api/models
// @Summary      List available segmentation models and presets
// @Tags         Models
// @Produce      json
// @Success      200 {object} model.ModelListResponse
// @Router       /api/models [get]
func (h *ModelHandler) List(c *fiber.Ctx) error {
	info := h.runner.Info()
	if len(info.Presets) == 0 {
		for name := range h.segCfg.Presets {
			info.Presets = append(info.Presets, name)
		}
	}
	sort.Strings(info.Presets)

	return response.OK(c, model.ModelListResponse{
		Models:  []model.ModelInfo{info},
		Default: info.Key,
	})
}

