package handler

import (
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/hsforensics/api/internal/service"
	"github.com/hsforensics/api/pkg/response"
)

const maxUploadSize = 20 * 1024 * 1024 // 20MB

type ImageHandler struct {
	images    *service.ImageService
	masks     *service.MaskService
	validator *validator.Validate
}

func NewImageHandler(images *service.ImageService, masks *service.MaskService, v *validator.Validate) *ImageHandler {
	return &ImageHandler{
		images:    images,
		masks:     masks,
		validator: v,
	}
}

// checkImageID rejects ids that cannot be a payload hash before they reach
// storage keys. Same rule as JobCreateRequest.ImageID.
func (h *ImageHandler) checkImageID(c *fiber.Ctx, imageID string) error {
	if imageID == "" {
		return response.ValidationError(c, "Image ID is required", nil)
	}
	if err := h.validator.Var(imageID, "len=64,hexadecimal"); err != nil {
		return response.ValidationError(c, "Image ID must be a 64-character hex digest", nil)
	}
	return nil
}

// Upload handles POST /api/images
// @Summary      Upload image
// @Description  Store an image for segmentation; identical bytes return the same id
// @Tags         Images
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Image file (PNG or JPEG; max 20MB)"
// @Success      201 {object} model.Image
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/images [post]
func (h *ImageHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 20MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	validTypes := map[string]bool{
		"image/png":  true,
		"image/jpeg": true,
		"image/jpg":  true,
	}
	if !validTypes[contentType] {
		return response.ValidationError(c, "Invalid file type. Supported: PNG, JPEG", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return response.ServiceError(c, "Failed to read file")
	}

	img, err := h.images.Put(c.Context(), data)
	if err != nil {
		if errors.Is(err, service.ErrInvalidImage) {
			return response.ValidationError(c, "Payload is not a decodable PNG/JPEG image", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, img)
}

// List handles GET /api/images
// @Summary      List images
// @Tags         Images
// @Produce      json
// @Success      200 {object} model.ImageListResponse
// @Router       /api/images [get]
func (h *ImageHandler) List(c *fiber.Ctx) error {
	images, err := h.images.List(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{
		"images": images,
		"count":  len(images),
	})
}

// Get handles GET /api/images/:imageId — serves the raw stored bytes.
// @Summary      Download image
// @Tags         Images
// @Produce      png,jpeg
// @Param        imageId path string true "Image ID (SHA-256 hex)"
// @Success      200 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/images/{imageId} [get]
func (h *ImageHandler) Get(c *fiber.Ctx) error {
	imageID := c.Params("imageId")
	if err := h.checkImageID(c, imageID); err != nil {
		return err
	}

	img, err := h.images.Get(c.Context(), imageID)
	if err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			return response.NotFound(c, "Image not found")
		}
		return response.ServiceError(c, err.Error())
	}

	data, err := h.images.GetBytes(c.Context(), imageID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "image/"+string(img.Format))
	return c.Send(data)
}

// Delete handles DELETE /api/images/:imageId
// @Summary      Delete image
// @Description  Explicit retention hook; images are never deleted implicitly
// @Tags         Images
// @Produce      json
// @Param        imageId path string true "Image ID"
// @Success      204 "No Content"
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/images/{imageId} [delete]
func (h *ImageHandler) Delete(c *fiber.Ctx) error {
	imageID := c.Params("imageId")
	if err := h.checkImageID(c, imageID); err != nil {
		return err
	}

	if err := h.images.Delete(c.Context(), imageID); err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			return response.NotFound(c, "Image not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// Masks handles GET /api/images/:imageId/masks — lists stored mask sets.
// @Summary      List mask sets for an image
// @Tags         Images
// @Produce      json
// @Param        imageId path string true "Image ID"
// @Success      200 {object} model.MaskSetListResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/images/{imageId}/masks [get]
func (h *ImageHandler) Masks(c *fiber.Ctx) error {
	imageID := c.Params("imageId")
	if err := h.checkImageID(c, imageID); err != nil {
		return err
	}

	if _, err := h.images.Get(c.Context(), imageID); err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			return response.NotFound(c, "Image not found")
		}
		return response.ServiceError(c, err.Error())
	}

	keys, err := h.masks.ListForImage(c.Context(), imageID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{
		"imageId": imageID,
		"keys":    keys,
		"count":   len(keys),
	})
}
