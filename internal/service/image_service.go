package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/model"
)

var (
	// ErrImageNotFound is returned for unknown image ids
	ErrImageNotFound = errors.New("image not found")
	// ErrInvalidImage is returned when the payload cannot be decoded
	ErrInvalidImage = errors.New("invalid image")
)

const (
	imagePrefix = "images/"
	metaSuffix  = ".json"
)

// ImageService is the content-addressed image store. Images are keyed by the
// SHA-256 of their bytes: identical payloads always map to the same id and
// are stored once. There is no mutation API.
type ImageService struct {
	store client.StorageClient
	log   *zap.Logger
}

func NewImageService(store client.StorageClient, log *zap.Logger) *ImageService {
	return &ImageService{store: store, log: log}
}

func imageKey(id string) string { return imagePrefix + id }
func metaKey(id string) string  { return imagePrefix + id + metaSuffix }

// Put stores an image payload and returns its record. Idempotent: when the
// hash already exists the stored record is returned and storage does not
// grow.
func (s *ImageService) Put(ctx context.Context, data []byte) (*model.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format != string(model.ImageFormatPNG) && format != string(model.ImageFormatJPEG) {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	exists, err := s.store.Exists(ctx, metaKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to check image: %w", err)
	}
	if exists {
		s.log.Debug("image already stored", zap.String("imageId", id))
		return s.Get(ctx, id)
	}

	img := &model.Image{
		ID:        id,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    model.ImageFormat(format),
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}

	contentType := "image/" + format
	if err := s.store.Upload(ctx, imageKey(id), bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	meta, err := json.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image record: %w", err)
	}
	if err := s.store.Upload(ctx, metaKey(id), bytes.NewReader(meta), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store image record: %w", err)
	}

	s.log.Info("image stored",
		zap.String("imageId", id),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.String("format", format),
	)
	return img, nil
}

// Get returns the image record for an id.
func (s *ImageService) Get(ctx context.Context, id string) (*model.Image, error) {
	data, err := s.store.Download(ctx, metaKey(id))
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to load image record: %w", err)
	}

	var img model.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image record: %w", err)
	}
	return &img, nil
}

// GetBytes returns the raw image payload.
func (s *ImageService) GetBytes(ctx context.Context, id string) ([]byte, error) {
	data, err := s.store.Download(ctx, imageKey(id))
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return data, nil
}

// List returns all stored image records, newest first.
func (s *ImageService) List(ctx context.Context) ([]model.Image, error) {
	keys, err := s.store.List(ctx, imagePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]model.Image, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, metaSuffix) {
			continue
		}
		data, err := s.store.Download(ctx, key)
		if err != nil {
			s.log.Warn("skipping unreadable image record", zap.String("key", key), zap.Error(err))
			continue
		}
		var img model.Image
		if err := json.Unmarshal(data, &img); err != nil {
			s.log.Warn("skipping corrupt image record", zap.String("key", key), zap.Error(err))
			continue
		}
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})
	return images, nil
}

// Delete removes an image and its record. This is the explicit retention
// hook; nothing deletes images implicitly.
func (s *ImageService) Delete(ctx context.Context, id string) error {
	exists, err := s.store.Exists(ctx, metaKey(id))
	if err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	if !exists {
		return ErrImageNotFound
	}

	if err := s.store.Delete(ctx, imageKey(id)); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if err := s.store.Delete(ctx, metaKey(id)); err != nil {
		return fmt.Errorf("failed to delete image record: %w", err)
	}

	s.log.Info("image deleted", zap.String("imageId", id))
	return nil
}
