package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/model"
)

// ErrMaskSetNotFound is returned for unknown mask set keys
var ErrMaskSetNotFound = errors.New("mask set not found")

const maskPrefix = "masks/"

// MaskService persists mask sets to the blob store, keyed by image hash and
// job id so reruns of the same image never collide.
type MaskService struct {
	store client.StorageClient
	log   *zap.Logger
}

func NewMaskService(store client.StorageClient, log *zap.Logger) *MaskService {
	return &MaskService{store: store, log: log}
}

// MaskSetKey builds the canonical storage key for a job's output.
func MaskSetKey(imageID, jobID string) string {
	return fmt.Sprintf("%s%s/%s.json", maskPrefix, imageID, jobID)
}

// Save writes a mask set exactly once per job; it is never rewritten.
func (s *MaskService) Save(ctx context.Context, set *model.MaskSet) (string, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mask set: %w", err)
	}

	key := MaskSetKey(set.ImageID, set.JobID)
	if err := s.store.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("failed to store mask set: %w", err)
	}

	s.log.Info("mask set stored",
		zap.String("jobId", set.JobID),
		zap.String("imageId", set.ImageID),
		zap.Int("masks", len(set.Masks)),
	)
	return key, nil
}

// Get loads a mask set by its storage key.
func (s *MaskService) Get(ctx context.Context, key string) (*model.MaskSet, error) {
	data, err := s.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, ErrMaskSetNotFound
		}
		return nil, fmt.Errorf("failed to load mask set: %w", err)
	}

	var set model.MaskSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mask set: %w", err)
	}
	return &set, nil
}

// ListForImage returns the stored mask set keys for one image.
func (s *MaskService) ListForImage(ctx context.Context, imageID string) ([]string, error) {
	keys, err := s.store.List(ctx, maskPrefix+imageID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list mask sets: %w", err)
	}
	return keys, nil
}
