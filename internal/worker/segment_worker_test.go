package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/internal/service"
)

func setupWorker(t *testing.T) (*SegmentWorker, *service.ImageService, *service.MaskService) {
	t.Helper()
	store, err := client.NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	log := zap.NewNop()
	images := service.NewImageService(store, log)
	masks := service.NewMaskService(store, log)
	handle := runner.LoadHandle(&config.SegmentConfig{MaxPixels: 1 << 20})
	w := NewSegmentWorker(images, masks, runner.NewBuiltinRunner(handle, log), log)
	return w, images, masks
}

func solidPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProcessPersistsMaskSet(t *testing.T) {
	w, images, masks := setupWorker(t)
	ctx := context.Background()

	img, err := images.Put(ctx, solidPNG(t))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	job := model.Job{
		ID:      "job-1",
		ImageID: img.ID,
		Config:  model.SegmentConfig{Preset: "default", MaxMasks: 8},
	}
	out, err := w.Process(ctx, job)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if out.Key != service.MaskSetKey(img.ID, job.ID) {
		t.Errorf("unexpected storage key %s", out.Key)
	}
	if len(out.MaskSet.Masks) != 1 {
		t.Fatalf("expected one mask, got %d", len(out.MaskSet.Masks))
	}
	if out.MaskSet.Preset != "default" {
		t.Errorf("expected preset recorded, got %q", out.MaskSet.Preset)
	}

	// The mask set is readable back from the store under the returned key.
	stored, err := masks.Get(ctx, out.Key)
	if err != nil {
		t.Fatalf("stored mask set unreadable: %v", err)
	}
	if stored.JobID != job.ID || stored.ImageID != img.ID {
		t.Errorf("stored mask set mislabeled: %+v", stored)
	}

	keys, err := masks.ListForImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != out.Key {
		t.Errorf("unexpected mask set keys: %v", keys)
	}
}

func TestProcessMissingImage(t *testing.T) {
	w, _, _ := setupWorker(t)

	job := model.Job{ID: "job-1", ImageID: "0badc0de"}
	_, err := w.Process(context.Background(), job)
	if !errors.Is(err, runner.ErrModel) {
		t.Errorf("expected ErrModel for vanished image, got %v", err)
	}
}
