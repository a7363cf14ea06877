package runner

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/model"
)

// Handle is the shared, read-only model state for the builtin segmenter.
// Constructed once at startup and passed to every worker explicitly.
type Handle struct {
	MaxPixels     int
	MinRegionArea int
}

// LoadHandle builds the builtin model handle from config.
func LoadHandle(cfg *config.SegmentConfig) *Handle {
	return &Handle{
		MaxPixels:     cfg.MaxPixels,
		MinRegionArea: 4,
	}
}

// BuiltinRunner segments by connected components of quantized color. It is
// the fallback model when no inference service is configured: good enough to
// exercise the full pipeline on synthetic and low-texture images.
type BuiltinRunner struct {
	handle *Handle
	log    *zap.Logger
}

func NewBuiltinRunner(handle *Handle, log *zap.Logger) *BuiltinRunner {
	return &BuiltinRunner{handle: handle, log: log}
}

func (r *BuiltinRunner) Info() model.ModelInfo {
	return model.ModelInfo{
		Key:    "builtin",
		Family: model.ModelFamilyBuiltin,
		Remote: false,
	}
}

func (r *BuiltinRunner) Segment(ctx context.Context, img *model.Image, data []byte, cfg model.SegmentConfig) ([]model.Mask, error) {
	if img.Width*img.Height > r.handle.MaxPixels {
		return nil, fmt.Errorf("%w: image %dx%d exceeds pixel budget %d",
			ErrResourceExhausted, img.Width, img.Height, r.handle.MaxPixels)
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrModel, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comps := connectedComponents(decoded, r.handle.MinRegionArea)
	total := float64(img.Width * img.Height)

	masks := make([]model.Mask, 0, len(comps))
	for i, comp := range comps {
		if len(cfg.PromptPoints) > 0 && !comp.containsAny(cfg.PromptPoints) {
			continue
		}
		// Larger coherent regions score higher; a solid image yields a
		// single near-certain mask.
		confidence := 0.5 + 0.49*float64(comp.area)/total
		masks = append(masks, model.Mask{
			Region:     model.EncodeRLE(comp.bits, comp.w, comp.h),
			Confidence: confidence,
			Label:      fmt.Sprintf("region-%d", i+1),
			BBox:       comp.bbox,
			Area:       comp.area,
		})
	}

	r.log.Debug("builtin segmentation finished",
		zap.String("imageId", img.ID),
		zap.Int("components", len(comps)),
		zap.Int("masks", len(masks)),
	)

	return applyLimits(masks, cfg.ConfidenceThreshold, cfg.MaxMasks), nil
}

type component struct {
	bits []bool
	w, h int
	area int
	bbox [4]int
}

func (c *component) containsAny(points []model.Point) bool {
	for _, p := range points {
		if p.X < c.w && p.Y < c.h && c.bits[p.Y*c.w+p.X] {
			return true
		}
	}
	return false
}

// quantize collapses each channel to 5 bits so JPEG noise does not split
// regions.
func quantize(img image.Image, x, y int) uint32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (r >> 11 << 10) | (g >> 11 << 5) | (b >> 11)
}

// connectedComponents labels 4-connected regions of equal quantized color,
// largest first. Regions under minArea pixels are dropped.
func connectedComponents(img image.Image, minArea int) []*component {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	colors := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			colors[y*w+x] = quantize(img, bounds.Min.X+x, bounds.Min.Y+y)
		}
	}

	visited := make([]bool, w*h)
	var comps []*component

	for start := 0; start < w*h; start++ {
		if visited[start] {
			continue
		}

		comp := &component{
			bits: make([]bool, w*h),
			w:    w,
			h:    h,
			bbox: [4]int{w, h, 0, 0},
		}
		color := colors[start]
		stack := []int{start}
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			comp.bits[idx] = true
			comp.area++

			x, y := idx%w, idx/w
			if x < comp.bbox[0] {
				comp.bbox[0] = x
			}
			if y < comp.bbox[1] {
				comp.bbox[1] = y
			}
			if x > comp.bbox[2] {
				comp.bbox[2] = x
			}
			if y > comp.bbox[3] {
				comp.bbox[3] = y
			}

			for _, n := range neighbors(idx, w, h) {
				if !visited[n] && colors[n] == color {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		if comp.area >= minArea {
			comps = append(comps, comp)
		}
	}

	sort.Slice(comps, func(i, j int) bool { return comps[i].area > comps[j].area })
	return comps
}

func neighbors(idx, w, h int) []int {
	x, y := idx%w, idx/w
	out := make([]int, 0, 4)
	if x > 0 {
		out = append(out, idx-1)
	}
	if x < w-1 {
		out = append(out, idx+1)
	}
	if y > 0 {
		out = append(out, idx-w)
	}
	if y < h-1 {
		out = append(out, idx+w)
	}
	return out
}
