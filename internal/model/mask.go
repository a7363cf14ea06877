package model

import "time"

// RLE is a run-length encoded binary region. Runs are counted over the
// row-major flattened bitmap and alternate starting with zeros, so a fully
// set 10x10 region encodes as Counts=[0,100].
type RLE struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Counts []int `json:"counts"`
}

// EncodeRLE encodes a row-major bitmap of w*h pixels.
func EncodeRLE(bits []bool, w, h int) RLE {
	counts := []int{}
	cur := false
	run := 0
	for _, b := range bits {
		if b == cur {
			run++
			continue
		}
		counts = append(counts, run)
		cur = b
		run = 1
	}
	counts = append(counts, run)
	return RLE{Width: w, Height: h, Counts: counts}
}

// Decode expands the RLE back into a row-major bitmap.
func (r RLE) Decode() []bool {
	bits := make([]bool, r.Width*r.Height)
	idx := 0
	val := false
	for _, n := range r.Counts {
		for i := 0; i < n && idx < len(bits); i++ {
			bits[idx] = val
			idx++
		}
		val = !val
	}
	return bits
}

// Area returns the number of set pixels.
func (r RLE) Area() int {
	area := 0
	set := false
	for _, n := range r.Counts {
		if set {
			area += n
		}
		set = !set
	}
	return area
}

// Mask is one detected region. Region matches the source image dimensions;
// BBox is [x1, y1, x2, y2] inclusive.
type Mask struct {
	Region     RLE     `json:"region"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
	BBox       [4]int  `json:"bbox"`
	Area       int     `json:"area"`
}

// MaskSet is the complete output of one successful segmentation job.
// Produced exactly once, immutable afterward.
type MaskSet struct {
	JobID       string    `json:"jobId"`
	ImageID     string    `json:"imageId"`
	Model       string    `json:"model"`
	Preset      string    `json:"preset,omitempty"`
	Masks       []Mask    `json:"masks"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// MaskSetListResponse lists stored mask sets for an image
type MaskSetListResponse struct {
	ImageID string   `json:"imageId"`
	Keys    []string `json:"keys"`
	Count   int      `json:"count"`
}
