package video

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Resolution describes frame dimensions in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels returns the pixel count of a single frame.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Frame holds one decoded frame as row-major luminance samples in [0, 255].
// The pipeline operates on luminance only; chroma planes are dropped at
// decode time the same way fingerprinting pipelines downmix to mono.
type Frame struct {
	Pixels     []float64 `json:"-"`
	Resolution Resolution
}

// Sample returns the pixel at (x, y). Out-of-range coordinates return 0.
func (f *Frame) Sample(x, y int) float64 {
	if x < 0 || y < 0 || x >= f.Resolution.Width || y >= f.Resolution.Height {
		return 0
	}
	return f.Pixels[y*f.Resolution.Width+x]
}

// Video represents a decoded video clip ready for tokenization.
type Video struct {
	Frames     []Frame       `json:"-"`
	Resolution Resolution    `json:"resolution"`
	FrameRate  float64       `json:"frame_rate"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// FrameCount returns the number of decoded frames.
func (v *Video) FrameCount() int {
	if v == nil {
		return 0
	}
	return len(v.Frames)
}

// Validate checks that the clip is non-empty and internally consistent.
// An empty-duration or zero-frame clip is rejected here rather than
// producing a zero-length "successful" result downstream.
func (v *Video) Validate() error {
	if v == nil || len(v.Frames) == 0 {
		return fmt.Errorf("video: clip has no frames")
	}
	if !v.Resolution.Valid() {
		return fmt.Errorf("video: invalid resolution %s", v.Resolution)
	}
	for i := range v.Frames {
		if v.Frames[i].Resolution != v.Resolution {
			return fmt.Errorf("video: frame %d resolution %s does not match clip resolution %s",
				i, v.Frames[i].Resolution, v.Resolution)
		}
		if len(v.Frames[i].Pixels) != v.Resolution.Pixels() {
			return fmt.Errorf("video: frame %d has %d samples, want %d",
				i, len(v.Frames[i].Pixels), v.Resolution.Pixels())
		}
	}
	return nil
}

// Checksum computes a content hash over frame pixel data in frame order.
// Two bit-identical clips produce the same checksum regardless of metadata.
func (v *Video) Checksum() string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v.Resolution.Width)<<32|uint64(v.Resolution.Height))
	h.Write(buf[:])
	for i := range v.Frames {
		for _, p := range v.Frames[i].Pixels {
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(p))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of the clip.
func (v *Video) Clone() *Video {
	out := &Video{
		Frames:     make([]Frame, len(v.Frames)),
		Resolution: v.Resolution,
		FrameRate:  v.FrameRate,
		Duration:   v.Duration,
		Timestamp:  v.Timestamp,
	}
	for i := range v.Frames {
		pixels := make([]float64, len(v.Frames[i].Pixels))
		copy(pixels, v.Frames[i].Pixels)
		out.Frames[i] = Frame{Pixels: pixels, Resolution: v.Frames[i].Resolution}
	}
	return out
}
