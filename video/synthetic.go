package video

import (
	"math"
	"time"
)

// Synthetic clip builders. Used by the reference pipeline wiring and tests;
// deterministic so checksums are stable across runs.

// UniformFrame returns a frame filled with a constant luminance value.
func UniformFrame(res Resolution, value float64) Frame {
	pixels := make([]float64, res.Pixels())
	for i := range pixels {
		pixels[i] = value
	}
	return Frame{Pixels: pixels, Resolution: res}
}

// GradientFrame returns a frame whose luminance ramps horizontally from 0 to
// 255, phase-shifted per frame index so consecutive frames differ.
func GradientFrame(res Resolution, phase int) Frame {
	pixels := make([]float64, res.Pixels())
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			v := float64((x+phase)%res.Width) / float64(res.Width-1) * 255.0
			pixels[y*res.Width+x] = v
		}
	}
	return Frame{Pixels: pixels, Resolution: res}
}

// CheckerFrame returns a frame with an alternating block pattern. blockSize
// controls the checker square edge in pixels.
func CheckerFrame(res Resolution, blockSize int, phase int) Frame {
	if blockSize < 1 {
		blockSize = 1
	}
	pixels := make([]float64, res.Pixels())
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			if ((x/blockSize)+(y/blockSize)+phase)%2 == 0 {
				pixels[y*res.Width+x] = 255.0
			}
		}
	}
	return Frame{Pixels: pixels, Resolution: res}
}

// SineFrame returns a frame with a smooth 2D sinusoidal luminance pattern.
func SineFrame(res Resolution, freq float64, phase float64) Frame {
	pixels := make([]float64, res.Pixels())
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			s := math.Sin(2*math.Pi*freq*float64(x)/float64(res.Width) + phase)
			c := math.Cos(2 * math.Pi * freq * float64(y) / float64(res.Height))
			pixels[y*res.Width+x] = (s*c + 1) / 2 * 255.0
		}
	}
	return Frame{Pixels: pixels, Resolution: res}
}

// NewClip assembles frames into a clip with frame-rate-derived duration.
func NewClip(frames []Frame, res Resolution, frameRate float64) *Video {
	var dur time.Duration
	if frameRate > 0 {
		dur = time.Duration(float64(len(frames)) / frameRate * float64(time.Second))
	}
	return &Video{
		Frames:     frames,
		Resolution: res,
		FrameRate:  frameRate,
		Duration:   dur,
		Timestamp:  time.Now(),
	}
}
