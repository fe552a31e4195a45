package quality

import (
	"math"

	"github.com/framegate/curate/video"
)

// Standard SSIM constants for 8-bit dynamic range.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)

	ssimWindow = 11
	ssimSigma  = 1.5
)

// ssimKernel is the normalized 2D Gaussian window shared by all calls.
var ssimKernel = gaussianKernel(ssimWindow, ssimSigma)

// SSIM computes the mean structural similarity between two clips of
// identical shape. Windows are Gaussian-weighted and sampled on a half-
// window hop to keep cost bounded on large frames.
func SSIM(reference, processed *video.Video) (float64, error) {
	if err := sameShape(reference, processed); err != nil {
		return 0, err
	}

	var total float64
	for i := range reference.Frames {
		total += frameSSIM(&reference.Frames[i], &processed.Frames[i])
	}
	return total / float64(len(reference.Frames)), nil
}

func frameSSIM(ref, proc *video.Frame) float64 {
	w, h := ref.Resolution.Width, ref.Resolution.Height
	hop := ssimWindow / 2
	if hop < 1 {
		hop = 1
	}

	maxX := w - ssimWindow
	if maxX < 0 {
		maxX = 0
	}
	maxY := h - ssimWindow
	if maxY < 0 {
		maxY = 0
	}

	var sum float64
	var windows int
	for y := 0; y <= maxY; y += hop {
		for x := 0; x <= maxX; x += hop {
			sum += windowSSIM(ref, proc, x, y)
			windows++
		}
	}
	return sum / float64(windows)
}

// windowSSIM evaluates the luminance/contrast/structure terms over one
// Gaussian-weighted window anchored at (x0, y0). Samples outside the frame
// clamp to the border.
func windowSSIM(ref, proc *video.Frame, x0, y0 int) float64 {
	var muX, muY float64
	for wy := 0; wy < ssimWindow; wy++ {
		for wx := 0; wx < ssimWindow; wx++ {
			k := ssimKernel[wy*ssimWindow+wx]
			muX += k * sampleClamped(ref, x0+wx, y0+wy)
			muY += k * sampleClamped(proc, x0+wx, y0+wy)
		}
	}

	var varX, varY, cov float64
	for wy := 0; wy < ssimWindow; wy++ {
		for wx := 0; wx < ssimWindow; wx++ {
			k := ssimKernel[wy*ssimWindow+wx]
			dx := sampleClamped(ref, x0+wx, y0+wy) - muX
			dy := sampleClamped(proc, x0+wx, y0+wy) - muY
			varX += k * dx * dx
			varY += k * dy * dy
			cov += k * dx * dy
		}
	}

	num := (2*muX*muY + ssimC1) * (2*cov + ssimC2)
	den := (muX*muX + muY*muY + ssimC1) * (varX + varY + ssimC2)
	return num / den
}

func sampleClamped(f *video.Frame, x, y int) float64 {
	if x >= f.Resolution.Width {
		x = f.Resolution.Width - 1
	}
	if y >= f.Resolution.Height {
		y = f.Resolution.Height - 1
	}
	return f.Pixels[y*f.Resolution.Width+x]
}

func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size*size)
	center := float64(size-1) / 2
	var sum float64
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - center
			dy := float64(y) - center
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			kernel[y*size+x] = v
			sum += v
		}
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}
