package features

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/framegate/curate/video"
)

// SpectralExtractor is the deterministic reference backend. It embeds a
// frame set by taking the FFT of per-frame row and column luminance
// profiles, keeping the low-frequency magnitude bands, and aggregating
// mean and spread across frames. Cheap, dependency-light, and stable, it
// stands in for a neural embedding during development and tests.
type SpectralExtractor struct {
	bands int
}

// NewSpectralExtractor creates an extractor keeping the given number of
// low-frequency bands per axis. bands must be positive; values above the
// frame dimensions are clamped at extraction time.
func NewSpectralExtractor(bands int) *SpectralExtractor {
	if bands <= 0 {
		bands = 16
	}
	return &SpectralExtractor{bands: bands}
}

// Dimension reports the embedding length: mean and standard deviation for
// each of the row-profile and column-profile bands.
func (s *SpectralExtractor) Dimension() int {
	return s.bands * 4
}

// Extract computes the spectral embedding over the given frames.
func (s *SpectralExtractor) Extract(ctx context.Context, frames []video.Frame) ([]float64, error) {
	if len(frames) == 0 {
		return nil, &ExtractionError{Backend: "spectral", Err: errEmptyInput}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Backend: "spectral", Err: err}
	}

	// Per-frame band magnitudes, rows then columns.
	rowBands := make([][]float64, s.bands)
	colBands := make([][]float64, s.bands)
	for b := 0; b < s.bands; b++ {
		rowBands[b] = make([]float64, len(frames))
		colBands[b] = make([]float64, len(frames))
	}

	for i := range frames {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractionError{Backend: "spectral", Err: err}
		}
		rows, cols := axisProfiles(&frames[i])
		copyBands(rowBands, fftMagnitudes(rows, s.bands), i)
		copyBands(colBands, fftMagnitudes(cols, s.bands), i)
	}

	out := make([]float64, 0, s.Dimension())
	for b := 0; b < s.bands; b++ {
		out = append(out, stat.Mean(rowBands[b], nil))
		out = append(out, math.Sqrt(stat.Variance(rowBands[b], nil)))
	}
	for b := 0; b < s.bands; b++ {
		out = append(out, stat.Mean(colBands[b], nil))
		out = append(out, math.Sqrt(stat.Variance(colBands[b], nil)))
	}
	return out, nil
}

// axisProfiles reduces a frame to its mean-luminance row and column signals.
func axisProfiles(f *video.Frame) (rows, cols []float64) {
	w, h := f.Resolution.Width, f.Resolution.Height
	rows = make([]float64, h)
	cols = make([]float64, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := f.Pixels[y*w+x]
			rows[y] += p
			cols[x] += p
		}
	}
	for y := range rows {
		rows[y] /= float64(w)
	}
	for x := range cols {
		cols[x] /= float64(h)
	}
	return rows, cols
}

// fftMagnitudes returns the magnitudes of the first bands FFT bins,
// zero-padded when the signal is shorter than bands.
func fftMagnitudes(signal []float64, bands int) []float64 {
	// mjibson/go-dsp handles all sizes, including non-power-of-2
	spectrum := fft.FFTReal(signal)
	out := make([]float64, bands)
	for b := 0; b < bands && b < len(spectrum); b++ {
		out[b] = cmplx.Abs(spectrum[b])
	}
	return out
}

func copyBands(dst [][]float64, src []float64, frame int) {
	for b := range dst {
		dst[b][frame] = src[b]
	}
}
