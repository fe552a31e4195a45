// Package quality computes objective quality metrics between original and
// reconstructed clips: pixel-level PSNR, structural SSIM, and Fréchet
// distances over feature embeddings (FID per frame, FVD per temporal
// window). The Assessor caches results per (assetID, checksum) and gates
// acceptability against configured thresholds.
package quality

import (
	"math"

	"github.com/framegate/curate/video"
)

// psnrCap bounds PSNR for bit-exact reconstructions so metric sets stay
// finite and comparable.
const psnrCap = 100.0

// PSNR computes the peak signal-to-noise ratio in dB between two clips of
// identical shape, via mean squared error against the reference.
func PSNR(reference, processed *video.Video) (float64, error) {
	if err := sameShape(reference, processed); err != nil {
		return 0, err
	}

	var sum float64
	var n int
	for i := range reference.Frames {
		ref, proc := reference.Frames[i].Pixels, processed.Frames[i].Pixels
		for j := range ref {
			d := ref[j] - proc[j]
			sum += d * d
		}
		n += len(ref)
	}

	mse := sum / float64(n)
	if mse == 0 {
		return psnrCap, nil
	}
	return math.Min(10*math.Log10(255.0*255.0/mse), psnrCap), nil
}

func sameShape(a, b *video.Video) error {
	if err := a.Validate(); err != nil {
		return &AssessmentError{Reason: "invalid reference clip", Err: err}
	}
	if err := b.Validate(); err != nil {
		return &AssessmentError{Reason: "invalid processed clip", Err: err}
	}
	if a.Resolution != b.Resolution || len(a.Frames) != len(b.Frames) {
		return &AssessmentError{Reason: "clip shapes differ"}
	}
	return nil
}
