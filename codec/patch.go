package codec

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/framegate/curate/video"
)

// Frames are tokenized as fixed-length chunks of their row-major pixel
// stream. Tail chunks are padded with the chunk mean so padding does not
// bias nearest-neighbor assignment.

// frameChunks splits a frame's pixel stream into chunks of length patchLen.
func frameChunks(f *video.Frame, patchLen int) [][]float64 {
	n := len(f.Pixels)
	count := (n + patchLen - 1) / patchLen
	chunks := make([][]float64, count)
	for i := 0; i < count; i++ {
		start := i * patchLen
		end := start + patchLen
		chunk := make([]float64, patchLen)
		if end <= n {
			copy(chunk, f.Pixels[start:end])
		} else {
			valid := f.Pixels[start:n]
			copy(chunk, valid)
			pad := stat.Mean(valid, nil)
			for j := n - start; j < patchLen; j++ {
				chunk[j] = pad
			}
		}
		chunks[i] = chunk
	}
	return chunks
}

// chunksPerFrame returns the token count per frame for the given config.
func chunksPerFrame(res video.Resolution, patchLen int) int {
	return (res.Pixels() + patchLen - 1) / patchLen
}

// writeChunk copies a reconstructed chunk back into the frame, ignoring
// the padded tail.
func writeChunk(f *video.Frame, chunkIdx, patchLen int, values []float64) {
	start := chunkIdx * patchLen
	for j := 0; j < patchLen && start+j < len(f.Pixels); j++ {
		f.Pixels[start+j] = values[j]
	}
}

// psnrCap bounds PSNR for bit-exact reconstructions so metric sets stay
// finite and comparable.
const psnrCap = 100.0

// clipPSNR computes PSNR in dB between two clips of identical shape.
func clipPSNR(a, b *video.Video) float64 {
	var sum float64
	var n int
	for i := range a.Frames {
		pa, pb := a.Frames[i].Pixels, b.Frames[i].Pixels
		for j := range pa {
			d := pa[j] - pb[j]
			sum += d * d
		}
		n += len(pa)
	}
	if n == 0 {
		return 0
	}
	mse := sum / float64(n)
	if mse == 0 {
		return psnrCap
	}
	psnr := 10 * math.Log10(255.0*255.0/mse)
	return math.Min(psnr, psnrCap)
}
