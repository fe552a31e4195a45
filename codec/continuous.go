package codec

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/video"
)

// defaultCoefficients is the per-patch coefficient count of the built-in
// ramp transform (mean, slope).
const defaultCoefficients = 2

// FrameModel is the pluggable transform pair behind the continuous variant.
// The default model fits a luminance ramp per patch; injecting a model swaps
// the numeric backend without touching the pipeline.
type FrameModel interface {
	// Forward maps a patch to its coefficient vector.
	Forward(patch []float64) []float64

	// Inverse reconstructs a patch of patchLen samples from coefficients.
	Inverse(coeffs []float64, patchLen int) []float64

	// Coefficients reports the coefficient count per patch.
	Coefficients() int
}

// ContinuousCodec holds an encode/decode transform pair and refines token
// values until the target PSNR is met or the iteration bound is reached.
// The refinement loop is bounded, never open-ended optimization.
type ContinuousCodec struct {
	id      string
	cfg     *Config
	ledger  *memory.Ledger
	model   FrameModel
	metrics *metricsTracker
	logger  logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewContinuousCodec builds the continuous variant. model may be nil, in
// which case the built-in ramp transform is used.
func NewContinuousCodec(cfg *Config, ledger *memory.Ledger, model FrameModel) (*ContinuousCodec, error) {
	if cfg.Variant != VariantContinuous {
		return nil, &Error{Op: "construct", Reason: "config variant is not continuous"}
	}

	id := uuid.New().String()
	return &ContinuousCodec{
		id:      id,
		cfg:     cfg,
		ledger:  ledger,
		model:   model,
		metrics: newMetricsTracker(cfg.CompressionRatio),
		logger: logging.WithFields(logging.Fields{
			"component": "continuous_codec",
			"codec_id":  id,
		}),
	}, nil
}

func (c *ContinuousCodec) ID() string {
	return c.id
}

func (c *ContinuousCodec) Metrics() Metrics {
	return c.metrics.get()
}

func (c *ContinuousCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *ContinuousCodec) usable(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &Error{Op: op, Reason: "codec is closed"}
	}
	return nil
}

// Encode tokenizes the clip as (mean, slope) coefficient pairs per patch,
// then refines the slope by damped least-squares steps until the target
// PSNR or the iteration cap is hit.
func (c *ContinuousCodec) Encode(ctx context.Context, clip *video.Video, opts EncodeOptions) (*EncodeResult, error) {
	start := time.Now()
	if err := c.usable("encode"); err != nil {
		return failedEncode(c.metrics.get()), err
	}
	if err := clip.Validate(); err != nil {
		c.metrics.record(0, time.Since(start), -1)
		return failedEncode(c.metrics.get()), &Error{Op: "encode", Reason: "invalid input clip", Err: err}
	}
	if clip.Resolution != c.cfg.Resolution {
		c.metrics.record(0, time.Since(start), -1)
		return failedEncode(c.metrics.get()), &Error{Op: "encode", Reason: "clip resolution does not match configuration"}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	coeffs := defaultCoefficients
	if c.model != nil {
		coeffs = c.model.Coefficients()
	}
	patchLen := c.cfg.PatchLength()
	perFrame := chunksPerFrame(clip.Resolution, patchLen)
	tokens := &TokenBuffer{
		Variant:      VariantContinuous,
		Values:       make([]float64, 0, coeffs*perFrame*len(clip.Frames)),
		Coefficients: coeffs,
		Resolution:   clip.Resolution,
		FrameCount:   len(clip.Frames),
		FrameRate:    clip.FrameRate,
		Ratio:        c.cfg.CompressionRatio,
	}

	framePlane := uint64(clip.Resolution.Pixels()) * 8
	for lo := 0; lo < len(clip.Frames); lo += batchSize {
		hi := min(lo+batchSize, len(clip.Frames))

		if err := ctx.Err(); err != nil {
			c.metrics.record(0, time.Since(start), -1)
			return failedEncode(c.metrics.get()), &Error{Op: "encode", Reason: "cancelled", Err: err}
		}

		reservation, err := c.ledger.Reserve(framePlane * uint64(hi-lo) * 2)
		if err != nil {
			c.metrics.record(0, time.Since(start), -1)
			return failedEncode(c.metrics.get()), &Error{Op: "encode", Reason: "transient reservation denied", Err: err}
		}

		for f := lo; f < hi; f++ {
			for _, chunk := range frameChunks(&clip.Frames[f], patchLen) {
				if c.model != nil {
					tokens.Values = append(tokens.Values, c.model.Forward(chunk)...)
				} else {
					mean, slope := c.refinePatch(chunk)
					tokens.Values = append(tokens.Values, mean, slope)
				}
			}
		}
		reservation.Release()
	}

	reconstructed, err := c.Decode(ctx, tokens, DecodeOptions{BatchSize: batchSize})
	if err != nil {
		c.metrics.record(0, time.Since(start), -1)
		return failedEncode(c.metrics.get()), err
	}
	psnr := clipPSNR(clip, reconstructed)
	c.metrics.record(len(clip.Frames), time.Since(start), psnr)

	c.logger.Debug("encode completed", logging.Fields{
		"frames": len(clip.Frames),
		"tokens": tokens.TokenCount(),
		"psnr":   psnr,
	})
	return &EncodeResult{Tokens: tokens, Metrics: c.metrics.get(), Status: StatusCompleted}, nil
}

// refinePatch fits the (mean, slope) pair for one patch. The mean is exact;
// the slope starts at zero and takes damped steps toward the least-squares
// fit until the patch-level PSNR target or the iteration cap is reached.
func (c *ContinuousCodec) refinePatch(chunk []float64) (mean, slope float64) {
	mean = stat.Mean(chunk, nil)

	center := float64(len(chunk)-1) / 2
	var posNorm float64
	var cross float64
	for t, x := range chunk {
		p := float64(t) - center
		posNorm += p * p
		cross += p * (x - mean)
	}
	if posNorm == 0 {
		return mean, 0
	}
	target := cross / posNorm

	const damping = 0.5
	for iter := 0; iter < c.cfg.MaxRefineIters; iter++ {
		if patchPSNR(chunk, mean, slope, center) >= c.cfg.TargetPSNR {
			break
		}
		slope += damping * (target - slope)
	}
	return mean, slope
}

// patchPSNR evaluates the ramp fit quality for one patch.
func patchPSNR(chunk []float64, mean, slope, center float64) float64 {
	var sum float64
	for t, x := range chunk {
		d := mean + slope*(float64(t)-center) - x
		sum += d * d
	}
	mse := sum / float64(len(chunk))
	if mse == 0 {
		return psnrCap
	}
	return 10 * math.Log10(255.0*255.0/mse)
}

// Decode reconstructs a clip from coefficient pairs.
func (c *ContinuousCodec) Decode(ctx context.Context, tokens *TokenBuffer, opts DecodeOptions) (*video.Video, error) {
	if err := c.usable("decode"); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.Variant != VariantContinuous || tokens.FrameCount == 0 {
		return nil, &Error{Op: "decode", Reason: "empty or mismatched token buffer"}
	}

	coeffs := defaultCoefficients
	if c.model != nil {
		coeffs = c.model.Coefficients()
	}
	if tokens.Coefficients > 0 && tokens.Coefficients != coeffs {
		return nil, &Error{Op: "decode", Reason: "token coefficient count does not match the configured model"}
	}
	patchLen := c.cfg.PatchLength()
	perFrame := chunksPerFrame(tokens.Resolution, patchLen)
	if len(tokens.Values) != coeffs*perFrame*tokens.FrameCount {
		return nil, &Error{Op: "decode", Reason: "token count does not match frame geometry"}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	clip := &video.Video{
		Frames:     make([]video.Frame, tokens.FrameCount),
		Resolution: tokens.Resolution,
		FrameRate:  tokens.FrameRate,
		Timestamp:  time.Now(),
	}
	if tokens.FrameRate > 0 {
		clip.Duration = time.Duration(float64(tokens.FrameCount) / tokens.FrameRate * float64(time.Second))
	}

	framePlane := uint64(tokens.Resolution.Pixels()) * 8
	center := float64(patchLen-1) / 2
	for lo := 0; lo < tokens.FrameCount; lo += batchSize {
		hi := min(lo+batchSize, tokens.FrameCount)

		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "decode", Reason: "cancelled", Err: err}
		}

		reservation, err := c.ledger.Reserve(framePlane * uint64(hi-lo))
		if err != nil {
			return nil, &Error{Op: "decode", Reason: "transient reservation denied", Err: err}
		}

		patch := make([]float64, patchLen)
		for f := lo; f < hi; f++ {
			frame := video.Frame{
				Pixels:     make([]float64, tokens.Resolution.Pixels()),
				Resolution: tokens.Resolution,
			}
			for ch := 0; ch < perFrame; ch++ {
				base := (f*perFrame + ch) * coeffs
				if c.model != nil {
					copy(patch, c.model.Inverse(tokens.Values[base:base+coeffs], patchLen))
				} else {
					mean, slope := tokens.Values[base], tokens.Values[base+1]
					for t := range patch {
						patch[t] = mean + slope*(float64(t)-center)
					}
				}
				writeChunk(&frame, ch, patchLen, patch)
			}
			clip.Frames[f] = frame
		}
		reservation.Release()
	}
	return clip, nil
}
