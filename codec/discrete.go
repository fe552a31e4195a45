package codec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/video"
)

// DiscreteCodec assigns each patch vector to its nearest codebook entry and
// reconstructs by table lookup. Quantization is deterministic; there is no
// iterative refinement.
type DiscreteCodec struct {
	id       string
	cfg      *Config
	ledger   *memory.Ledger
	codebook *Codebook
	metrics  *metricsTracker
	logger   logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewDiscreteCodec allocates the codebook against the ledger. A denied
// reservation is a hard construction error; the codec never becomes usable.
func NewDiscreteCodec(cfg *Config, ledger *memory.Ledger) (*DiscreteCodec, error) {
	if cfg.Variant != VariantDiscrete {
		return nil, &Error{Op: "construct", Reason: "config variant is not discrete"}
	}
	codebook, err := newCodebook(cfg, ledger)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	return &DiscreteCodec{
		id:       id,
		cfg:      cfg,
		ledger:   ledger,
		codebook: codebook,
		metrics:  newMetricsTracker(cfg.CompressionRatio),
		logger: logging.WithFields(logging.Fields{
			"component": "discrete_codec",
			"codec_id":  id,
		}),
	}, nil
}

func (d *DiscreteCodec) ID() string {
	return d.id
}

func (d *DiscreteCodec) Metrics() Metrics {
	return d.metrics.get()
}

// Close releases the codebook reservation. Safe to call repeatedly.
func (d *DiscreteCodec) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.codebook.release()
		d.closed = true
	}
	return nil
}

func (d *DiscreteCodec) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &Error{Op: "encode", Reason: "codec is closed"}
	}
	return nil
}

// Encode tokenizes the clip frame batch by frame batch. Transient device
// memory is reserved per batch and released on both success and failure.
func (d *DiscreteCodec) Encode(ctx context.Context, clip *video.Video, opts EncodeOptions) (*EncodeResult, error) {
	start := time.Now()
	if err := d.usable(); err != nil {
		return failedEncode(d.metrics.get()), err
	}
	if err := clip.Validate(); err != nil {
		d.metrics.record(0, time.Since(start), -1)
		return failedEncode(d.metrics.get()), &Error{Op: "encode", Reason: "invalid input clip", Err: err}
	}
	if clip.Resolution != d.cfg.Resolution {
		d.metrics.record(0, time.Since(start), -1)
		return failedEncode(d.metrics.get()), &Error{Op: "encode", Reason: "clip resolution does not match configuration"}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}

	patchLen := d.cfg.PatchLength()
	perFrame := chunksPerFrame(clip.Resolution, patchLen)
	tokens := &TokenBuffer{
		Variant:    VariantDiscrete,
		Indices:    make([]uint32, 0, perFrame*len(clip.Frames)),
		Resolution: clip.Resolution,
		FrameCount: len(clip.Frames),
		FrameRate:  clip.FrameRate,
		Ratio:      d.cfg.CompressionRatio,
	}

	framePlane := uint64(clip.Resolution.Pixels()) * 8
	for lo := 0; lo < len(clip.Frames); lo += batchSize {
		hi := min(lo+batchSize, len(clip.Frames))

		if err := ctx.Err(); err != nil {
			d.metrics.record(0, time.Since(start), -1)
			return failedEncode(d.metrics.get()), &Error{Op: "encode", Reason: "cancelled", Err: err}
		}

		reservation, err := d.ledger.Reserve(framePlane * uint64(hi-lo) * 2)
		if err != nil {
			d.metrics.record(0, time.Since(start), -1)
			return failedEncode(d.metrics.get()), &Error{Op: "encode", Reason: "transient reservation denied", Err: err}
		}

		for f := lo; f < hi; f++ {
			for _, chunk := range frameChunks(&clip.Frames[f], patchLen) {
				tokens.Indices = append(tokens.Indices, d.codebook.Nearest(chunk))
			}
		}
		reservation.Release()
	}

	reconstructed, err := d.Decode(ctx, tokens, DecodeOptions{BatchSize: batchSize})
	if err != nil {
		d.metrics.record(0, time.Since(start), -1)
		return failedEncode(d.metrics.get()), err
	}
	psnr := clipPSNR(clip, reconstructed)
	d.metrics.record(len(clip.Frames), time.Since(start), psnr)

	d.logger.Debug("encode completed", logging.Fields{
		"frames": len(clip.Frames),
		"tokens": tokens.TokenCount(),
		"psnr":   psnr,
	})
	return &EncodeResult{Tokens: tokens, Metrics: d.metrics.get(), Status: StatusCompleted}, nil
}

// Decode reconstructs a clip by codebook lookup.
func (d *DiscreteCodec) Decode(ctx context.Context, tokens *TokenBuffer, opts DecodeOptions) (*video.Video, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.Variant != VariantDiscrete || tokens.FrameCount == 0 {
		return nil, &Error{Op: "decode", Reason: "empty or mismatched token buffer"}
	}

	patchLen := d.cfg.PatchLength()
	perFrame := chunksPerFrame(tokens.Resolution, patchLen)
	if len(tokens.Indices) != perFrame*tokens.FrameCount {
		return nil, &Error{Op: "decode", Reason: "token count does not match frame geometry"}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
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
	for lo := 0; lo < tokens.FrameCount; lo += batchSize {
		hi := min(lo+batchSize, tokens.FrameCount)

		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "decode", Reason: "cancelled", Err: err}
		}

		reservation, err := d.ledger.Reserve(framePlane * uint64(hi-lo))
		if err != nil {
			return nil, &Error{Op: "decode", Reason: "transient reservation denied", Err: err}
		}

		for f := lo; f < hi; f++ {
			frame := video.Frame{
				Pixels:     make([]float64, tokens.Resolution.Pixels()),
				Resolution: tokens.Resolution,
			}
			for c := 0; c < perFrame; c++ {
				entry := d.codebook.Lookup(tokens.Indices[f*perFrame+c])
				writeChunk(&frame, c, patchLen, entry)
			}
			clip.Frames[f] = frame
		}
		reservation.Release()
	}
	return clip, nil
}
