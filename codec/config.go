package codec

import (
	"fmt"
	"math"

	"github.com/framegate/curate/video"
)

// Variant selects the tokenization strategy.
type Variant string

const (
	// VariantContinuous holds an encode/decode transform pair and refines
	// token values iteratively until a target PSNR is met.
	VariantContinuous Variant = "continuous"

	// VariantDiscrete quantizes patch vectors against a fixed codebook.
	VariantDiscrete Variant = "discrete"
)

// Allowed compression ratios per variant. A ratio outside the set for its
// variant fails configuration up front.
var allowedRatios = map[Variant][]int{
	VariantContinuous: {4, 8, 16, 32, 64},
	VariantDiscrete:   {64, 128, 256, 512, 1024},
}

// Config holds a validated tokenizer configuration. Immutable once built;
// construct through NewConfig only.
type Config struct {
	Variant          Variant          `json:"variant" yaml:"variant"`
	CompressionRatio int              `json:"compression_ratio" yaml:"compression_ratio"`
	Resolution       video.Resolution `json:"resolution" yaml:"resolution"`
	BatchSize        int              `json:"batch_size" yaml:"batch_size"`

	// TargetPSNR and MaxRefineIters bound the continuous variant's
	// refinement loop.
	TargetPSNR     float64 `json:"target_psnr" yaml:"target_psnr"`
	MaxRefineIters int     `json:"max_refine_iters" yaml:"max_refine_iters"`

	// MemoryEstimate is the derived worst-case device footprint in bytes
	// for one encode batch, including the codebook for the discrete variant.
	MemoryEstimate uint64 `json:"memory_estimate" yaml:"-"`
}

// DefaultBatchSize is applied when a configuration does not set one.
const DefaultBatchSize = 8

// NewConfig validates the combination and derives the memory estimate.
// deviceBudget is the device memory ceiling in bytes; a configuration whose
// estimate exceeds it is rejected here rather than failing mid-pipeline.
func NewConfig(variant Variant, ratio int, res video.Resolution, batchSize int, deviceBudget uint64) (*Config, error) {
	if !res.Valid() {
		return nil, &Error{Op: "configure", Reason: fmt.Sprintf("invalid resolution %s", res)}
	}
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < 0 {
		return nil, &Error{Op: "configure", Reason: fmt.Sprintf("negative batch size %d", batchSize)}
	}

	allowed, ok := allowedRatios[variant]
	if !ok {
		return nil, &Error{Op: "configure", Reason: fmt.Sprintf("unknown variant %q", variant)}
	}
	ratioOK := false
	for _, r := range allowed {
		if r == ratio {
			ratioOK = true
			break
		}
	}
	if !ratioOK {
		return nil, &Error{Op: "configure", Reason: fmt.Sprintf(
			"compression ratio %d is not in the allowed set %v for variant %q", ratio, allowed, variant)}
	}

	cfg := &Config{
		Variant:          variant,
		CompressionRatio: ratio,
		Resolution:       res,
		BatchSize:        batchSize,
		TargetPSNR:       40.0,
		MaxRefineIters:   32,
	}
	cfg.MemoryEstimate = cfg.estimateMemory()
	if cfg.MemoryEstimate > deviceBudget {
		return nil, &Error{Op: "configure", Reason: fmt.Sprintf(
			"estimated device footprint %d bytes exceeds budget %d bytes", cfg.MemoryEstimate, deviceBudget)}
	}
	return cfg, nil
}

// estimateMemory derives the worst-case device footprint for one batch:
// input and output planes plus token workspace, plus the codebook table for
// the discrete variant.
func (c *Config) estimateMemory() uint64 {
	framePlane := uint64(c.Resolution.Pixels()) * 8
	batch := framePlane * uint64(c.BatchSize) * 2 // input + reconstruction
	tokens := framePlane * uint64(c.BatchSize) / uint64(c.CompressionRatio)
	est := batch + tokens
	if c.Variant == VariantDiscrete {
		est += c.CodebookBytes()
	}
	return est
}

// CodebookSize returns the discrete codebook entry count, 2^log2(ratio).
func (c *Config) CodebookSize() int {
	return 1 << uint(math.Round(math.Log2(float64(c.CompressionRatio))))
}

// CodebookBytes returns the device footprint of the codebook table.
func (c *Config) CodebookBytes() uint64 {
	// entries of dimension CompressionRatio, float64 each
	return uint64(c.CodebookSize()) * uint64(c.CompressionRatio) * 8
}

// PatchLength is the pixel-stream chunk length mapped to one token.
func (c *Config) PatchLength() int {
	return c.CompressionRatio
}
