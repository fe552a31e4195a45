// Package codec converts decoded video into compact token buffers and back
// under an explicit compression ratio and device memory budget. Two variants
// are provided: a continuous codec holding a refinable transform pair, and a
// discrete codec quantizing patch vectors against a fixed codebook.
package codec

import (
	"context"
	"fmt"

	"github.com/framegate/curate/video"
)

// Status reports the outcome of an encode or decode operation. Operations
// never panic past the codec boundary; callers must check Status (or the
// returned error) rather than assume success.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Error is the typed failure for codec operations. The orchestrator
// classifies it as a retryable infrastructure failure.
type Error struct {
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TokenBuffer is the compact representation produced by Encode. The discrete
// variant fills Indices; the continuous variant fills Values, Coefficients
// per patch (two for the default mean/slope pair).
type TokenBuffer struct {
	Variant      Variant          `json:"variant"`
	Indices      []uint32         `json:"-"`
	Values       []float64        `json:"-"`
	Coefficients int              `json:"coefficients,omitempty"`
	Resolution   video.Resolution `json:"resolution"`
	FrameCount   int              `json:"frame_count"`
	FrameRate    float64          `json:"frame_rate"`
	Ratio        int              `json:"ratio"`
}

// TokenCount returns the number of tokens held.
func (t *TokenBuffer) TokenCount() int {
	if t == nil {
		return 0
	}
	if t.Variant == VariantDiscrete {
		return len(t.Indices)
	}
	coeffs := t.Coefficients
	if coeffs <= 0 {
		coeffs = defaultCoefficients
	}
	return len(t.Values) / coeffs
}

// EncodeOptions tune a single Encode call.
type EncodeOptions struct {
	// BatchSize caps how many frames are processed per device batch.
	// Zero means the configured default.
	BatchSize int
}

// DecodeOptions tune a single Decode call.
type DecodeOptions struct {
	BatchSize int
}

// EncodeResult carries the token buffer and the metrics snapshot taken
// after the operation. On failure Status is StatusFailed and Tokens is nil.
type EncodeResult struct {
	Tokens  *TokenBuffer `json:"tokens"`
	Metrics Metrics      `json:"metrics"`
	Status  Status       `json:"status"`
}

// Codec is the tokenization contract shared by both variants.
type Codec interface {
	// ID identifies this codec instance for metrics lookup.
	ID() string

	// Encode tokenizes a clip. The clip must be non-empty.
	Encode(ctx context.Context, clip *video.Video, opts EncodeOptions) (*EncodeResult, error)

	// Decode reconstructs a clip from tokens.
	Decode(ctx context.Context, tokens *TokenBuffer, opts DecodeOptions) (*video.Video, error)

	// Metrics returns the running metrics snapshot.
	Metrics() Metrics

	// Close releases held device memory. The codec is unusable afterwards.
	Close() error
}

// failedEncode builds the zeroed failure result returned alongside a
// non-nil error.
func failedEncode(m Metrics) *EncodeResult {
	return &EncodeResult{Tokens: nil, Metrics: m, Status: StatusFailed}
}
