// Package features defines the pluggable numeric backend used for deep
// feature comparison (deduplication) and distributional quality metrics
// (FID/FVD). The pipeline depends only on the Extractor capability; the
// embedding model behind it is swappable.
package features

import (
	"context"
	"fmt"

	"github.com/framegate/curate/video"
)

// Extractor produces a fixed-dimension embedding for a set of frames.
// Implementations must be deterministic given identical input.
type Extractor interface {
	// Extract computes an embedding over the given frames.
	Extract(ctx context.Context, frames []video.Frame) ([]float64, error)

	// Dimension reports the length of vectors returned by Extract.
	Dimension() int
}

// ExtractionError wraps a failure inside a feature backend. The orchestrator
// treats it as a retryable infrastructure failure.
type ExtractionError struct {
	Backend string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("features: %s extraction failed: %v", e.Backend, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
