package curation

import (
	"context"
	"errors"
	"fmt"

	"github.com/framegate/curate/codec"
	"github.com/framegate/curate/dedup"
	"github.com/framegate/curate/features"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/quality"
)

// ErrorKind classifies a pipeline failure. Business kinds are terminal;
// infrastructure kinds are retried per policy.
type ErrorKind string

const (
	ErrKindConfiguration     ErrorKind = "configuration"
	ErrKindResourceExhausted ErrorKind = "resource_exhausted"
	ErrKindQualityGate       ErrorKind = "quality_gate"
	ErrKindDuplicate         ErrorKind = "duplicate_detected"
	ErrKindExtraction        ErrorKind = "extraction"
	ErrKindCodec             ErrorKind = "codec"
	ErrKindTimeout           ErrorKind = "timeout"
)

// Retryable reports whether failures of this kind are retried. Quality gate
// rejections and duplicate verdicts are business outcomes; retrying cannot
// change them. Configuration errors fail fast at construction.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindResourceExhausted, ErrKindExtraction, ErrKindCodec, ErrKindTimeout:
		return true
	default:
		return false
	}
}

// Stage names a pipeline stage for error reporting and audit events.
type Stage string

const (
	StageLoad     Stage = "load"
	StageEncode   Stage = "encode"
	StageQuality  Stage = "quality"
	StageDedup    Stage = "dedup"
	StageAnnotate Stage = "annotate"
)

// PipelineError is a classified stage failure. Stage-local errors are
// caught and wrapped here by the orchestrator; they never propagate raw to
// batch callers.
type PipelineError struct {
	Kind    ErrorKind
	Stage   Stage
	AssetID string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("curation: asset %s: stage %s: %s: %v", e.AssetID, e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ConfigurationError is the fail-fast construction error.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "curation: configuration: " + e.Reason
}

// classify maps a stage error onto the taxonomy. Wrapped causes are
// inspected through the whole chain, so a ledger denial inside a codec
// error still classifies as resource exhaustion.
func classify(stage Stage, err error) ErrorKind {
	var exhausted *memory.ErrExhausted
	if errors.As(err, &exhausted) {
		return ErrKindResourceExhausted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}

	var codecErr *codec.Error
	if errors.As(err, &codecErr) {
		return ErrKindCodec
	}
	var extractErr *features.ExtractionError
	if errors.As(err, &extractErr) {
		return ErrKindExtraction
	}
	var assessErr *quality.AssessmentError
	if errors.As(err, &assessErr) {
		return ErrKindExtraction
	}
	var dedupErr *dedup.Error
	if errors.As(err, &dedupErr) {
		return ErrKindExtraction
	}

	if stage == StageEncode {
		return ErrKindCodec
	}
	return ErrKindExtraction
}
