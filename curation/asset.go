// Package curation drives each video asset through encode, quality gate,
// deduplication, and optional annotation, with per-error-kind retry
// policies, bounded batch concurrency, and status tracking. The
// orchestrator is the sole mutator of asset status.
package curation

import (
	"time"

	"github.com/google/uuid"

	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/video"
)

// Status is the asset lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Asset is one video asset moving through the curation pipeline.
type Asset struct {
	ID         string           `json:"id"`
	Checksum   string           `json:"checksum"`
	Source     string           `json:"source"`
	Resolution video.Resolution `json:"resolution"`
	FrameCount int              `json:"frame_count"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`

	// Quality is set once assessment succeeds; nil otherwise.
	Quality *quality.Metrics `json:"quality,omitempty"`

	// Annotations holds optional annotator output for retained assets.
	Annotations map[string]string `json:"annotations,omitempty"`

	// ReconstructionURL points at the persisted reconstruction.
	ReconstructionURL string `json:"reconstruction_url,omitempty"`

	// FailureReason and FailureKind describe the terminal failure, if any.
	FailureReason string    `json:"failure_reason,omitempty"`
	FailureKind   ErrorKind `json:"failure_kind,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAsset creates a pending asset for a source object path.
func NewAsset(source string) *Asset {
	now := time.Now()
	return &Asset{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
