package curation

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingJob represents one orchestration attempt of one asset: the
// stage reached, the classified error if any, and the retry scheduling
// applied. Jobs exist from queue entry to terminal resolution.
type ProcessingJob struct {
	ID        string        `json:"id"`
	AssetID   string        `json:"asset_id"`
	Stage     Stage         `json:"stage"`
	Attempt   int           `json:"attempt"`
	ErrKind   ErrorKind     `json:"err_kind,omitempty"`
	Policy    RetryPolicy   `json:"policy"`
	NextDelay time.Duration `json:"next_delay"`
	CreatedAt time.Time     `json:"created_at"`
}

func newJob(assetID string) *ProcessingJob {
	return &ProcessingJob{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		Attempt:   1,
		CreatedAt: time.Now(),
	}
}
