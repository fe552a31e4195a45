package quality

import (
	"context"
	"fmt"
	"sync"

	"github.com/framegate/curate/features"
	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/video"
)

// Metrics is a complete objective quality measurement. A metric set is
// always all four fields or none; no partial set is ever produced.
type Metrics struct {
	PSNR float64 `json:"psnr"`
	SSIM float64 `json:"ssim"`
	FID  float64 `json:"fid"`
	FVD  float64 `json:"fvd"`
}

// Thresholds gate acceptability. A set is acceptable iff PSNR and SSIM meet
// their floors and FID and FVD stay under their ceilings, simultaneously.
type Thresholds struct {
	MinPSNR float64 `json:"min_psnr" yaml:"min_psnr"`
	MinSSIM float64 `json:"min_ssim" yaml:"min_ssim"`
	MaxFID  float64 `json:"max_fid" yaml:"max_fid"`
	MaxFVD  float64 `json:"max_fvd" yaml:"max_fvd"`
}

// Validate rejects threshold combinations below the documented minimums.
func (t Thresholds) Validate() error {
	if t.MinPSNR < 0 {
		return &AssessmentError{Reason: fmt.Sprintf("min PSNR %.2f is negative", t.MinPSNR)}
	}
	if t.MinSSIM < 0 || t.MinSSIM > 1 {
		return &AssessmentError{Reason: fmt.Sprintf("min SSIM %.2f is outside [0, 1]", t.MinSSIM)}
	}
	if t.MaxFID <= 0 {
		return &AssessmentError{Reason: fmt.Sprintf("max FID %.2f must be positive", t.MaxFID)}
	}
	if t.MaxFVD <= 0 {
		return &AssessmentError{Reason: fmt.Sprintf("max FVD %.2f must be positive", t.MaxFVD)}
	}
	return nil
}

// AssessmentError is the typed failure for quality computation. Malformed
// frames and backend failures surface through it; no partial metric set
// accompanies it.
type AssessmentError struct {
	AssetID string
	Reason  string
	Err     error
}

func (e *AssessmentError) Error() string {
	msg := "quality: " + e.Reason
	if e.AssetID != "" {
		msg = fmt.Sprintf("quality: asset %s: %s", e.AssetID, e.Reason)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *AssessmentError) Unwrap() error {
	return e.Err
}

// fvdWindowFrames is the preferred temporal window for FVD embeddings.
// Short clips shrink the window so at least two samples remain.
const fvdWindowFrames = 4

// Assessor computes and caches quality metrics. Results are cached by
// (assetID, checksum); a hit is returned without recomputation. Reads may
// proceed concurrently; writes take the exclusive lock.
type Assessor struct {
	extractor  features.Extractor
	ledger     *memory.Ledger
	thresholds Thresholds
	logger     logging.Logger

	mu    sync.RWMutex
	cache map[string]Metrics
}

// NewAssessor validates the thresholds and builds an assessor.
func NewAssessor(extractor features.Extractor, ledger *memory.Ledger, thresholds Thresholds) (*Assessor, error) {
	if extractor == nil {
		return nil, &AssessmentError{Reason: "feature extractor is required"}
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{
		extractor:  extractor,
		ledger:     ledger,
		thresholds: thresholds,
		logger:     logging.WithFields(logging.Fields{"component": "quality_assessor"}),
		cache:      make(map[string]Metrics),
	}, nil
}

// Thresholds returns the configured gate.
func (a *Assessor) Thresholds() Thresholds {
	return a.thresholds
}

// IsAcceptable reports whether all four metrics simultaneously satisfy the
// thresholds.
func (a *Assessor) IsAcceptable(m Metrics) bool {
	return m.PSNR >= a.thresholds.MinPSNR &&
		m.SSIM >= a.thresholds.MinSSIM &&
		m.FID <= a.thresholds.MaxFID &&
		m.FVD <= a.thresholds.MaxFVD
}

// Assess computes the metric set for an asset's reference and processed
// clips, consulting the cache first.
func (a *Assessor) Assess(ctx context.Context, assetID, checksum string, reference, processed *video.Video) (Metrics, error) {
	key := assetID + "/" + checksum

	a.mu.RLock()
	cached, hit := a.cache[key]
	a.mu.RUnlock()
	if hit {
		return cached, nil
	}

	metrics, err := a.compute(ctx, assetID, reference, processed)
	if err != nil {
		return Metrics{}, err
	}

	a.mu.Lock()
	a.cache[key] = metrics
	a.mu.Unlock()

	a.logger.Debug("quality assessed", logging.Fields{
		"asset_id": assetID,
		"psnr":     metrics.PSNR,
		"ssim":     metrics.SSIM,
		"fid":      metrics.FID,
		"fvd":      metrics.FVD,
	})
	return metrics, nil
}

func (a *Assessor) compute(ctx context.Context, assetID string, reference, processed *video.Video) (Metrics, error) {
	psnr, err := PSNR(reference, processed)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	ssim, err := SSIM(reference, processed)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	if ssim < 0 {
		ssim = 0
	}

	// Feature extraction bears device memory; reserve for both clips.
	if a.ledger != nil {
		bytes := uint64(reference.Resolution.Pixels()) * uint64(len(reference.Frames)) * 8 * 2
		reservation, rerr := a.ledger.Reserve(bytes)
		if rerr != nil {
			return Metrics{}, &AssessmentError{AssetID: assetID, Reason: "embedding reservation denied", Err: rerr}
		}
		defer reservation.Release()
	}

	refFrames, err := a.embedPerFrame(ctx, reference)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	procFrames, err := a.embedPerFrame(ctx, processed)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	fid, err := FrechetDistance(refFrames, procFrames)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}

	refWindows, err := a.embedWindows(ctx, reference)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	procWindows, err := a.embedWindows(ctx, processed)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}
	fvd, err := FrechetDistance(refWindows, procWindows)
	if err != nil {
		return Metrics{}, annotate(err, assetID)
	}

	return Metrics{PSNR: psnr, SSIM: ssim, FID: fid, FVD: fvd}, nil
}

// embedPerFrame produces one embedding per frame for FID statistics.
func (a *Assessor) embedPerFrame(ctx context.Context, clip *video.Video) ([][]float64, error) {
	out := make([][]float64, len(clip.Frames))
	for i := range clip.Frames {
		vec, err := a.extractor.Extract(ctx, clip.Frames[i:i+1])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// embedWindows produces one embedding per temporal window for FVD
// statistics, shrinking the window on short clips so at least two samples
// remain.
func (a *Assessor) embedWindows(ctx context.Context, clip *video.Video) ([][]float64, error) {
	window := fvdWindowFrames
	if window > len(clip.Frames) {
		window = len(clip.Frames)
	}
	for window > 1 && len(clip.Frames)-window+1 < 2 {
		window--
	}

	count := len(clip.Frames) - window + 1
	out := make([][]float64, 0, count)
	for i := 0; i < count; i++ {
		vec, err := a.extractor.Extract(ctx, clip.Frames[i:i+window])
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func annotate(err error, assetID string) error {
	if ae, ok := err.(*AssessmentError); ok {
		if ae.AssetID == "" {
			ae.AssetID = assetID
		}
		return ae
	}
	return &AssessmentError{AssetID: assetID, Reason: "metric computation failed", Err: err}
}
