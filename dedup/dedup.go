package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/framegate/curate/features"
	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/video"
)

// Error is the typed failure for deduplication. Transient extraction
// failures are retried before one of these surfaces; the orchestrator
// classifies it as a retryable infrastructure failure.
type Error struct {
	AssetID string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := "dedup: " + e.Reason
	if e.AssetID != "" {
		msg = fmt.Sprintf("dedup: asset %s: %s", e.AssetID, e.Reason)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds deduplicator settings.
type Config struct {
	// SimilarityThreshold declares a duplicate when deep feature cosine
	// similarity exceeds it. Must lie in (0, 1].
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`

	// MaxCacheSize bounds the fingerprint index.
	MaxCacheSize int `json:"max_cache_size" yaml:"max_cache_size"`

	// MaxExtractAttempts bounds retries of transient extraction failures.
	MaxExtractAttempts int `json:"max_extract_attempts" yaml:"max_extract_attempts"`

	// ExtractRetryDelay is the linear backoff base between attempts.
	ExtractRetryDelay time.Duration `json:"extract_retry_delay" yaml:"extract_retry_delay"`

	Fingerprint FingerprintParams `json:"fingerprint" yaml:"fingerprint"`
}

// DefaultConfig returns the standard deduplicator configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.95,
		MaxCacheSize:        4096,
		MaxExtractAttempts:  3,
		ExtractRetryDelay:   250 * time.Millisecond,
		Fingerprint:         DefaultFingerprintParams(),
	}
}

// Item pairs an asset identity with its decoded clip for batch dedup.
type Item struct {
	AssetID  string
	Checksum string
	Clip     *video.Video
}

// Deduplicator decides whether clips are near-duplicates of previously seen
// content. IsDuplicate never mutates the index, so repeated calls on the
// same never-cached clip return the same verdict; retention is the explicit
// Record step (or batch retention inside DeduplicateBatch).
type Deduplicator struct {
	cfg       Config
	extractor features.Extractor
	ledger    *memory.Ledger
	index     *Index
	logger    logging.Logger

	// sleep is swapped out in tests so backoff passes without real time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeduplicator validates the configuration and builds a deduplicator.
func NewDeduplicator(cfg Config, extractor features.Extractor, ledger *memory.Ledger) (*Deduplicator, error) {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return nil, &Error{Reason: fmt.Sprintf("similarity threshold %.3f is outside (0, 1]", cfg.SimilarityThreshold)}
	}
	if cfg.MaxExtractAttempts <= 0 {
		return nil, &Error{Reason: fmt.Sprintf("max extract attempts %d must be positive", cfg.MaxExtractAttempts)}
	}
	if extractor == nil {
		return nil, &Error{Reason: "feature extractor is required"}
	}
	index, err := NewIndex(cfg.MaxCacheSize)
	if err != nil {
		return nil, err
	}
	return &Deduplicator{
		cfg:       cfg,
		extractor: extractor,
		ledger:    ledger,
		index:     index,
		logger:    logging.WithFields(logging.Fields{"component": "deduplicator"}),
		sleep:     sleepContext,
	}, nil
}

// Index exposes the fingerprint index, primarily for inspection in tests
// and metrics.
func (d *Deduplicator) Index() *Index {
	return d.index
}

// IsDuplicate reports whether the clip matches previously recorded content.
// An exact fingerprint hit answers immediately; otherwise the deep feature
// vector is compared against every cached vector by cosine similarity.
func (d *Deduplicator) IsDuplicate(ctx context.Context, assetID string, clip *video.Video) (bool, error) {
	fp, err := Fingerprint(clip, d.cfg.Fingerprint)
	if err != nil {
		return false, wrapAsset(err, assetID)
	}
	if _, hit := d.index.Get(fp); hit {
		return true, nil
	}

	vec, err := d.extractWithRetry(ctx, assetID, clip)
	if err != nil {
		return false, err
	}
	return d.similarToCached(vec), nil
}

// Record registers a clip as retained unique content. Only retained assets
// update the index.
func (d *Deduplicator) Record(ctx context.Context, item Item) error {
	fp, err := Fingerprint(item.Clip, d.cfg.Fingerprint)
	if err != nil {
		return wrapAsset(err, item.AssetID)
	}
	vec, err := d.extractWithRetry(ctx, item.AssetID, item.Clip)
	if err != nil {
		return err
	}
	d.index.Put(fp, Entry{Checksum: item.Checksum, Features: vec})
	return nil
}

// DeduplicateBatch returns the unique subset of a batch in submission
// order, plus per-asset errors for items whose preparation failed.
// Fingerprints and features are computed for the whole batch up front so
// independent items run concurrently; comparisons then proceed in
// submission order against the cache and against earlier retained items in
// the same batch. First seen wins. Only retained items update the index: a
// failed item never blocks the rest of the batch and leaves no trace in
// the cache, so resubmitting it later gets a fresh verdict.
func (d *Deduplicator) DeduplicateBatch(ctx context.Context, items []Item) ([]Item, map[string]error) {
	type prepared struct {
		fingerprint string
		features    []float64
		err         error
	}
	preps := make([]prepared, len(items))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := Fingerprint(items[i].Clip, d.cfg.Fingerprint)
			if err != nil {
				preps[i].err = wrapAsset(err, items[i].AssetID)
				return
			}
			vec, err := d.extractWithRetry(ctx, items[i].AssetID, items[i].Clip)
			if err != nil {
				preps[i].err = err
				return
			}
			preps[i] = prepared{fingerprint: fp, features: vec}
		}(i)
	}
	wg.Wait()

	var failed map[string]error
	unique := make([]Item, 0, len(items))
	retained := make([]prepared, 0, len(items))
	for i, p := range preps {
		if p.err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[items[i].AssetID] = p.err
			continue
		}

		duplicate := false
		if _, hit := d.index.Get(p.fingerprint); hit {
			duplicate = true
		}
		if !duplicate && d.similarToCached(p.features) {
			duplicate = true
		}
		// linear scan over earlier retained batch items, submission order
		for _, earlier := range retained {
			if duplicate {
				break
			}
			if earlier.fingerprint == p.fingerprint ||
				cosineSimilarity(earlier.features, p.features) > d.cfg.SimilarityThreshold {
				duplicate = true
			}
		}

		if duplicate {
			d.logger.Debug("batch item dropped as duplicate", logging.Fields{
				"asset_id": items[i].AssetID,
			})
			continue
		}
		d.index.Put(p.fingerprint, Entry{Checksum: items[i].Checksum, Features: p.features})
		unique = append(unique, items[i])
		retained = append(retained, p)
	}
	return unique, failed
}

// similarToCached compares a vector against every cached feature vector.
func (d *Deduplicator) similarToCached(vec []float64) bool {
	for _, cached := range d.index.Features() {
		if cosineSimilarity(cached, vec) > d.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}

// extractWithRetry runs feature extraction under a device reservation,
// retrying transient failures with linear backoff.
func (d *Deduplicator) extractWithRetry(ctx context.Context, assetID string, clip *video.Video) ([]float64, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxExtractAttempts; attempt++ {
		vec, err := d.extractOnce(ctx, clip)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < d.cfg.MaxExtractAttempts {
			if serr := d.sleep(ctx, d.cfg.ExtractRetryDelay*time.Duration(attempt)); serr != nil {
				break
			}
		}
	}
	return nil, &Error{AssetID: assetID, Reason: "feature extraction failed after retries", Err: lastErr}
}

func (d *Deduplicator) extractOnce(ctx context.Context, clip *video.Video) ([]float64, error) {
	if d.ledger != nil {
		bytes := uint64(clip.Resolution.Pixels()) * uint64(len(clip.Frames)) * 8
		reservation, err := d.ledger.Reserve(bytes)
		if err != nil {
			return nil, err
		}
		defer reservation.Release()
	}
	return d.extractor.Extract(ctx, clip.Frames)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

func wrapAsset(err error, assetID string) error {
	if de, ok := err.(*Error); ok {
		if de.AssetID == "" {
			de.AssetID = assetID
		}
		return de
	}
	return &Error{AssetID: assetID, Reason: "fingerprinting failed", Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
