package curation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/framegate/curate/codec"
	"github.com/framegate/curate/dedup"
	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/storage"
	"github.com/framegate/curate/video"
)

// Annotator is the optional final stage for retained assets.
type Annotator interface {
	Annotate(ctx context.Context, asset *Asset, clip *video.Video) (map[string]string, error)
}

// Config holds orchestrator settings. Validated at construction; invalid
// combinations fail fast rather than lazily.
type Config struct {
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	StageTimeout  time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	RetryPolicies RetryPolicies `json:"retry_policies" yaml:"retry_policies"`
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     codec.DefaultBatchSize,
		MaxConcurrent: 4,
		StageTimeout:  600 * time.Second,
		RetryPolicies: DefaultRetryPolicies(),
	}
}

// Validate rejects invalid configurations.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("batch size %d must be positive", c.BatchSize)}
	}
	if c.MaxConcurrent <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("max concurrent %d must be positive", c.MaxConcurrent)}
	}
	if c.StageTimeout <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("stage timeout %s must be positive", c.StageTimeout)}
	}
	return c.RetryPolicies.Validate()
}

// Dependencies is the orchestrator's collaborator set. Codec, Assessor,
// Dedup, Store, and Queue are required; the rest default to no-ops.
type Dependencies struct {
	Codec     codec.Codec
	Assessor  *quality.Assessor
	Dedup     *dedup.Deduplicator
	Store     storage.ObjectStore
	Queue     JobQueue
	Metrics   MetricsSink
	Audit     AuditLog
	Annotator Annotator
	Logger    logging.Logger
}

// Orchestrator drives assets through encode, quality gate, dedup, and
// optional annotation. It is the sole mutator of asset status.
type Orchestrator struct {
	cfg  Config
	deps Dependencies

	mu     sync.RWMutex
	codecs map[string]codec.Codec
}

// NewOrchestrator validates everything up front; a nil required dependency
// or bad config is a ConfigurationError.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Codec == nil || deps.Assessor == nil || deps.Dedup == nil || deps.Store == nil || deps.Queue == nil {
		return nil, &ConfigurationError{Reason: "codec, assessor, dedup, store, and queue are required"}
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Audit == nil {
		deps.Audit = NoopAudit{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.WithFields(logging.Fields{"component": "orchestrator"})
	}

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		codecs: make(map[string]codec.Codec),
	}
	o.codecs[deps.Codec.ID()] = deps.Codec
	return o, nil
}

// Metrics returns the running snapshot of a registered codec.
func (o *Orchestrator) Metrics(codecID string) (codec.Metrics, bool) {
	o.mu.RLock()
	c, ok := o.codecs[codecID]
	o.mu.RUnlock()
	if !ok {
		return codec.Metrics{}, false
	}
	return c.Metrics(), true
}

// RegisterCodec adds a codec to the metrics registry.
func (o *Orchestrator) RegisterCodec(c codec.Codec) {
	o.mu.Lock()
	o.codecs[c.ID()] = c
	o.mu.Unlock()
}

// stageResult carries the artifacts surviving encode and quality gating.
type stageResult struct {
	clip           *video.Video
	reconstruction *video.Video
	metrics        quality.Metrics
}

// ProcessAsset drives one asset to a terminal status synchronously.
// Business failures (quality gate, duplicate) and exhausted infrastructure
// retries resolve to a Failed asset with a reason and error kind; the only
// error returned is caller cancellation.
func (o *Orchestrator) ProcessAsset(ctx context.Context, asset *Asset) (*Asset, error) {
	if asset.Status.Terminal() {
		return asset, nil
	}

	result, perr := o.runWithRetries(ctx, asset)
	if perr != nil {
		return asset, o.resolveFailure(ctx, asset, perr)
	}

	// dedup stage: verdict first, then explicit retention
	dup, err := o.deps.Dedup.IsDuplicate(ctx, asset.ID, result.clip)
	if err != nil {
		return asset, o.resolveFailure(ctx, asset, &PipelineError{
			Kind: classify(StageDedup, err), Stage: StageDedup, AssetID: asset.ID, Err: err,
		})
	}
	if dup {
		o.fail(ctx, asset, ErrKindDuplicate, "near-duplicate of previously retained content")
		return asset, nil
	}
	if err := o.deps.Dedup.Record(ctx, dedup.Item{AssetID: asset.ID, Checksum: asset.Checksum, Clip: result.clip}); err != nil {
		return asset, o.resolveFailure(ctx, asset, &PipelineError{
			Kind: classify(StageDedup, err), Stage: StageDedup, AssetID: asset.ID, Err: err,
		})
	}

	o.annotate(ctx, asset, result.clip)
	o.complete(ctx, asset, result)
	return asset, nil
}

// BatchOptions tune a single ProcessBatch call.
type BatchOptions struct {
	// MaxConcurrent overrides the configured concurrency ceiling when
	// positive.
	MaxConcurrent int
}

// ProcessBatch fans assets out across the bounded worker pool and returns
// only those that reached Completed. Encode and quality gating run
// concurrently per asset; the dedup pass then runs in submission order so
// the first-seen item of any duplicate group wins. Failures are recorded on
// the assets and excluded, never propagated.
func (o *Orchestrator) ProcessBatch(ctx context.Context, assets []*Asset, opts BatchOptions) []*Asset {
	limit := o.cfg.MaxConcurrent
	if opts.MaxConcurrent > 0 {
		limit = opts.MaxConcurrent
	}
	sem := make(chan struct{}, limit)

	results := make([]*stageResult, len(assets))
	var wg sync.WaitGroup
	for i := range assets {
		if assets[i].Status.Terminal() {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, perr := o.runWithRetries(ctx, assets[i])
			if perr != nil {
				_ = o.resolveFailure(ctx, assets[i], perr)
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	// Sequential dedup pass in submission order.
	items := make([]dedup.Item, 0, len(assets))
	owners := make([]int, 0, len(assets))
	for i := range assets {
		if results[i] != nil {
			items = append(items, dedup.Item{
				AssetID:  assets[i].ID,
				Checksum: assets[i].Checksum,
				Clip:     results[i].clip,
			})
			owners = append(owners, i)
		}
	}

	unique, faults := o.deps.Dedup.DeduplicateBatch(ctx, items)

	retained := make(map[string]bool, len(unique))
	for _, item := range unique {
		retained[item.AssetID] = true
	}

	completed := make([]*Asset, 0, len(unique))
	for _, i := range owners {
		// a dedup fault fails only its own asset
		if err, ok := faults[assets[i].ID]; ok {
			_ = o.resolveFailure(ctx, assets[i], &PipelineError{
				Kind: classify(StageDedup, err), Stage: StageDedup, AssetID: assets[i].ID, Err: err,
			})
			continue
		}
		if !retained[assets[i].ID] {
			o.fail(ctx, assets[i], ErrKindDuplicate, "near-duplicate within batch or of retained content")
			continue
		}
		o.annotate(ctx, assets[i], results[i].clip)
		o.complete(ctx, assets[i], results[i])
		completed = append(completed, assets[i])
	}
	return completed
}

// Submit enqueues asynchronous processing of one asset through the job
// queue. At-least-once delivery is assumed; ProcessAsset is a no-op for
// assets already terminal, which makes redelivery safe.
func (o *Orchestrator) Submit(ctx context.Context, asset *Asset) error {
	job := newJob(asset.ID)
	return o.deps.Queue.Enqueue(ctx, Task{
		Job: job,
		Run: func(ctx context.Context) {
			_, _ = o.ProcessAsset(ctx, asset)
		},
	}, EnqueueOptions{})
}

// runWithRetries executes load, encode, and quality gating under the
// per-error-kind retry policies. Business failures and retry exhaustion
// come back as a PipelineError; the asset is not yet mutated to a terminal
// status except for the attempt counter.
func (o *Orchestrator) runWithRetries(ctx context.Context, asset *Asset) (*stageResult, *PipelineError) {
	o.transition(asset, StatusProcessing)

	for {
		asset.Attempts++
		result, perr := o.runStages(ctx, asset)
		if perr == nil {
			return result, nil
		}
		if !perr.Kind.Retryable() {
			return nil, perr
		}

		policy := o.cfg.RetryPolicies.For(perr.Kind)
		if asset.Attempts >= policy.MaxAttempts {
			return nil, perr
		}

		delay := policy.NextDelay(asset.Attempts)
		o.deps.Logger.Warn("stage failed, scheduling retry", logging.Fields{
			"asset_id": asset.ID,
			"stage":    perr.Stage,
			"kind":     perr.Kind,
			"attempt":  asset.Attempts,
			"delay":    delay.String(),
		})
		observe(o.deps.Logger, o.deps.Metrics, "pipeline_retry", 1, map[string]string{
			"kind": string(perr.Kind),
		})

		if err := o.waitRetry(ctx, asset, perr, delay); err != nil {
			return nil, &PipelineError{Kind: ErrKindTimeout, Stage: perr.Stage, AssetID: asset.ID, Err: err}
		}
	}
}

// waitRetry schedules the backoff delay through the job queue rather than
// an embedded timer, so tests can drive retries without real time passing.
func (o *Orchestrator) waitRetry(ctx context.Context, asset *Asset, perr *PipelineError, delay time.Duration) error {
	job := newJob(asset.ID)
	job.Stage = perr.Stage
	job.Attempt = asset.Attempts
	job.ErrKind = perr.Kind
	job.Policy = o.cfg.RetryPolicies.For(perr.Kind)
	job.NextDelay = delay

	done := make(chan struct{})
	err := o.deps.Queue.Enqueue(ctx, Task{
		Job: job,
		Run: func(ctx context.Context) { close(done) },
	}, EnqueueOptions{Delay: delay})
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// runStages executes one attempt of load, encode/validate, and quality
// gating, each under the stage timeout.
func (o *Orchestrator) runStages(ctx context.Context, asset *Asset) (*stageResult, *PipelineError) {
	clip, perr := o.loadStage(ctx, asset)
	if perr != nil {
		return nil, perr
	}
	if err := ctx.Err(); err != nil {
		return nil, &PipelineError{Kind: ErrKindTimeout, Stage: StageLoad, AssetID: asset.ID, Err: err}
	}

	result, perr := o.encodeStage(ctx, asset, clip)
	if perr != nil {
		return nil, perr
	}
	if err := ctx.Err(); err != nil {
		return nil, &PipelineError{Kind: ErrKindTimeout, Stage: StageEncode, AssetID: asset.ID, Err: err}
	}

	if perr := o.qualityStage(ctx, asset, result); perr != nil {
		return nil, perr
	}
	return result, nil
}

func (o *Orchestrator) loadStage(ctx context.Context, asset *Asset) (*video.Video, *PipelineError) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	data, err := o.deps.Store.Retrieve(stageCtx, asset.Source)
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageLoad, err), Stage: StageLoad, AssetID: asset.ID, Err: err}
	}
	clip, err := video.Unmarshal(data)
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageLoad, err), Stage: StageLoad, AssetID: asset.ID, Err: err}
	}

	asset.Resolution = clip.Resolution
	asset.FrameCount = clip.FrameCount()
	if asset.Checksum == "" {
		asset.Checksum = clip.Checksum()
	}
	return clip, nil
}

func (o *Orchestrator) encodeStage(ctx context.Context, asset *Asset, clip *video.Video) (*stageResult, *PipelineError) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	encoded, err := o.deps.Codec.Encode(stageCtx, clip, codec.EncodeOptions{BatchSize: o.cfg.BatchSize})
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageEncode, err), Stage: StageEncode, AssetID: asset.ID, Err: err}
	}
	reconstruction, err := o.deps.Codec.Decode(stageCtx, encoded.Tokens, codec.DecodeOptions{BatchSize: o.cfg.BatchSize})
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageEncode, err), Stage: StageEncode, AssetID: asset.ID, Err: err}
	}

	data, err := reconstruction.Marshal()
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageEncode, err), Stage: StageEncode, AssetID: asset.ID, Err: err}
	}
	url, err := o.deps.Store.Store(stageCtx, data, "reconstructions/"+asset.ID+".cvid", storage.StoreOptions{})
	if err != nil {
		return nil, &PipelineError{Kind: classify(StageEncode, err), Stage: StageEncode, AssetID: asset.ID, Err: err}
	}
	asset.ReconstructionURL = url

	observe(o.deps.Logger, o.deps.Metrics, "codec_psnr", encoded.Metrics.PSNR, map[string]string{
		"codec_id": o.deps.Codec.ID(),
	})
	return &stageResult{clip: clip, reconstruction: reconstruction}, nil
}

func (o *Orchestrator) qualityStage(ctx context.Context, asset *Asset, result *stageResult) *PipelineError {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	metrics, err := o.deps.Assessor.Assess(stageCtx, asset.ID, asset.Checksum, result.clip, result.reconstruction)
	if err != nil {
		return &PipelineError{Kind: classify(StageQuality, err), Stage: StageQuality, AssetID: asset.ID, Err: err}
	}
	result.metrics = metrics
	asset.Quality = &metrics

	if !o.deps.Assessor.IsAcceptable(metrics) {
		return &PipelineError{
			Kind: ErrKindQualityGate, Stage: StageQuality, AssetID: asset.ID,
			Err: fmt.Errorf("metrics %+v failed thresholds %+v", metrics, o.deps.Assessor.Thresholds()),
		}
	}
	return nil
}

func (o *Orchestrator) annotate(ctx context.Context, asset *Asset, clip *video.Video) {
	if o.deps.Annotator == nil {
		return
	}
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	annotations, err := o.deps.Annotator.Annotate(stageCtx, asset, clip)
	if err != nil {
		// annotation is optional enrichment; a failure never rejects the asset
		o.deps.Logger.Warn("annotation failed", logging.Fields{"asset_id": asset.ID, "error": err.Error()})
		return
	}
	asset.Annotations = annotations
}

// resolveFailure converts a PipelineError into the asset's terminal state.
// Caller cancellation resolves to Cancelled and returns the context error;
// everything else resolves to Failed and returns nil.
func (o *Orchestrator) resolveFailure(ctx context.Context, asset *Asset, perr *PipelineError) error {
	if ctx.Err() != nil {
		o.transition(asset, StatusCancelled)
		audit(ctx, o.deps.Logger, o.deps.Audit, "asset_cancelled", map[string]any{"asset_id": asset.ID})
		return ctx.Err()
	}
	o.fail(ctx, asset, perr.Kind, perr.Err.Error())
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, asset *Asset, kind ErrorKind, reason string) {
	asset.FailureKind = kind
	asset.FailureReason = reason
	o.transition(asset, StatusFailed)

	o.deps.Logger.Warn("asset failed", logging.Fields{
		"asset_id": asset.ID,
		"kind":     kind,
		"reason":   reason,
		"attempts": asset.Attempts,
	})
	observe(o.deps.Logger, o.deps.Metrics, "pipeline_asset_failed", 1, map[string]string{"kind": string(kind)})
	audit(ctx, o.deps.Logger, o.deps.Audit, "asset_failed", map[string]any{
		"asset_id": asset.ID,
		"kind":     string(kind),
		"reason":   reason,
	})
}

func (o *Orchestrator) complete(ctx context.Context, asset *Asset, result *stageResult) {
	o.transition(asset, StatusCompleted)

	o.deps.Logger.Info("asset completed", logging.Fields{
		"asset_id": asset.ID,
		"psnr":     result.metrics.PSNR,
		"ssim":     result.metrics.SSIM,
	})
	observe(o.deps.Logger, o.deps.Metrics, "pipeline_asset_completed", 1, nil)
	audit(ctx, o.deps.Logger, o.deps.Audit, "asset_completed", map[string]any{
		"asset_id": asset.ID,
		"checksum": asset.Checksum,
	})
}

func (o *Orchestrator) transition(asset *Asset, next Status) {
	asset.Status = next
	asset.UpdatedAt = time.Now()
}
