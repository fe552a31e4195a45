package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/framegate/curate/codec"
	"github.com/framegate/curate/dedup"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/storage"
	"github.com/framegate/curate/video"
)

var testRes = video.Resolution{Width: 64, Height: 64}

// pixelKeyExtractor maps a clip's leading luminance value to a fixed
// feature vector so similarity outcomes are chosen per test. Keys in
// failWholeClip fail extraction over full clips only; per-frame and
// windowed extraction for quality metrics keeps working.
type pixelKeyExtractor struct {
	vectors       map[float64][]float64
	failWholeClip map[float64]bool
}

func (p *pixelKeyExtractor) Extract(_ context.Context, frames []video.Frame) ([]float64, error) {
	if len(frames) > 2 && p.failWholeClip[frames[0].Pixels[0]] {
		return nil, errors.New("extraction fault")
	}
	if vec, ok := p.vectors[frames[0].Pixels[0]]; ok {
		return vec, nil
	}
	return []float64{1, 0, 0}, nil
}

func (p *pixelKeyExtractor) Dimension() int { return 3 }

// recordingQueue runs tasks synchronously and records requested delays, so
// retry scheduling is observable without real time passing.
type recordingQueue struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (q *recordingQueue) Enqueue(ctx context.Context, task Task, opts EnqueueOptions) error {
	q.mu.Lock()
	q.delays = append(q.delays, opts.Delay)
	q.mu.Unlock()
	task.Run(ctx)
	return nil
}

func (q *recordingQueue) Close() {}

func (q *recordingQueue) recorded() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]time.Duration, len(q.delays))
	copy(out, q.delays)
	return out
}

// failingCodec rejects every operation with a retryable codec error.
type failingCodec struct{}

func (failingCodec) ID() string { return "failing-codec" }

func (failingCodec) Encode(context.Context, *video.Video, codec.EncodeOptions) (*codec.EncodeResult, error) {
	return nil, &codec.Error{Op: "encode", Reason: "device fault"}
}

func (failingCodec) Decode(context.Context, *codec.TokenBuffer, codec.DecodeOptions) (*video.Video, error) {
	return nil, &codec.Error{Op: "decode", Reason: "device fault"}
}

func (failingCodec) Metrics() codec.Metrics { return codec.Metrics{} }
func (failingCodec) Close() error           { return nil }

type pipeline struct {
	orch      *Orchestrator
	store     *storage.MemStore
	extractor *pixelKeyExtractor
}

// newPipeline wires a working orchestrator around an in-memory store and a
// real discrete codec. Overrides swap individual collaborators.
func newPipeline(t *testing.T, thresholds quality.Thresholds, cdc codec.Codec, queue JobQueue) *pipeline {
	t.Helper()

	ledger := memory.NewLedger(1 << 30)
	if cdc == nil {
		cfg, err := codec.NewConfig(codec.VariantDiscrete, 64, testRes, 0, 1<<30)
		if err != nil {
			t.Fatalf("codec.NewConfig: %v", err)
		}
		real, err := codec.NewDiscreteCodec(cfg, ledger)
		if err != nil {
			t.Fatalf("codec.NewDiscreteCodec: %v", err)
		}
		t.Cleanup(func() { real.Close() })
		cdc = real
	}

	extractor := &pixelKeyExtractor{vectors: map[float64][]float64{
		0:   {1, 0, 0},
		128: {0, 0, 1},
		255: {0, 1, 0},
	}}
	assessor, err := quality.NewAssessor(extractor, nil, thresholds)
	if err != nil {
		t.Fatalf("quality.NewAssessor: %v", err)
	}
	deduper, err := dedup.NewDeduplicator(dedup.DefaultConfig(), extractor, nil)
	if err != nil {
		t.Fatalf("dedup.NewDeduplicator: %v", err)
	}

	if queue == nil {
		queue = &recordingQueue{}
	}
	store := storage.NewMemStore()
	orch, err := NewOrchestrator(DefaultConfig(), Dependencies{
		Codec:    cdc,
		Assessor: assessor,
		Dedup:    deduper,
		Store:    store,
		Queue:    queue,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &pipeline{orch: orch, store: store, extractor: extractor}
}

var lenientThresholds = quality.Thresholds{MinPSNR: 25, MinSSIM: 0.7, MaxFID: 50, MaxFVD: 100}

// storeClip persists a 3-frame uniform clip and returns an asset for it.
func (p *pipeline) storeClip(t *testing.T, path string, frame func(int) video.Frame) *Asset {
	t.Helper()
	frames := make([]video.Frame, 3)
	for i := range frames {
		frames[i] = frame(i)
	}
	clip := video.NewClip(frames, testRes, 24)
	data, err := clip.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := p.store.Store(context.Background(), data, path, storage.StoreOptions{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	asset := NewAsset(path)
	return asset
}

func uniform(value float64) func(int) video.Frame {
	return func(int) video.Frame { return video.UniformFrame(testRes, value) }
}

func TestProcessAssetCompletes(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)
	asset := p.storeClip(t, "clips/a.cvid", uniform(0))

	got, err := p.orch.ProcessAsset(context.Background(), asset)
	if err != nil {
		t.Fatalf("ProcessAsset: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s (%s: %s), want completed", got.Status, got.FailureKind, got.FailureReason)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if got.Quality == nil || got.Quality.PSNR < lenientThresholds.MinPSNR {
		t.Fatalf("quality = %+v, want populated passing metrics", got.Quality)
	}
	if got.Checksum == "" || got.FrameCount != 3 || got.Resolution != testRes {
		t.Fatalf("asset identity not filled from the clip: %+v", got)
	}
	if got.ReconstructionURL == "" {
		t.Fatal("reconstruction must be persisted and linked")
	}
	if _, err := p.store.Retrieve(context.Background(), "reconstructions/"+got.ID+".cvid"); err != nil {
		t.Fatalf("stored reconstruction missing: %v", err)
	}
}

func TestProcessAssetIsNoOpWhenTerminal(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)
	asset := NewAsset("clips/missing.cvid")
	asset.Status = StatusCompleted

	got, err := p.orch.ProcessAsset(context.Background(), asset)
	if err != nil {
		t.Fatalf("ProcessAsset: %v", err)
	}
	if got.Attempts != 0 || got.Status != StatusCompleted {
		t.Fatalf("terminal asset must not be reprocessed: %+v", got)
	}
}

func TestProcessAssetRetriesInfraFailuresThenFails(t *testing.T) {
	queue := &recordingQueue{}
	p := newPipeline(t, lenientThresholds, failingCodec{}, queue)
	asset := p.storeClip(t, "clips/a.cvid", uniform(0))

	got, err := p.orch.ProcessAsset(context.Background(), asset)
	if err != nil {
		t.Fatalf("exhausted retries must resolve on the asset, not as an error: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FailureKind != ErrKindCodec {
		t.Fatalf("failure kind = %s, want codec", got.FailureKind)
	}
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want the configured maximum of 3", got.Attempts)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	delays := queue.recorded()
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("scheduled retry delays = %v, want exponential %v", delays, want)
	}
}

func TestProcessAssetQualityGateIsTerminal(t *testing.T) {
	queue := &recordingQueue{}
	strict := quality.Thresholds{MinPSNR: 99.9, MinSSIM: 0, MaxFID: 1e9, MaxFVD: 1e9}
	p := newPipeline(t, strict, nil, queue)
	asset := p.storeClip(t, "clips/a.cvid", func(i int) video.Frame {
		return video.SineFrame(testRes, 2, float64(i))
	})

	got, err := p.orch.ProcessAsset(context.Background(), asset)
	if err != nil {
		t.Fatalf("ProcessAsset: %v", err)
	}
	if got.Status != StatusFailed || got.FailureKind != ErrKindQualityGate {
		t.Fatalf("status = %s kind = %s, want failed quality_gate", got.Status, got.FailureKind)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, business rejection must not be retried", got.Attempts)
	}
	if len(queue.recorded()) != 0 {
		t.Fatalf("retry delays scheduled for a business failure: %v", queue.recorded())
	}
	if got.Quality == nil {
		t.Fatal("the measured metrics must remain on the rejected asset")
	}
}

func TestProcessAssetDetectsDuplicateOfRetainedContent(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)

	first := p.storeClip(t, "clips/a.cvid", uniform(0))
	if _, err := p.orch.ProcessAsset(context.Background(), first); err != nil {
		t.Fatalf("ProcessAsset(first): %v", err)
	}
	if first.Status != StatusCompleted {
		t.Fatalf("first asset status = %s, want completed", first.Status)
	}

	second := p.storeClip(t, "clips/b.cvid", uniform(0))
	got, err := p.orch.ProcessAsset(context.Background(), second)
	if err != nil {
		t.Fatalf("ProcessAsset(second): %v", err)
	}
	if got.Status != StatusFailed || got.FailureKind != ErrKindDuplicate {
		t.Fatalf("status = %s kind = %s, want failed duplicate_detected", got.Status, got.FailureKind)
	}
}

func TestProcessBatchFirstSeenWinsAndReturnsCompleted(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)

	assets := []*Asset{
		p.storeClip(t, "clips/a.cvid", uniform(0)),
		p.storeClip(t, "clips/b.cvid", uniform(0)),
		p.storeClip(t, "clips/c.cvid", uniform(255)),
	}

	completed := p.orch.ProcessBatch(context.Background(), assets, BatchOptions{MaxConcurrent: 2})
	if len(completed) != 2 {
		t.Fatalf("completed = %d assets, want 2", len(completed))
	}
	if completed[0].ID != assets[0].ID || completed[1].ID != assets[2].ID {
		t.Fatal("retained assets must come back in submission order with the first duplicate winning")
	}
	if assets[1].Status != StatusFailed || assets[1].FailureKind != ErrKindDuplicate {
		t.Fatalf("duplicate asset status = %s kind = %s, want failed duplicate_detected",
			assets[1].Status, assets[1].FailureKind)
	}
	for _, a := range completed {
		if a.Status != StatusCompleted || a.Quality == nil {
			t.Fatalf("completed asset not fully resolved: %+v", a)
		}
	}
}

func TestProcessBatchRecordsFailuresWithoutPropagating(t *testing.T) {
	p := newPipeline(t, lenientThresholds, failingCodec{}, nil)

	assets := []*Asset{
		p.storeClip(t, "clips/a.cvid", uniform(0)),
		p.storeClip(t, "clips/b.cvid", uniform(255)),
	}
	completed := p.orch.ProcessBatch(context.Background(), assets, BatchOptions{})
	if len(completed) != 0 {
		t.Fatalf("completed = %d assets, want none", len(completed))
	}
	for _, a := range assets {
		if a.Status != StatusFailed || a.FailureKind != ErrKindCodec {
			t.Fatalf("asset %s status = %s kind = %s, want failed codec", a.ID, a.Status, a.FailureKind)
		}
	}
}

func TestProcessBatchIsolatesDedupFaults(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)
	p.extractor.failWholeClip = map[float64]bool{128: true}

	assets := []*Asset{
		p.storeClip(t, "clips/a.cvid", uniform(0)),
		p.storeClip(t, "clips/b.cvid", uniform(128)),
		p.storeClip(t, "clips/c.cvid", uniform(255)),
	}

	completed := p.orch.ProcessBatch(context.Background(), assets, BatchOptions{})
	if len(completed) != 2 {
		t.Fatalf("completed = %d assets, want the two unaffected ones", len(completed))
	}
	if completed[0].ID != assets[0].ID || completed[1].ID != assets[2].ID {
		t.Fatal("unaffected assets must complete in submission order")
	}
	if assets[1].Status != StatusFailed || assets[1].FailureKind != ErrKindExtraction {
		t.Fatalf("faulted asset status = %s kind = %s, want failed extraction",
			assets[1].Status, assets[1].FailureKind)
	}

	// The faulted asset left nothing in the dedup cache, so reprocessing it
	// once extraction recovers completes instead of hitting a stale verdict.
	p.extractor.failWholeClip = nil
	retried := p.storeClip(t, "clips/b-redelivered.cvid", uniform(128))
	got, err := p.orch.ProcessAsset(context.Background(), retried)
	if err != nil {
		t.Fatalf("ProcessAsset after recovery: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s (%s: %s), want completed", got.Status, got.FailureKind, got.FailureReason)
	}
}

func TestProcessAssetCancellation(t *testing.T) {
	p := newPipeline(t, lenientThresholds, nil, nil)
	asset := p.storeClip(t, "clips/a.cvid", uniform(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := p.orch.ProcessAsset(ctx, asset)
	if err == nil {
		t.Fatal("cancellation must surface as an error to the caller")
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestSubmitProcessesThroughQueue(t *testing.T) {
	queue := NewMemoryQueue()
	p := newPipeline(t, lenientThresholds, nil, queue)
	asset := p.storeClip(t, "clips/a.cvid", uniform(0))

	if err := p.orch.Submit(context.Background(), asset); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queue.Close()

	if asset.Status != StatusCompleted {
		t.Fatalf("status after queue drain = %s (%s), want completed", asset.Status, asset.FailureReason)
	}
	if err := p.orch.Submit(context.Background(), asset); err == nil {
		t.Fatal("a closed queue must reject new submissions")
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	var cerr *ConfigurationError

	if _, err := NewOrchestrator(DefaultConfig(), Dependencies{}); !errors.As(err, &cerr) {
		t.Fatalf("missing dependencies: error = %v, want *ConfigurationError", err)
	}

	bad := DefaultConfig()
	bad.MaxConcurrent = 0
	if _, err := NewOrchestrator(bad, Dependencies{}); !errors.As(err, &cerr) {
		t.Fatalf("invalid config: error = %v, want *ConfigurationError", err)
	}

	bad = DefaultConfig()
	bad.RetryPolicies[ErrKindQualityGate] = RetryPolicy{MaxAttempts: 3, Backoff: BackoffNone}
	if _, err := NewOrchestrator(bad, Dependencies{}); !errors.As(err, &cerr) {
		t.Fatalf("policy for business kind: error = %v, want *ConfigurationError", err)
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	exp := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, Backoff: BackoffExponential}
	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
	} {
		if got := exp.NextDelay(attempt); got != want {
			t.Fatalf("exponential NextDelay(%d) = %s, want %s", attempt, got, want)
		}
	}

	lin := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Backoff: BackoffLinear}
	if got := lin.NextDelay(3); got != 300*time.Millisecond {
		t.Fatalf("linear NextDelay(3) = %s, want 300ms", got)
	}

	none := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, Backoff: BackoffNone}
	if got := none.NextDelay(5); got != time.Second {
		t.Fatalf("constant NextDelay(5) = %s, want base delay", got)
	}
}

func TestRetryPoliciesFallback(t *testing.T) {
	policies := DefaultRetryPolicies()
	p := policies.For(ErrKindQualityGate)
	if p.MaxAttempts != 1 {
		t.Fatalf("unconfigured kind fallback attempts = %d, want 1", p.MaxAttempts)
	}
}

func TestClassifyInspectsWrappedCauses(t *testing.T) {
	cases := []struct {
		name  string
		stage Stage
		err   error
		want  ErrorKind
	}{
		{
			"ledger denial inside codec error",
			StageEncode,
			&codec.Error{Op: "encode", Reason: "reservation", Err: &memory.ErrExhausted{Requested: 1, Available: 0}},
			ErrKindResourceExhausted,
		},
		{
			"deadline exceeded",
			StageQuality,
			fmt.Errorf("assess: %w", context.DeadlineExceeded),
			ErrKindTimeout,
		},
		{
			"plain codec error",
			StageEncode,
			&codec.Error{Op: "encode", Reason: "fault"},
			ErrKindCodec,
		},
		{
			"dedup fault",
			StageDedup,
			&dedup.Error{Reason: "extraction failed"},
			ErrKindExtraction,
		},
		{
			"unknown error at encode",
			StageEncode,
			errors.New("mystery"),
			ErrKindCodec,
		},
		{
			"unknown error elsewhere",
			StageLoad,
			errors.New("mystery"),
			ErrKindExtraction,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.stage, tc.err); got != tc.want {
				t.Fatalf("classify(%s, %v) = %s, want %s", tc.stage, tc.err, got, tc.want)
			}
		})
	}
}
