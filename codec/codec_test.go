package codec

import (
	"context"
	"testing"

	"github.com/framegate/curate/features"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/video"
)

const testBudget = 1 << 30

// rowGradientClip builds frames whose luminance varies by row only, so
// longer patches straddle more distinct values.
func rowGradientClip(res video.Resolution, frames int) *video.Video {
	out := make([]video.Frame, frames)
	for f := range out {
		pixels := make([]float64, res.Pixels())
		for y := 0; y < res.Height; y++ {
			v := float64(y) * 255.0 / float64(res.Height-1)
			for x := 0; x < res.Width; x++ {
				pixels[y*res.Width+x] = v
			}
		}
		out[f] = video.Frame{Pixels: pixels, Resolution: res}
	}
	return video.NewClip(out, res, 24)
}

func TestConfigRejectsBadCombinations(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}

	cases := []struct {
		name    string
		variant Variant
		ratio   int
		budget  uint64
	}{
		{"ratio outside discrete set", VariantDiscrete, 100, testBudget},
		{"ratio outside continuous set", VariantContinuous, 512, testBudget},
		{"unknown variant", Variant("neural"), 64, testBudget},
		{"budget too small", VariantDiscrete, 512, 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConfig(tc.variant, tc.ratio, res, 0, tc.budget); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestConfigDerivesCodebookSize(t *testing.T) {
	cfg, err := NewConfig(VariantDiscrete, 512, video.Resolution{Width: 64, Height: 64}, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if got := cfg.CodebookSize(); got != 512 {
		t.Fatalf("codebook size = %d, want 512", got)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Fatalf("batch size = %d, want default %d", cfg.BatchSize, DefaultBatchSize)
	}
}

func TestDiscreteConstructionFailsWhenLedgerDenies(t *testing.T) {
	cfg, err := NewConfig(VariantDiscrete, 512, video.Resolution{Width: 64, Height: 64}, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	tiny := memory.NewLedger(cfg.CodebookBytes() - 1)
	if _, err := NewDiscreteCodec(cfg, tiny); err == nil {
		t.Fatal("construction must fail fast when the codebook reservation is denied")
	}
	if got := tiny.Used(); got != 0 {
		t.Fatalf("ledger used after failed construction = %d, want 0", got)
	}
}

func TestDiscreteRoundTripUniformFramesIsExact(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	cfg, err := NewConfig(VariantDiscrete, 512, res, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	ledger := memory.NewLedger(testBudget)
	cdc, err := NewDiscreteCodec(cfg, ledger)
	if err != nil {
		t.Fatalf("NewDiscreteCodec: %v", err)
	}
	defer cdc.Close()

	clip := video.NewClip([]video.Frame{
		video.UniformFrame(res, 0),
		video.UniformFrame(res, 255),
	}, res, 24)

	result, err := cdc.Encode(context.Background(), clip, EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Metrics.PSNR < psnrCap {
		t.Fatalf("psnr = %.2f, want exact reconstruction at cap %.0f", result.Metrics.PSNR, psnrCap)
	}

	decoded, err := cdc.Decode(context.Background(), result.Tokens, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Checksum() != clip.Checksum() {
		t.Fatal("uniform frames must reconstruct bit-exactly")
	}
}

func TestEncodeRejectsEmptyClip(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	cfg, _ := NewConfig(VariantDiscrete, 512, res, 0, testBudget)
	cdc, err := NewDiscreteCodec(cfg, memory.NewLedger(testBudget))
	if err != nil {
		t.Fatalf("NewDiscreteCodec: %v", err)
	}
	defer cdc.Close()

	empty := &video.Video{Resolution: res}
	result, err := cdc.Encode(context.Background(), empty, EncodeOptions{})
	if err == nil {
		t.Fatal("empty clip must be rejected with a validation error")
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Tokens != nil {
		t.Fatal("failed encode must carry zeroed tokens")
	}
}

func TestDiscretePSNRMonotoneInRatio(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	clip := rowGradientClip(res, 2)

	psnrAt := func(ratio int) float64 {
		cfg, err := NewConfig(VariantDiscrete, ratio, res, 0, testBudget)
		if err != nil {
			t.Fatalf("NewConfig(%d): %v", ratio, err)
		}
		cdc, err := NewDiscreteCodec(cfg, memory.NewLedger(testBudget))
		if err != nil {
			t.Fatalf("NewDiscreteCodec(%d): %v", ratio, err)
		}
		defer cdc.Close()

		result, err := cdc.Encode(context.Background(), clip, EncodeOptions{})
		if err != nil {
			t.Fatalf("Encode(%d): %v", ratio, err)
		}
		return result.Metrics.PSNR
	}

	low := psnrAt(64)
	high := psnrAt(512)
	if low < high {
		t.Fatalf("psnr at ratio 64 (%.2f) must be >= psnr at ratio 512 (%.2f)", low, high)
	}
}

func TestContinuousPSNRMonotoneInRatio(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	clip := video.NewClip([]video.Frame{
		video.SineFrame(res, 2, 0),
		video.SineFrame(res, 2, 0.7),
	}, res, 24)

	psnrAt := func(ratio int) float64 {
		cfg, err := NewConfig(VariantContinuous, ratio, res, 0, testBudget)
		if err != nil {
			t.Fatalf("NewConfig(%d): %v", ratio, err)
		}
		cdc, err := NewContinuousCodec(cfg, memory.NewLedger(testBudget), nil)
		if err != nil {
			t.Fatalf("NewContinuousCodec(%d): %v", ratio, err)
		}
		defer cdc.Close()

		result, err := cdc.Encode(context.Background(), clip, EncodeOptions{})
		if err != nil {
			t.Fatalf("Encode(%d): %v", ratio, err)
		}
		return result.Metrics.PSNR
	}

	low := psnrAt(4)
	high := psnrAt(32)
	if low < high {
		t.Fatalf("psnr at ratio 4 (%.2f) must be >= psnr at ratio 32 (%.2f)", low, high)
	}
}

func TestDiscreteHighRatioBroadcastFramesPassQualityGate(t *testing.T) {
	res := video.Resolution{Width: 1280, Height: 720}
	cfg, err := NewConfig(VariantDiscrete, 512, res, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cdc, err := NewDiscreteCodec(cfg, memory.NewLedger(testBudget))
	if err != nil {
		t.Fatalf("NewDiscreteCodec: %v", err)
	}
	defer cdc.Close()

	clip := video.NewClip([]video.Frame{
		video.UniformFrame(res, 0),
		video.UniformFrame(res, 255),
	}, res, 24)

	result, err := cdc.Encode(context.Background(), clip, EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Metrics.PSNR < 25 {
		t.Fatalf("psnr = %.2f, want at least 25 at ratio 512", result.Metrics.PSNR)
	}

	decoded, err := cdc.Decode(context.Background(), result.Tokens, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assessor, err := quality.NewAssessor(features.NewSpectralExtractor(16), nil,
		quality.Thresholds{MinPSNR: 25, MinSSIM: 0.7, MaxFID: 50, MaxFVD: 100})
	if err != nil {
		t.Fatalf("quality.NewAssessor: %v", err)
	}
	m, err := assessor.Assess(context.Background(), "broadcast", clip.Checksum(), clip, decoded)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !assessor.IsAcceptable(m) {
		t.Fatalf("metrics %+v must pass the gate at ratio 512", m)
	}
}

// meanModel reduces each patch to a padded three-coefficient vector, so the
// token geometry differs from the built-in mean/slope pair.
type meanModel struct{}

func (meanModel) Forward(patch []float64) []float64 {
	var sum float64
	for _, x := range patch {
		sum += x
	}
	return []float64{sum / float64(len(patch)), 0, 0}
}

func (meanModel) Inverse(coeffs []float64, patchLen int) []float64 {
	out := make([]float64, patchLen)
	for i := range out {
		out[i] = coeffs[0]
	}
	return out
}

func (meanModel) Coefficients() int { return 3 }

func TestContinuousTokenCountFollowsModelCoefficients(t *testing.T) {
	res := video.Resolution{Width: 32, Height: 32}
	cfg, err := NewConfig(VariantContinuous, 8, res, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cdc, err := NewContinuousCodec(cfg, memory.NewLedger(testBudget), meanModel{})
	if err != nil {
		t.Fatalf("NewContinuousCodec: %v", err)
	}
	defer cdc.Close()

	clip := video.NewClip([]video.Frame{
		video.UniformFrame(res, 40),
		video.UniformFrame(res, 200),
	}, res, 24)

	result, err := cdc.Encode(context.Background(), clip, EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantTokens := 2 * res.Pixels() / 8
	if got := result.Tokens.TokenCount(); got != wantTokens {
		t.Fatalf("token count = %d, want %d patches", got, wantTokens)
	}
	if got := len(result.Tokens.Values); got != wantTokens*3 {
		t.Fatalf("values len = %d, want three coefficients per token (%d)", got, wantTokens*3)
	}

	decoded, err := cdc.Decode(context.Background(), result.Tokens, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Checksum() != clip.Checksum() {
		t.Fatal("uniform patches must reconstruct exactly under the mean model")
	}
}

func TestContinuousRoundTripPreservesGeometry(t *testing.T) {
	res := video.Resolution{Width: 32, Height: 32}
	cfg, err := NewConfig(VariantContinuous, 8, res, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cdc, err := NewContinuousCodec(cfg, memory.NewLedger(testBudget), nil)
	if err != nil {
		t.Fatalf("NewContinuousCodec: %v", err)
	}
	defer cdc.Close()

	clip := video.NewClip([]video.Frame{
		video.GradientFrame(res, 0),
		video.GradientFrame(res, 3),
		video.GradientFrame(res, 6),
	}, res, 24)

	result, err := cdc.Encode(context.Background(), clip, EncodeOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := cdc.Decode(context.Background(), result.Tokens, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Resolution != res || decoded.FrameCount() != 3 {
		t.Fatalf("decoded %s/%d frames, want %s/3", decoded.Resolution, decoded.FrameCount(), res)
	}
}

func TestLedgerReleasedOnAllPaths(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	cfg, err := NewConfig(VariantDiscrete, 512, res, 0, testBudget)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	ledger := memory.NewLedger(testBudget)
	cdc, err := NewDiscreteCodec(cfg, ledger)
	if err != nil {
		t.Fatalf("NewDiscreteCodec: %v", err)
	}

	clip := video.NewClip([]video.Frame{video.CheckerFrame(res, 4, 0)}, res, 24)
	if _, err := cdc.Encode(context.Background(), clip, EncodeOptions{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := ledger.Used(); got != cfg.CodebookBytes() {
		t.Fatalf("ledger used after encode = %d, want codebook only %d", got, cfg.CodebookBytes())
	}

	// failure path also releases transients
	empty := &video.Video{Resolution: res}
	_, _ = cdc.Encode(context.Background(), empty, EncodeOptions{})
	if got := ledger.Used(); got != cfg.CodebookBytes() {
		t.Fatalf("ledger used after failed encode = %d, want %d", got, cfg.CodebookBytes())
	}

	cdc.Close()
	if got := ledger.Used(); got != 0 {
		t.Fatalf("ledger used after close = %d, want 0", got)
	}
	cdc.Close() // second close is a no-op

	if _, err := cdc.Encode(context.Background(), clip, EncodeOptions{}); err == nil {
		t.Fatal("encode on a closed codec must fail")
	}
}

func TestMetricsSnapshotUpdates(t *testing.T) {
	res := video.Resolution{Width: 64, Height: 64}
	cfg, _ := NewConfig(VariantDiscrete, 64, res, 0, testBudget)
	cdc, err := NewDiscreteCodec(cfg, memory.NewLedger(testBudget))
	if err != nil {
		t.Fatalf("NewDiscreteCodec: %v", err)
	}
	defer cdc.Close()

	clip := video.NewClip([]video.Frame{video.UniformFrame(res, 128)}, res, 24)
	if _, err := cdc.Encode(context.Background(), clip, EncodeOptions{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	m := cdc.Metrics()
	if m.Operations == 0 {
		t.Fatal("operations counter must advance")
	}
	if m.CompressionRatio != 64 {
		t.Fatalf("compression ratio = %d, want 64", m.CompressionRatio)
	}
	if m.PSNR <= 0 {
		t.Fatalf("psnr = %.2f, want positive", m.PSNR)
	}
}
