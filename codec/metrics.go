package codec

import (
	"sync"
	"time"
)

// Metrics is the running snapshot a codec maintains across operations.
type Metrics struct {
	CompressionRatio int     `json:"compression_ratio"`
	PSNR             float64 `json:"psnr"`
	ThroughputFPS    float64 `json:"throughput_fps"`
	LatencyMS        float64 `json:"latency_ms"`
	Operations       uint64  `json:"operations"`
}

// metricsTracker guards the snapshot; Encode and Decode update it after
// every operation, success or failure.
type metricsTracker struct {
	mu       sync.Mutex
	snapshot Metrics
}

func newMetricsTracker(ratio int) *metricsTracker {
	return &metricsTracker{snapshot: Metrics{CompressionRatio: ratio}}
}

func (m *metricsTracker) record(frames int, elapsed time.Duration, psnr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Operations++
	m.snapshot.LatencyMS = float64(elapsed) / float64(time.Millisecond)
	if elapsed > 0 && frames > 0 {
		m.snapshot.ThroughputFPS = float64(frames) / elapsed.Seconds()
	}
	if psnr >= 0 {
		m.snapshot.PSNR = psnr
	}
}

func (m *metricsTracker) get() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
