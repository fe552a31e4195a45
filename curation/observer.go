package curation

import (
	"context"

	"github.com/framegate/curate/logging"
)

// MetricsSink receives pipeline measurements. Fire-and-forget: failures in
// a sink must never abort pipeline progress, so calls are shielded.
type MetricsSink interface {
	Observe(name string, value float64, tags map[string]string)
}

// AuditLog records pipeline events for compliance review. Same contract as
// MetricsSink: best effort only.
type AuditLog interface {
	Event(ctx context.Context, name string, fields map[string]any)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) Observe(name string, value float64, tags map[string]string) {}

// NoopAudit discards all events.
type NoopAudit struct{}

func (NoopAudit) Event(ctx context.Context, name string, fields map[string]any) {}

// observe shields a sink call: panics are swallowed and logged.
func observe(logger logging.Logger, sink MetricsSink, name string, value float64, tags map[string]string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("metrics sink panicked", logging.Fields{"metric": name, "panic": r})
		}
	}()
	sink.Observe(name, value, tags)
}

// audit shields an audit call the same way.
func audit(ctx context.Context, logger logging.Logger, log AuditLog, name string, fields map[string]any) {
	if log == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("audit log panicked", logging.Fields{"event": name, "panic": r})
		}
	}()
	log.Event(ctx, name, fields)
}
