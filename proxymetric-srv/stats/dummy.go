package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DummyCollector is a no-op implementation of Collector
// It does nothing and is used when statistics collection is disabled
type DummyCollector struct{}

// NewDummyCollector creates a new dummy collector
func NewDummyCollector() *DummyCollector {
	return &DummyCollector{}
}

// StartRun hands out a run identifier without storing it
func (d *DummyCollector) StartRun(ctx context.Context, source string) (*Run, error) {
	return &Run{UUID: uuid.NewString(), Source: source, StartedAt: time.Now()}, nil
}

// EndRun finishes a run (no-op)
func (d *DummyCollector) EndRun(ctx context.Context, run *Run, passesOK, passesFailed int) error {
	return nil
}

// RecordValue records a metric value (no-op)
func (d *DummyCollector) RecordValue(ctx context.Context, run *Run, page, name, units string, value any) error {
	return nil
}

// RecordValidationFailure records a failed pass (no-op)
func (d *DummyCollector) RecordValidationFailure(ctx context.Context, run *Run, failure ValidationFailure) error {
	return nil
}

// GetRunValues returns no values for dummy collector
func (d *DummyCollector) GetRunValues(ctx context.Context, runUUID string) ([]MetricValue, error) {
	return []MetricValue{}, nil
}

// GetRecentFailures returns no failures for dummy collector
func (d *DummyCollector) GetRecentFailures(ctx context.Context, limit int) ([]ValidationFailure, error) {
	return []ValidationFailure{}, nil
}

// HealthCheck always returns healthy for dummy collector
func (d *DummyCollector) HealthCheck(ctx context.Context) error {
	return nil
}

// Close does nothing for dummy collector
func (d *DummyCollector) Close() error {
	return nil
}
