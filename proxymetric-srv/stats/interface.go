// Package stats persists analysis runs, their metric values and their
// validation failures.
package stats

import (
	"context"
	"time"
)

// Collector defines the interface for persisting analysis results
type Collector interface {
	// Run tracking
	StartRun(ctx context.Context, source string) (*Run, error)
	EndRun(ctx context.Context, run *Run, passesOK, passesFailed int) error

	// Result tracking
	RecordValue(ctx context.Context, run *Run, page, name, units string, value any) error
	RecordValidationFailure(ctx context.Context, run *Run, failure ValidationFailure) error

	// Queries
	GetRunValues(ctx context.Context, runUUID string) ([]MetricValue, error)
	GetRecentFailures(ctx context.Context, limit int) ([]ValidationFailure, error)

	// Health check
	HealthCheck(ctx context.Context) error

	// Close cleans up resources
	Close() error
}

// Run identifies one invocation of the analyzer over a capture.
type Run struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

// MetricValue is one persisted result value. Value holds the JSON-decoded
// form, so numbers come back as float64.
type MetricValue struct {
	RunUUID    string    `json:"run_uuid"`
	Page       string    `json:"page"`
	Name       string    `json:"name"`
	Units      string    `json:"units"`
	Value      any       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ValidationFailure is one failed pass.
type ValidationFailure struct {
	RunUUID     string    `json:"run_uuid"`
	Page        string    `json:"page"`
	Pass        string    `json:"pass"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	URLs        []string  `json:"urls"`
	RecordedAt  time.Time `json:"recorded_at"`
}
