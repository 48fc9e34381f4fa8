package stats

import (
	"context"
	"fmt"

	"github.com/codefionn/proxymetric/proxymetric-srv/metric"
)

// RunSink writes the results of one run into a Collector. It satisfies
// results.Results.
type RunSink struct {
	collector Collector
	run       *Run
	ok        int
	failed    int
}

// NewRunSink starts a run on the collector.
func NewRunSink(ctx context.Context, collector Collector, source string) (*RunSink, error) {
	run, err := collector.StartRun(ctx, source)
	if err != nil {
		return nil, err
	}
	return &RunSink{collector: collector, run: run}, nil
}

// Run returns the run the sink writes to.
func (s *RunSink) Run() *Run {
	return s.run
}

// Add records one result value.
func (s *RunSink) Add(ctx context.Context, page, name, units string, value any) error {
	if name == "" {
		return fmt.Errorf("result name must not be empty")
	}
	return s.collector.RecordValue(ctx, s.run, page, name, units, value)
}

// RecordPassResults tallies pass outcomes and stores each failure.
func (s *RunSink) RecordPassResults(ctx context.Context, passResults []metric.PassResult) error {
	for _, r := range passResults {
		if r.Passed() {
			s.ok++
			continue
		}
		s.failed++
		failure := ValidationFailure{
			Page:        r.Page,
			Pass:        string(r.Pass),
			Code:        r.Err.Code,
			Description: r.Err.Description,
			URLs:        r.Err.URLs,
		}
		if err := s.collector.RecordValidationFailure(ctx, s.run, failure); err != nil {
			return err
		}
	}
	return nil
}

// Finish ends the run with the tallied pass counts.
func (s *RunSink) Finish(ctx context.Context) error {
	return s.collector.EndRun(ctx, s.run, s.ok, s.failed)
}
