package metric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/results"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// Pass names one aggregation pass.
type Pass string

const (
	PassDataSaving       Pass = "data_saving"
	PassHeaderValidation Pass = "header_validation"
	PassBypass           Pass = "bypass"
	PassSafebrowsing     Pass = "safebrowsing"
)

// AllPasses lists every pass in the order RunPasses uses by default.
var AllPasses = []Pass{PassDataSaving, PassHeaderValidation, PassBypass, PassSafebrowsing}

// ParsePasses parses a comma-separated pass list. "all" and the empty
// string select AllPasses.
func ParsePasses(s string) ([]Pass, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return append([]Pass(nil), AllPasses...), nil
	}
	var passes []Pass
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		p := Pass(strings.ReplaceAll(name, "-", "_"))
		if !p.valid() {
			return nil, fmt.Errorf("unknown pass: %s", name)
		}
		passes = append(passes, p)
	}
	if len(passes) == 0 {
		return nil, fmt.Errorf("no passes selected")
	}
	return passes, nil
}

func (p Pass) valid() bool {
	for _, known := range AllPasses {
		if p == known {
			return true
		}
	}
	return false
}

// PassResult is the outcome of one pass for one page.
type PassResult struct {
	Pass Pass
	Page string
	Err  *ValidationError
}

// Passed reports whether the pass validated successfully.
func (r PassResult) Passed() bool {
	return r.Err == nil
}

func (r PassResult) String() string {
	page := r.Page
	if page == results.AllPages {
		page = "*"
	}
	if r.Passed() {
		return fmt.Sprintf("%s [%s]: ok", r.Pass, page)
	}
	return fmt.Sprintf("%s [%s]: FAILED %v", r.Pass, page, r.Err)
}

// RunPass runs a single pass by name.
func (m *Metric) RunPass(ctx context.Context, pass Pass, page string, events timeline.Events, res results.Results) error {
	switch pass {
	case PassDataSaving:
		return m.AddResultsForDataSaving(ctx, page, events, res)
	case PassHeaderValidation:
		return m.AddResultsForHeaderValidation(ctx, page, events, res)
	case PassBypass:
		return m.AddResultsForBypass(ctx, page, events, res)
	case PassSafebrowsing:
		return m.AddResultsForSafebrowsing(ctx, page, events, res)
	default:
		return fmt.Errorf("unknown pass: %s", pass)
	}
}

// RunPasses runs the given passes (AllPasses when none are named) over one
// snapshot. Validation failures are recorded in the returned results and
// the run continues. Any other error aborts the run.
func (m *Metric) RunPasses(ctx context.Context, page string, events timeline.Events, res results.Results, passes ...Pass) ([]PassResult, error) {
	if len(passes) == 0 {
		passes = AllPasses
	}

	out := make([]PassResult, 0, len(passes))
	for _, pass := range passes {
		err := m.RunPass(ctx, pass, page, events, res)
		var ve *ValidationError
		switch {
		case err == nil:
			logger.Debug("%s", logger.WithPage(page, "pass %s ok", pass))
			out = append(out, PassResult{Pass: pass, Page: page})
		case errors.As(err, &ve):
			logger.Warn("%s", logger.WithPage(page, "pass %s failed: %v", pass, ve))
			out = append(out, PassResult{Pass: pass, Page: page, Err: ve})
		default:
			return out, fmt.Errorf("pass %s: %w", pass, err)
		}
	}
	return out, nil
}
