// Package metric validates captured responses against the compression
// proxy's Via markers and aggregates proxy usage statistics.
package metric

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/proxymetric/proxymetric-srv/classifier"
	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/network"
	"github.com/codefionn/proxymetric/proxymetric-srv/results"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// Result names written by the passes.
const (
	ResultResourcesViaProxy  = "resources_via_proxy"
	ResultResourcesFromCache = "resources_from_cache"
	ResultResourcesDirect    = "resources_direct"
	ResultCheckedViaHeader   = "checked_via_header"
	ResultRequestBypassed    = "request_bypassed"
	ResultBypass             = "bypass"
	ResultSafebrowsing       = "safebrowsing"
)

// Metric runs the aggregation passes over event snapshots. It holds no
// per-run state, so one Metric can serve many snapshots concurrently.
type Metric struct {
	classifier *ResponseClassifier
	network    *network.Metric
	proxyInfo  ProxyInfoSource
	verifier   *BypassVerifier
}

// Option customises a Metric.
type Option func(*Metric)

// WithProxyInfo enables the bad-proxy checks of the header validation and
// bypass passes.
func WithProxyInfo(src ProxyInfoSource) Option {
	return func(m *Metric) { m.proxyInfo = src }
}

// WithNetworkMetric replaces the content length metric run by the data
// saving pass.
func WithNetworkMetric(n *network.Metric) Option {
	return func(m *Metric) { m.network = n }
}

// WithBypassVerifier replaces the bad-proxy verifier.
func WithBypassVerifier(v *BypassVerifier) Option {
	return func(m *Metric) { m.verifier = v }
}

// New creates a Metric around a response classifier.
func New(rc *ResponseClassifier, opts ...Option) *Metric {
	m := &Metric{
		classifier: rc,
		network:    network.NewMetric(),
		verifier:   NewBypassVerifier(config.Default().Bypass),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromConfig builds a Metric from configuration, compiling the
// exemption rules.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Metric, error) {
	exemptions, err := classifier.CompileExemptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile exemptions: %w", err)
	}
	n := network.NewMetric()
	n.PerResource = cfg.PerResource

	base := []Option{
		WithNetworkMetric(n),
		WithBypassVerifier(NewBypassVerifier(cfg.Bypass)),
	}
	return New(NewResponseClassifier(cfg.Markers, exemptions), append(base, opts...)...), nil
}

// Classifier returns the response classifier used by the passes.
func (m *Metric) Classifier() *ResponseClassifier {
	return m.classifier
}

// AddResultsForDataSaving writes the network content lengths and counts
// responses via the proxy, from cache (and via the proxy) and direct.
func (m *Metric) AddResultsForDataSaving(ctx context.Context, page string, events timeline.Events, res results.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.network.AddResults(ctx, page, events, res); err != nil {
		return err
	}

	var viaProxy, fromCache, direct int
	for _, resp := range events.All() {
		if m.classifier.HasProxyMarker(resp) {
			viaProxy++
			if resp.ServedFromCache() {
				fromCache++
			}
		} else {
			direct++
		}
	}

	logger.Debug("%s", logger.WithPage(page, "data saving: via=%d cache=%d direct=%d", viaProxy, fromCache, direct))
	return addAll(ctx, res, page,
		value{ResultResourcesViaProxy, results.UnitCount, viaProxy},
		value{ResultResourcesFromCache, results.UnitCount, fromCache},
		value{ResultResourcesDirect, results.UnitCount, direct},
	)
}

// AddResultsForHeaderValidation checks every response for a consistent
// Via marker. Invalid responses count as bypassed when the proxy info lists
// an expected set of effective proxies as bad with plausible retry times.
// Any other invalid response fails the pass after the whole snapshot has
// been checked, and so does a proxy info failure. Nothing is written on
// failure.
func (m *Metric) AddResultsForHeaderValidation(ctx context.Context, page string, events timeline.Events, res results.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var checked, bypassed int
	var offenders []string
	var bypassKnown, isBypassed bool
	var bypassErr error

	for _, resp := range events.All() {
		if m.classifier.IsValidByViaMarker(resp) {
			checked++
			continue
		}
		if m.proxyInfo != nil && !bypassKnown {
			isBypassed, bypassErr = m.isBypassed(ctx)
			bypassKnown = true
		}
		if isBypassed {
			logger.Warn("%s", logger.WithPage(page, "Proxy bypassed for %s", resp.URL()))
			bypassed++
			continue
		}
		offenders = append(offenders, resp.URL())
	}

	if bypassErr != nil {
		var ve *ValidationError
		if errors.As(bypassErr, &ve) {
			return NewValidationError(ve.Code, ve.Description, offenders, ve.Cause)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewValidationError(ErrCodeMissingViaHeader,
			fmt.Sprintf("%d response(s) should have the proxy Via header and proxy info is unavailable", len(offenders)),
			offenders, bypassErr)
	}
	if len(offenders) > 0 {
		return NewValidationError(ErrCodeMissingViaHeader,
			fmt.Sprintf("%d response(s) should have the proxy Via header", len(offenders)), offenders, nil)
	}

	return addAll(ctx, res, page,
		value{ResultCheckedViaHeader, results.UnitCount, checked},
		value{ResultRequestBypassed, results.UnitCount, bypassed},
	)
}

// AddResultsForBypass expects every response to have bypassed the proxy
// and writes their number. With proxy info the effective proxies must also
// be on the bad list with plausible retry times.
func (m *Metric) AddResultsForBypass(ctx context.Context, page string, events timeline.Events, res results.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var offenders []string
	for _, resp := range events.All() {
		if m.classifier.HasProxyMarker(resp) {
			offenders = append(offenders, resp.URL())
		}
	}
	if len(offenders) > 0 {
		return NewValidationError(ErrCodeUnexpectedViaHeader,
			fmt.Sprintf("%d response(s) should not have the proxy Via header", len(offenders)), offenders, nil)
	}

	if m.proxyInfo != nil {
		info, err := m.proxyInfo.ProxyInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to get proxy info: %w", err)
		}
		if !info.Enabled {
			return NewValidationError(ErrCodeProxyDisabled, "", nil, nil)
		}
		expected := m.verifier.ExpectedBadProxies(info.BadProxies)
		ok, err := m.verifier.VerifyBadProxies(info.BadProxies, expected, info.CaptureTime())
		if err != nil {
			return err
		}
		if !ok {
			return NewValidationError(ErrCodeProxyNotBypassed,
				fmt.Sprintf("Expected bad proxies %v, got %d entries", expected, len(info.BadProxies)), nil, nil)
		}
	}

	return res.Add(ctx, page, ResultBypass, results.UnitCount, events.Len())
}

// AddResultsForSafebrowsing expects every response to be the proxy's
// safebrowsing redirect. An empty snapshot also reports true.
func (m *Metric) AddResultsForSafebrowsing(ctx context.Context, page string, events timeline.Events, res results.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var offenders []string
	for _, resp := range events.All() {
		if !m.classifier.IsSafebrowsingResponse(resp) {
			offenders = append(offenders, resp.URL())
		}
	}
	if len(offenders) > 0 {
		return NewValidationError(ErrCodeNotSafebrowsing,
			fmt.Sprintf("%d response(s) are not safebrowsing responses", len(offenders)), offenders, nil)
	}

	return res.Add(ctx, page, ResultSafebrowsing, results.UnitBoolean, true)
}

// isBypassed asks the proxy info source whether the effective proxies
// were bypassed.
func (m *Metric) isBypassed(ctx context.Context) (bool, error) {
	info, err := m.proxyInfo.ProxyInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get proxy info: %w", err)
	}
	return m.verifier.IsProxyBypassed(info)
}

type value struct {
	name  string
	units string
	value any
}

func addAll(ctx context.Context, res results.Results, page string, values ...value) error {
	for _, v := range values {
		if err := res.Add(ctx, page, v.name, v.units, v.value); err != nil {
			return err
		}
	}
	return nil
}
