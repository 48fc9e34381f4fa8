package metric

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// ProxyInfoSource provides the browser's proxy state for a run.
type ProxyInfoSource interface {
	ProxyInfo(ctx context.Context) (*timeline.ProxyInfo, error)
}

// StaticProxyInfo serves proxy state recorded in a capture file.
type StaticProxyInfo struct {
	Info *timeline.ProxyInfo
}

func (s StaticProxyInfo) ProxyInfo(context.Context) (*timeline.ProxyInfo, error) {
	if s.Info == nil {
		return nil, fmt.Errorf("no proxy info recorded")
	}
	return s.Info, nil
}

// BypassVerifier checks a bad-proxy list against the effective proxies.
type BypassVerifier struct {
	Proxies  config.EffectiveProxies
	RetryMin time.Duration
	RetryMax time.Duration
	Grace    time.Duration

	now func() time.Time
}

// NewBypassVerifier creates a verifier from the bypass configuration.
func NewBypassVerifier(cfg config.BypassConfig) *BypassVerifier {
	return &BypassVerifier{
		Proxies:  cfg.EffectiveProxies,
		RetryMin: time.Duration(cfg.RetryMinSeconds) * time.Second,
		RetryMax: time.Duration(cfg.RetryMaxSeconds) * time.Second,
		Grace:    time.Duration(cfg.RetryGraceSeconds) * time.Second,
		now:      time.Now,
	}
}

// expectedSets returns the bad-proxy lists that prove a bypass: the
// proxy or the dev proxy, each together with the fallback.
func (v *BypassVerifier) expectedSets() [][]string {
	sets := [][]string{{v.Proxies.Proxy, v.Proxies.Fallback}}
	if v.Proxies.ProxyDev != "" && v.Proxies.ProxyDev != v.Proxies.Proxy {
		sets = append(sets, []string{v.Proxies.ProxyDev, v.Proxies.Fallback})
	}
	return sets
}

// ExpectedBadProxies returns the expected bad-proxy set that badProxies
// names, or the production set when none matches.
func (v *BypassVerifier) ExpectedBadProxies(badProxies []timeline.BadProxy) []string {
	sets := v.expectedSets()
	got := sortedProxyNames(badProxies)
	for _, set := range sets {
		if slices.Equal(got, sortedCopy(set)) {
			return set
		}
	}
	return sets[0]
}

// IsProxyBypassed reports whether an expected set of effective proxies is
// on the bad list with retry times inside the window. The proxy itself
// must be enabled.
func (v *BypassVerifier) IsProxyBypassed(info *timeline.ProxyInfo) (bool, error) {
	if !info.Enabled {
		return false, NewValidationError(ErrCodeProxyDisabled, "", nil, nil)
	}
	ok, err := v.VerifyBadProxies(info.BadProxies, v.ExpectedBadProxies(info.BadProxies), info.CaptureTime())
	if err != nil {
		if IsValidationError(err) {
			logger.Debug("Proxy not bypassed: %v", err)
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// VerifyBadProxies checks that badProxies names exactly the expected
// proxies and that each retry time lies within the configured window from
// capturedAt. A zero capturedAt anchors the window at the current time.
// It returns false without error when the list is empty or of the wrong
// length.
func (v *BypassVerifier) VerifyBadProxies(badProxies []timeline.BadProxy, expected []string, capturedAt time.Time) (bool, error) {
	if len(badProxies) == 0 || len(badProxies) != len(expected) {
		return false, nil
	}

	got := sortedProxyNames(badProxies)
	want := sortedCopy(expected)
	if !slices.Equal(got, want) {
		return false, NewValidationError(ErrCodeBadProxiesMismatch,
			fmt.Sprintf("Bad proxies %v do not match expected %v", got, want), nil, nil)
	}

	anchor := capturedAt
	if anchor.IsZero() {
		anchor = v.now()
	}
	low := anchor.Add(v.RetryMin - v.Grace)
	high := anchor.Add(v.RetryMax + v.Grace)
	for _, p := range badProxies {
		retry := time.UnixMilli(p.Retry)
		if retry.Before(low) || !retry.Before(high) {
			return false, NewValidationError(ErrCodeBadProxyRetryWindow,
				fmt.Sprintf("Bad proxy %s retry time %s is outside [%s, %s)",
					p.Proxy, retry.UTC().Format(time.RFC3339), low.UTC().Format(time.RFC3339), high.UTC().Format(time.RFC3339)),
				nil, nil)
		}
	}
	return true, nil
}

func sortedProxyNames(badProxies []timeline.BadProxy) []string {
	names := make([]string, 0, len(badProxies))
	for _, p := range badProxies {
		names = append(names, p.Proxy)
	}
	slices.Sort(names)
	return names
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
