package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempConfigFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultViaMarker, cfg.Markers.Via)
	assert.Equal(t, DefaultDeprecatedViaMarker, cfg.Markers.DeprecatedVia)
	assert.Equal(t, "http://proxy.googlezip.net:443", cfg.Bypass.EffectiveProxies.Proxy)
	assert.Equal(t, "http://compress.googlezip.net:80", cfg.Bypass.EffectiveProxies.Fallback)
	assert.Equal(t, DefaultRetryMinSeconds, cfg.Bypass.RetryMinSeconds)
	assert.Equal(t, DefaultRetryMaxSeconds, cfg.Bypass.RetryMaxSeconds)
	assert.False(t, cfg.Statistics.Enabled)
	assert.Equal(t, "sqlite", cfg.Statistics.Backend)
	assert.Nil(t, cfg.Exemptions)
}

func TestLoadConfig_UnsupportedFormat(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "config.yaml", "a: b")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadConfigJSON(t *testing.T) {
	domainsFile := createTempConfigFile(t, t.TempDir(), "domains.txt", "cdn.example.com\n")
	content := `{
		"log-level": "debug",
		"per-resource": true,
		"markers": {"via": "My-Proxy", "deprecated-via": "1.0 My Old Proxy"},
		"classifiers": {
			"cdn": {"type": "domains-file", "file": "` + domainsFile + `"},
			"images": {"type": "content-type", "prefix": "Image/"}
		},
		"exemptions": {
			"type": "or",
			"classifiers": [
				{"type": "ref", "id": "cdn"},
				{"type": "scheme", "scheme": "WSS"},
				{"type": "status", "status": 500, "max": 599},
				{"type": "not", "classifier": {"type": "domain", "domain": "Example.com", "op": "is"}}
			]
		},
		"bypass": {
			"effective-proxies": {"proxy": "http://p.test:443", "fallback": "http://f.test:80"},
			"retry-min-seconds": 10,
			"retry-max-seconds": "20"
		},
		"statistics": {"enabled": true, "backend": "sqlite", "sqlite-path": "run.db"}
	}`
	path := createTempConfigFile(t, t.TempDir(), "config.json", content)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.PerResource)
	assert.Equal(t, "My-Proxy", cfg.Markers.Via)
	assert.Equal(t, "1.0 My Old Proxy", cfg.Markers.DeprecatedVia)

	require.Len(t, cfg.Classifiers, 2)
	df, ok := cfg.Classifiers["cdn"].(*ClassifierDomainsFile)
	require.True(t, ok)
	assert.Equal(t, domainsFile, df.FilePath)
	ct, ok := cfg.Classifiers["images"].(*ClassifierContentType)
	require.True(t, ok)
	assert.Equal(t, "image/", ct.Prefix)

	or, ok := cfg.Exemptions.(*ClassifierOr)
	require.True(t, ok)
	require.Len(t, or.Classifiers, 4)
	assert.Equal(t, &ClassifierRef{Id: "cdn"}, or.Classifiers[0])
	assert.Equal(t, &ClassifierScheme{Scheme: "wss"}, or.Classifiers[1])
	assert.Equal(t, &ClassifierStatus{Status: 500, Max: 599}, or.Classifiers[2])
	not, ok := or.Classifiers[3].(*ClassifierNot)
	require.True(t, ok)
	assert.Equal(t, &ClassifierDomain{Op: ClassifierOpIs, Domain: "example.com"}, not.Classifier)

	assert.Equal(t, "http://p.test:443", cfg.Bypass.EffectiveProxies.Proxy)
	assert.Equal(t, "http://f.test:80", cfg.Bypass.EffectiveProxies.Fallback)
	assert.Equal(t, "http://proxy-dev.googlezip.net:80", cfg.Bypass.EffectiveProxies.ProxyDev)
	assert.Equal(t, 10, cfg.Bypass.RetryMinSeconds)
	assert.Equal(t, 20, cfg.Bypass.RetryMaxSeconds)

	assert.True(t, cfg.Statistics.Enabled)
	assert.Equal(t, "run.db", cfg.Statistics.SQLitePath)
}

func TestLoadConfigJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"broken json", `{`, "failed to decode JSON config"},
		{"markers not object", `{"markers": "x"}`, "markers must be an object"},
		{"unknown classifier", `{"exemptions": {"type": "port", "port": 80}}`, "unsupported classifier type: port"},
		{"classifier without type", `{"classifiers": {"a": {"domain": "x"}}}`, "missing classifier type"},
		{"domains-file without file", `{"exemptions": {"type": "domains-file"}}`, "requires a 'file' field"},
		{"status without status", `{"exemptions": {"type": "status"}}`, "numeric 'status'"},
		{"status range inverted", `{"exemptions": {"type": "status", "status": 500, "max": 400}}`, "below 'status'"},
		{"not without child", `{"exemptions": {"type": "not"}}`, "requires a 'classifier' field"},
		{"bad backend", `{"statistics": {"backend": "mongo"}}`, "unsupported backend: mongo"},
		{"postgres without dsn", `{"statistics": {"enabled": true, "backend": "postgres"}}`, "postgres-dsn is required"},
		{"inverted retry window", `{"bypass": {"retry-min-seconds": 100, "retry-max-seconds": 50}}`, "invalid bypass retry window"},
		{"fractional retry", `{"bypass": {"retry-min-seconds": 1.5}}`, "expected integer"},
		{"empty via marker", `{"markers": {"via": ""}}`, "markers.via must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTempConfigFile(t, t.TempDir(), "config.json", tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoadConfigJSON_Secret(t *testing.T) {
	t.Setenv("TEST_PROXYMETRIC_DSN", "postgres://u:p@localhost/db")
	content := `{"statistics": {"enabled": true, "backend": "postgres", "postgres-dsn": {"_secret": "TEST_PROXYMETRIC_DSN"}}}`
	path := createTempConfigFile(t, t.TempDir(), "config.json", content)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Statistics.PostgresDSN)

	missing := `{"markers": {"via": {"_secret": "TEST_PROXYMETRIC_UNSET_SECRET"}}}`
	_, err = LoadConfig(createTempConfigFile(t, t.TempDir(), "missing.json", missing))
	assert.ErrorContains(t, err, "secret TEST_PROXYMETRIC_UNSET_SECRET not set")
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PROXYMETRIC_VIAMARKER", "Env-Proxy")
	t.Setenv("PROXYMETRIC_STATS_ENABLED", "1")
	t.Setenv("PROXYMETRIC_STATS_BACKEND", "dummy")
	t.Setenv("PROXYMETRIC_BYPASS_RETRYMAXSECONDS", "900")
	t.Setenv("PROXYMETRIC_BYPASS_RETRYMINSECONDS", "not-a-number")
	t.Setenv("PROXYMETRIC_PERRESOURCE", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "Env-Proxy", cfg.Markers.Via)
	assert.True(t, cfg.Statistics.Enabled)
	assert.Equal(t, "dummy", cfg.Statistics.Backend)
	assert.Equal(t, 900, cfg.Bypass.RetryMaxSeconds)
	assert.Equal(t, DefaultRetryMinSeconds, cfg.Bypass.RetryMinSeconds)
	assert.True(t, cfg.PerResource)

	// The file wins over the environment.
	path := createTempConfigFile(t, t.TempDir(), "config.json", `{"markers": {"via": "File-Proxy"}}`)
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "File-Proxy", cfg.Markers.Via)
}

func TestParseValue(t *testing.T) {
	i, err := parseValue[int](float64(42))
	require.NoError(t, err)
	assert.Equal(t, 42, *i)

	i, err = parseValue[int]("17")
	require.NoError(t, err)
	assert.Equal(t, 17, *i)

	b, err := parseValue[bool]("true")
	require.NoError(t, err)
	assert.True(t, *b)

	_, err = parseValue[bool](float64(1))
	assert.Error(t, err)

	_, err = parseValue[string](true)
	assert.Error(t, err)

	_, err = parseValue[int](nil)
	assert.Error(t, err)
}
