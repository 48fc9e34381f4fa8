package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
)

// Default Via marker tokens of the compression proxy.
const (
	DefaultViaMarker           = "Chrome-Compression-Proxy"
	DefaultDeprecatedViaMarker = "1.1 Chrome Compression Proxy"
)

// Default bad-proxy retry window, in seconds.
const (
	DefaultRetryMinSeconds   = 60
	DefaultRetryMaxSeconds   = 300
	DefaultRetryGraceSeconds = 30
)

// MarkerConfig names the Via tokens that identify the proxy.
type MarkerConfig struct {
	Via           string // current token, compared against the received-by field
	DeprecatedVia string // legacy token, compared against a whole Via segment
}

// EffectiveProxies are the proxy origins the browser is configured with.
// A bypass marks the fallback bad together with either Proxy or ProxyDev.
type EffectiveProxies struct {
	Proxy    string
	ProxyDev string
	Fallback string
}

// BypassConfig controls verification of the browser's bad-proxy list.
type BypassConfig struct {
	EffectiveProxies  EffectiveProxies
	RetryMinSeconds   int
	RetryMaxSeconds   int
	RetryGraceSeconds int
}

// StatisticsConfig selects the persistent results backend.
type StatisticsConfig struct {
	Enabled     bool
	Backend     string // "sqlite", "postgres" or "dummy"
	SQLitePath  string
	PostgresDSN string
}

// Config represents the main configuration of the analyzer.
type Config struct {
	LogLevel    string
	PerResource bool // report per-resource content lengths
	Markers     MarkerConfig
	Classifiers map[string]Classifier
	Exemptions  Classifier // responses matching this never need a proxy marker
	Bypass      BypassConfig
	Statistics  StatisticsConfig
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Markers: MarkerConfig{
			Via:           DefaultViaMarker,
			DeprecatedVia: DefaultDeprecatedViaMarker,
		},
		Classifiers: make(map[string]Classifier),
		Bypass: BypassConfig{
			EffectiveProxies: EffectiveProxies{
				Proxy:    "http://proxy.googlezip.net:443",
				ProxyDev: "http://proxy-dev.googlezip.net:80",
				Fallback: "http://compress.googlezip.net:80",
			},
			RetryMinSeconds:   DefaultRetryMinSeconds,
			RetryMaxSeconds:   DefaultRetryMaxSeconds,
			RetryGraceSeconds: DefaultRetryGraceSeconds,
		},
		Statistics: StatisticsConfig{
			Enabled:    false,
			Backend:    "sqlite",
			SQLitePath: "proxymetric_stats.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path. Environment
// variables are applied first and the file overrides them. An empty path
// yields defaults plus environment.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	loadConfigFromEnv(cfg)

	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Markers.Via) == "" {
		return fmt.Errorf("markers.via must not be empty")
	}
	if c.Bypass.RetryMinSeconds < 0 || c.Bypass.RetryMaxSeconds < c.Bypass.RetryMinSeconds {
		return fmt.Errorf("invalid bypass retry window [%d, %d]", c.Bypass.RetryMinSeconds, c.Bypass.RetryMaxSeconds)
	}
	if c.Bypass.RetryGraceSeconds < 0 {
		return fmt.Errorf("bypass retry-grace-seconds must not be negative")
	}
	if c.Statistics.Enabled && c.Statistics.Backend == "postgres" && c.Statistics.PostgresDSN == "" {
		return fmt.Errorf("statistics postgres-dsn is required for postgres backend")
	}
	return nil
}

func cleanFilePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	return cleanPath, nil
}

func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath, err := cleanFilePath(configPath)
	if err != nil {
		return err
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first so JSON and HCL share the hyphenated-key parser.
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	return applyConfigMap(data, cfg)
}

func applyConfigMap(data map[string]any, cfg *Config) error {
	if val, exists := data["log-level"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("log-level must be a string: %w", err)
		}
		cfg.LogLevel = *ptr
	}

	if val, exists := data["per-resource"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("per-resource must be a boolean: %w", err)
		}
		cfg.PerResource = *ptr
	}

	if val, exists := data["markers"]; exists {
		markers, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("markers must be an object")
		}
		if err := setString(markers, "via", &cfg.Markers.Via); err != nil {
			return fmt.Errorf("markers: %w", err)
		}
		if err := setString(markers, "deprecated-via", &cfg.Markers.DeprecatedVia); err != nil {
			return fmt.Errorf("markers: %w", err)
		}
	}

	if classifiers, ok := data["classifiers"].(map[string]any); ok && classifiers != nil {
		cfg.Classifiers = make(map[string]Classifier)
		for key, classifier := range classifiers {
			classifierMap, ok := classifier.(map[string]any)
			if !ok {
				return fmt.Errorf("invalid classifier format for %q", key)
			}
			newClassifier, err := parseClassifier(classifierMap)
			if err != nil {
				return fmt.Errorf("classifier %q: %w", key, err)
			}
			cfg.Classifiers[key] = newClassifier
		}
	}

	if val, exists := data["exemptions"]; exists {
		exemptionsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("exemptions must be a classifier object")
		}
		exemptions, err := parseClassifier(exemptionsMap)
		if err != nil {
			return fmt.Errorf("exemptions: %w", err)
		}
		cfg.Exemptions = exemptions
	}

	if val, exists := data["bypass"]; exists {
		bypass, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("bypass must be an object")
		}
		if err := applyBypass(bypass, &cfg.Bypass); err != nil {
			return fmt.Errorf("bypass: %w", err)
		}
	}

	if val, exists := data["statistics"]; exists {
		statistics, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := applyStatistics(statistics, &cfg.Statistics); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
	}

	return nil
}

func applyBypass(data map[string]any, bypass *BypassConfig) error {
	if val, exists := data["effective-proxies"]; exists {
		proxies, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("effective-proxies must be an object")
		}
		for key, dst := range map[string]*string{
			"proxy":     &bypass.EffectiveProxies.Proxy,
			"proxy-dev": &bypass.EffectiveProxies.ProxyDev,
			"fallback":  &bypass.EffectiveProxies.Fallback,
		} {
			if err := setString(proxies, key, dst); err != nil {
				return err
			}
		}
	}
	for key, dst := range map[string]*int{
		"retry-min-seconds":   &bypass.RetryMinSeconds,
		"retry-max-seconds":   &bypass.RetryMaxSeconds,
		"retry-grace-seconds": &bypass.RetryGraceSeconds,
	} {
		if val, exists := data[key]; exists {
			ptr, err := parseValue[int](val)
			if err != nil {
				return fmt.Errorf("%s must be a number: %w", key, err)
			}
			*dst = *ptr
		}
	}
	return nil
}

func applyStatistics(data map[string]any, stats *StatisticsConfig) error {
	if val, exists := data["enabled"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("enabled must be a boolean: %w", err)
		}
		stats.Enabled = *ptr
	}
	if err := setString(data, "backend", &stats.Backend); err != nil {
		return err
	}
	switch stats.Backend {
	case "sqlite", "postgres", "dummy":
	default:
		return fmt.Errorf("unsupported backend: %s", stats.Backend)
	}
	if err := setString(data, "sqlite-path", &stats.SQLitePath); err != nil {
		return err
	}
	return setString(data, "postgres-dsn", &stats.PostgresDSN)
}

func setString(data map[string]any, key string, dst *string) error {
	val, exists := data[key]
	if !exists {
		return nil
	}
	ptr, err := parseValue[string](val)
	if err != nil {
		if strings.Contains(err.Error(), "secret") {
			return err
		}
		return fmt.Errorf("%s must be a string", key)
	}
	*dst = *ptr
	return nil
}

// parseValue converts a decoded JSON/HCL value into T. A {"_secret": "VAR"}
// object is replaced by the value of the environment variable VAR.
func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(v, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse float: %w", err)
			}
			elem.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() != reflect.Bool {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
		elem.SetBool(v)
	default:
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func parseClassifier(classifierMap map[string]any) (Classifier, error) {
	classifierType, ok := classifierMap["type"].(string)
	if !ok {
		return nil, fmt.Errorf("missing classifier type")
	}

	switch classifierType {
	case "and", "or":
		var children []Classifier
		if list, ok := classifierMap["classifiers"].([]any); ok {
			for i, child := range list {
				childMap, ok := child.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s classifier child %d must be an object", classifierType, i)
				}
				c, err := parseClassifier(childMap)
				if err != nil {
					return nil, err
				}
				children = append(children, c)
			}
		}
		if classifierType == "and" {
			return &ClassifierAnd{Classifiers: children}, nil
		}
		return &ClassifierOr{Classifiers: children}, nil
	case "not":
		child, ok := classifierMap["classifier"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("not classifier requires a 'classifier' field")
		}
		c, err := parseClassifier(child)
		if err != nil {
			return nil, err
		}
		return &ClassifierNot{Classifier: c}, nil
	case "domain":
		domainClassifier := &ClassifierDomain{}
		if domain, ok := classifierMap["domain"].(string); ok {
			domainClassifier.Domain = strings.ToLower(domain)
		}
		if op, ok := classifierMap["op"].(string); ok {
			domainClassifier.Op = parseClassifierOp(op)
		}
		return domainClassifier, nil
	case "ref":
		refClassifier := &ClassifierRef{}
		if id, ok := classifierMap["id"].(string); ok {
			refClassifier.Id = id
		}
		return refClassifier, nil
	case "true":
		return &ClassifierTrue{}, nil
	case "false":
		return &ClassifierFalse{}, nil
	case "domains-file":
		filePath, ok := classifierMap["file"].(string)
		if !ok || filePath == "" {
			return nil, fmt.Errorf("domains-file classifier requires a 'file' field")
		}
		return &ClassifierDomainsFile{FilePath: filePath}, nil
	case "scheme":
		scheme, ok := classifierMap["scheme"].(string)
		if !ok || scheme == "" {
			return nil, fmt.Errorf("scheme classifier requires a 'scheme' field")
		}
		return &ClassifierScheme{Scheme: strings.ToLower(scheme)}, nil
	case "status":
		statusClassifier := &ClassifierStatus{}
		ptr, err := parseValue[int](classifierMap["status"])
		if err != nil {
			return nil, fmt.Errorf("status classifier requires a numeric 'status' field: %w", err)
		}
		statusClassifier.Status = *ptr
		if val, exists := classifierMap["max"]; exists {
			maxPtr, err := parseValue[int](val)
			if err != nil {
				return nil, fmt.Errorf("status classifier 'max' must be a number: %w", err)
			}
			if *maxPtr < statusClassifier.Status {
				return nil, fmt.Errorf("status classifier 'max' (%d) is below 'status' (%d)", *maxPtr, statusClassifier.Status)
			}
			statusClassifier.Max = *maxPtr
		}
		return statusClassifier, nil
	case "content-type":
		prefix, ok := classifierMap["prefix"].(string)
		if !ok || prefix == "" {
			return nil, fmt.Errorf("content-type classifier requires a 'prefix' field")
		}
		return &ClassifierContentType{Prefix: strings.ToLower(prefix)}, nil
	default:
		return nil, fmt.Errorf("unsupported classifier type: %s", classifierType)
	}
}

func parseClassifierOp(op string) ClassifierOp {
	switch op {
	case "equal":
		return ClassifierOpEqual
	case "not-equal":
		return ClassifierOpNotEqual
	case "is":
		return ClassifierOpIs
	case "contains":
		return ClassifierOpContains
	case "not-contains":
		return ClassifierOpNotContains
	default:
		return ClassifierOpEqual
	}
}

func loadConfigFromEnv(cfg *Config) {
	if level := os.Getenv("PROXYMETRIC_LOGLEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if marker := os.Getenv("PROXYMETRIC_VIAMARKER"); marker != "" {
		cfg.Markers.Via = marker
	}

	if marker := os.Getenv("PROXYMETRIC_DEPRECATEDVIAMARKER"); marker != "" {
		cfg.Markers.DeprecatedVia = marker
	}

	if perResource := os.Getenv("PROXYMETRIC_PERRESOURCE"); perResource != "" {
		cfg.PerResource = strings.EqualFold(perResource, "true") || perResource == "1"
	}

	if enabled := os.Getenv("PROXYMETRIC_STATS_ENABLED"); enabled != "" {
		cfg.Statistics.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"
	}

	if backend := os.Getenv("PROXYMETRIC_STATS_BACKEND"); backend != "" {
		cfg.Statistics.Backend = backend
	}

	if path := os.Getenv("PROXYMETRIC_STATS_SQLITEPATH"); path != "" {
		cfg.Statistics.SQLitePath = path
	}

	if dsn := os.Getenv("PROXYMETRIC_STATS_POSTGRESDSN"); dsn != "" {
		cfg.Statistics.PostgresDSN = dsn
	}

	for key, dst := range map[string]*int{
		"PROXYMETRIC_BYPASS_RETRYMINSECONDS":   &cfg.Bypass.RetryMinSeconds,
		"PROXYMETRIC_BYPASS_RETRYMAXSECONDS":   &cfg.Bypass.RetryMaxSeconds,
		"PROXYMETRIC_BYPASS_RETRYGRACESECONDS": &cfg.Bypass.RetryGraceSeconds,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for %s: %s\n", key, raw)
			continue
		}
		*dst = n
	}
}
