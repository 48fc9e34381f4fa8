package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/metric"
	"github.com/codefionn/proxymetric/proxymetric-srv/results"
	"github.com/codefionn/proxymetric/proxymetric-srv/stats"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

var version string

// options are the command line settings besides the config file.
type options struct {
	capturePath string
	harPath     string
	page        string
	perPage     bool
	passes      string
	debug       bool
}

func main() {
	cfg, configPath, opts, watch := parseFlagsAndConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := analyze(ctx, cfg, opts, os.Stdout)
	if err != nil {
		logger.Error("Analysis failed: %v", err)
		os.Exit(2)
	}
	if watch {
		watchReloads(ctx, cfg, configPath, opts)
		return
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (cfg *config.Config, configPath string, opts options, watch bool) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "", "Path to configuration file (supports .json and .hcl formats)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	flag.StringVar(&opts.capturePath, "capture", "", "Path to a JSON capture file")
	flag.StringVar(&opts.harPath, "har", "", "Path to a HAR file")
	flag.StringVar(&opts.page, "page", "", "Only analyze this page")
	flag.BoolVar(&opts.perPage, "per-page", false, "Also analyze every page separately")
	flag.StringVar(&opts.passes, "passes", "all", "Comma-separated passes: data_saving, header_validation, bypass, safebrowsing")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	watchFlag := flag.Bool("watch", false, "Keep running and re-analyze on SIGHUP when the config changed")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("proxymetric version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	if opts.debug {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	applyLogLevel(cfg, opts)
	if !config.HasChanged(config.Default(), cfg) {
		logger.Debug("Using default configuration")
	}

	return cfg, *configPathPtr, opts, *watchFlag
}

func applyLogLevel(cfg *config.Config, opts options) {
	if !opts.debug && cfg.LogLevel != "" {
		logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
	}
}

// watchReloads re-runs the analysis on SIGHUP when the configuration changed.
func watchReloads(ctx context.Context, cfg *config.Config, configPath string, opts options) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	currentCfg := cfg
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return
		case <-sigChan:
			logger.Info("Received SIGHUP: reloading configuration...")
			newCfg, err := config.LoadConfig(configPath)
			if err != nil {
				logger.Error("Failed to reload config: %v (keeping current config)", err)
				continue
			}
			if !config.HasChanged(currentCfg, newCfg) {
				logger.Info("Config unchanged after reload; not re-analyzing.")
				continue
			}
			applyLogLevel(newCfg, opts)
			currentCfg = newCfg
			if _, err := analyze(ctx, currentCfg, opts, os.Stdout); err != nil {
				logger.Error("Analysis failed: %v", err)
			}
		}
	}
}

// loadInput reads the capture named by the options.
func loadInput(opts options) (*timeline.Capture, string, error) {
	switch {
	case opts.capturePath != "" && opts.harPath != "":
		return nil, "", errors.New("use either -capture or -har, not both")
	case opts.capturePath != "":
		c, err := timeline.LoadCapture(opts.capturePath)
		return c, opts.capturePath, err
	case opts.harPath != "":
		c, err := timeline.LoadHAR(opts.harPath)
		return c, opts.harPath, err
	default:
		return nil, "", errors.New("no input: pass -capture or -har")
	}
}

type target struct {
	page   string
	events timeline.Events
}

func selectTargets(capture *timeline.Capture, opts options) ([]target, error) {
	if opts.page != "" {
		events, ok := capture.ByPage[opts.page]
		if !ok {
			return nil, fmt.Errorf("page %q not found in capture", opts.page)
		}
		return []target{{page: opts.page, events: events}}, nil
	}

	targets := []target{{page: results.AllPages, events: capture.Events}}
	if opts.perPage {
		pages := make([]string, 0, len(capture.ByPage))
		for page := range capture.ByPage {
			pages = append(pages, page)
		}
		sort.Strings(pages)
		for _, page := range pages {
			targets = append(targets, target{page: page, events: capture.ByPage[page]})
		}
	}
	return targets, nil
}

// analyze runs the selected passes over the capture, prints the values and
// pass outcomes to out and returns the number of failed passes.
func analyze(ctx context.Context, cfg *config.Config, opts options, out io.Writer) (failed int, err error) {
	capture, source, err := loadInput(opts)
	if err != nil {
		return 0, err
	}
	passes, err := metric.ParsePasses(opts.passes)
	if err != nil {
		return 0, err
	}
	targets, err := selectTargets(capture, opts)
	if err != nil {
		return 0, err
	}

	var metricOpts []metric.Option
	if capture.ProxyInfo != nil {
		metricOpts = append(metricOpts, metric.WithProxyInfo(metric.StaticProxyInfo{Info: capture.ProxyInfo}))
	}
	m, err := metric.NewFromConfig(cfg, metricOpts...)
	if err != nil {
		return 0, err
	}

	collector, err := stats.NewCollectorFactory().CreateCollectorFromConfig(cfg)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := collector.Close(); closeErr != nil {
			logger.Error("Error closing stats collector: %v", closeErr)
		}
	}()

	sink, err := stats.NewRunSink(ctx, collector, source)
	if err != nil {
		return 0, err
	}
	mem := results.NewMemory()
	res := results.Multi{mem, sink}

	logger.Info("Analyzing %d responses from %s (run %s)", capture.Events.Len(), source, sink.Run().UUID)

	var all []metric.PassResult
	for _, t := range targets {
		passResults, err := m.RunPasses(ctx, t.page, t.events, res, passes...)
		if err != nil {
			return 0, err
		}
		if err := sink.RecordPassResults(ctx, passResults); err != nil {
			return 0, err
		}
		all = append(all, passResults...)
	}
	if err := sink.Finish(ctx); err != nil {
		return 0, err
	}

	for _, v := range mem.Values() {
		fmt.Fprintln(out, v.String())
	}
	for _, r := range all {
		if !r.Passed() {
			failed++
		}
		fmt.Fprintln(out, r.String())
	}
	return failed, nil
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}
