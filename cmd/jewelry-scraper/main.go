package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"jewelry-scraper/pkg/config"
	applog "jewelry-scraper/pkg/log"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/orchestrate"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/watch"
	"jewelry-scraper/pkg/webhook"
)

const version = "1.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "webhook":
		runWebhook(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("jewelry-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `jewelry-scraper - Jewelry listing crawler and image pipeline

Usage:
  jewelry-scraper <command> [options]

Commands:
  crawl       Crawl configured sites and persist accepted items
  watch       Re-crawl sites on a fixed interval
  webhook     Serve the enhancement-service callback endpoint
  validate    Validate configuration file
  list-sites  List available site keys
  version     Show version info

Run 'jewelry-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// selectSiteKeys resolves the -site/-sites flags; nil means every
// configured site.
func selectSiteKeys(siteKey, sites string) []string {
	if sites != "" {
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				keys = append(keys, s)
			}
		}
		return keys
	}
	if siteKey != "" {
		return []string{siteKey}
	}
	return nil
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	resume := fs.Bool("resume", false, "Reuse existing state DBs and skip settled items")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jewelry-scraper crawl [options]\n\nAll configured sites are crawled unless -site or -sites narrows the run.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper crawl -site vintage_gems\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper crawl -sites vintage_gems,antique_mall -resume\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper crawl\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	executeCrawl(*configFile, selectSiteKeys(*siteKey, *sites), *logLevel, *pprofAddr, *resume)
}

// executeCrawl runs the orchestrator once over the selected sites
func executeCrawl(configFile string, siteKeys []string, logLevelStr, pprofAddr string, isResume bool) {
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)

	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)
	logAppConfig(appCfg, log)

	if len(siteKeys) == 0 {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		log.Infof("No site selection given, crawling all %d configured sites", len(siteKeys))
	}

	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		log.Fatalf("Invalid site keys: %v", err)
	}
	validateSiteConfigs(appCfg, siteKeys, log)
	startPprof(pprofAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Goroutine to handle signals -> cancel context -> force exit on second signal
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	orch := orchestrate.New(appCfg, siteKeys, isResume, log, metrics.New())
	summary := orch.Run(ctx)

	if ctx.Err() != nil {
		log.Warn("Crawl cancelled gracefully.")
		os.Exit(0)
	}
	for _, r := range summary.Sites {
		if !r.Success {
			os.Exit(1)
		}
	}

	log.Info("Crawl completed successfully.")
	os.Exit(0)
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	interval := fs.String("interval", "", "Crawl interval, e.g. 30m, 12h, 7d (default: watch_interval from config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	full := fs.Bool("full", false, "Wipe per-site state and recrawl everything each cycle")
	metricsAddr := fs.String("metrics", "", "Prometheus metrics address, e.g. :9090 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jewelry-scraper watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper watch -site vintage_gems -interval 12h\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper watch -metrics :9090\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	executeWatch(*configFile, selectSiteKeys(*siteKey, *sites), *interval, *logLevel, *metricsAddr, !*full)
}

// executeWatch runs the watch scheduler
func executeWatch(configFile string, siteKeys []string, intervalStr, logLevelStr, metricsAddr string, resume bool) {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)

	interval := appCfg.WatchInterval
	if intervalStr != "" {
		parsed, err := watch.ParseInterval(intervalStr)
		if err != nil {
			log.Fatalf("Invalid interval: %v", err)
		}
		interval = parsed
	}
	log.Infof("Watch interval: %v", interval)

	if len(siteKeys) == 0 {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		log.Infof("No site selection given, watching all %d configured sites", len(siteKeys))
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		log.Fatalf("Invalid site keys: %v", err)
	}
	validateSiteConfigs(appCfg, siteKeys, log)

	m := metrics.New()
	startMetrics(metricsAddr, m, log)

	scheduler := watch.NewScheduler(appCfg, siteKeys, interval, resume, log, m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, stopping watch...", sig)
		scheduler.Stop()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	if err := scheduler.Run(); err != nil {
		log.Fatalf("Watch scheduler error: %v", err)
	}

	log.Info("Watch mode stopped")
}

// runWebhook handles the webhook subcommand
func runWebhook(args []string) {
	fs := flag.NewFlagSet("webhook", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site whose state DB receives callback updates (the DB must not be open in a concurrent crawl)")
	addr := fs.String("addr", "", "Listen address (default: webhook.addr from config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jewelry-scraper webhook [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper webhook -site vintage_gems\n")
		fmt.Fprintf(os.Stderr, "  jewelry-scraper webhook -addr :9000\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	executeWebhook(*configFile, *siteKey, *addr, *logLevel)
}

// executeWebhook runs the callback server until signalled
func executeWebhook(configFile, siteKey, addr, logLevelStr string) {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)

	if addr != "" {
		appCfg.Webhook.Addr = addr
	}
	if appCfg.Webhook.Secret == "" {
		log.Fatal("webhook.secret is required; callbacks cannot be verified without it")
	}

	var store storage.ItemStore
	if siteKey != "" {
		if err := orchestrate.ValidateSiteKeys(appCfg, []string{siteKey}); err != nil {
			log.Fatalf("Invalid site key: %v", err)
		}
		bs, err := storage.NewBadgerStore(appCfg.StateDir, siteKey, true, log.WithField("component", "webhook"))
		if err != nil {
			log.Fatalf("Failed to open state DB for site '%s': %v", siteKey, err)
		}
		defer bs.Close()
		store = bs
		log.Infof("Callback updates will be applied to site '%s'", siteKey)
	} else {
		log.Info("No -site given; callbacks are verified and logged but not applied")
	}

	var m *metrics.Metrics
	if appCfg.Webhook.EnableMetrics {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, stopping webhook server...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	srv := webhook.NewServer(appCfg.Webhook, store, m, log)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Webhook server error: %v", err)
	}

	log.Info("Webhook server stopped")
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jewelry-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Validate app config
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if siteKey != "" {
		// Validate specific site
		siteCfg, ok := appCfg.Sites[siteKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", siteKey, err)
			return 1
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", siteKey, w)
		}
		fmt.Fprintf(stdout, "OK: Site '%s' configuration is valid\n", siteKey)
	} else {
		// Validate all sites
		hasError := false
		keys := make([]string, 0, len(appCfg.Sites))
		for k := range appCfg.Sites {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			siteCfg := appCfg.Sites[key]
			siteWarnings, err := siteCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range siteWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintf(stdout, "\nEffective settings:\n")
	fmt.Fprintf(stdout, "  Output dir:   %s (%s backend)\n", appCfg.OutputBaseDir, appCfg.StorageBackend)
	fmt.Fprintf(stdout, "  State dir:    %s\n", appCfg.StateDir)
	fmt.Fprintf(stdout, "  Pagination:   %v between pages, max %d pages\n", appCfg.PageDelay, appCfg.MaxPages)
	fmt.Fprintf(stdout, "  Concurrency:  %d fetches, %d per host, %d image downloads\n",
		appCfg.MaxConcurrentFetches, appCfg.MaxRequestsPerHost, appCfg.MaxConcurrentImages)
	fmt.Fprintf(stdout, "  Validation:   >=%d images per item, min resolution %dx%d\n",
		appCfg.MinImagesPerItem, appCfg.MinImageResolution.Width, appCfg.MinImageResolution.Height)
	fmt.Fprintf(stdout, "  Uploads:      enabled=%t\n", appCfg.Upload.Enabled)

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jewelry-scraper list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListSites(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Base URL: %s\n", site.BaseURL)
		fmt.Fprintf(stdout, "    Categories: %s\n", strings.Join(categoryNames(site), ", "))
		if len(site.Styles) > 0 {
			fmt.Fprintf(stdout, "    Styles: %s\n", strings.Join(site.Styles, ", "))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// categoryNames returns the site's configured category names, sorted.
func categoryNames(site config.SiteConfig) []string {
	names := make([]string, 0, len(site.CategoryPaths))
	for name := range site.CategoryPaths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := applog.New(logLevelStr)
	log.Infof("Log level: %s", log.GetLevel())
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	return appCfg
}

// validateSiteConfigs validates the configuration for each site key and logs
// warnings. Applied defaults are written back so the crawl sees them.
func validateSiteConfigs(appCfg *config.AppConfig, siteKeys []string, log *logrus.Logger) {
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			log.Fatalf("Site '%s' configuration error: %v", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetrics serves the Prometheus registry if addr is non-empty.
func startMetrics(addr string, m *metrics.Metrics, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("Serving Prometheus metrics at http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error: %v", err)
		}
	}()
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Fetches:%d, PerHost:%d, ImageFetches:%d",
		appCfg.MaxConcurrentFetches, appCfg.MaxRequestsPerHost, appCfg.MaxConcurrentImages)
	log.Infof("Global Config: DefaultDelay:%v, PageDelay:%v, MaxPages:%d, StateDir:%s, OutputDir:%s",
		appCfg.DefaultDelayPerHost, appCfg.PageDelay, appCfg.MaxPages, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Storage: Backend:%s, Bucket:'%s'",
		appCfg.StorageBackend, appCfg.GCSBucket)
	log.Infof("Global Config Images: Skip:%t, MinResolution:%dx%d, JPEGQuality:%d, MaxSize:%d bytes",
		appCfg.SkipImages, appCfg.MinImageResolution.Width, appCfg.MinImageResolution.Height,
		appCfg.JPEGQuality, appCfg.MaxImageSizeBytes)
	log.Infof("Global Config Validation: MinImagesPerItem:%d, MinItemsPerCategory:%d",
		appCfg.MinImagesPerItem, appCfg.MinItemsPerCategory)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout)
	log.Infof("Global Config Upload: Enabled:%t, RateLimit:%d/h, Folder:'%s'",
		appCfg.Upload.Enabled, appCfg.Upload.RateLimitPerHour, appCfg.Upload.Folder)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
