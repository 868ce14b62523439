package startup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"media-extractor/internal/logging"
	"media-extractor/internal/workers"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	Port           string
	MetricsPort    string
	MetricsEnabled bool

	DataDir     string
	DatabaseDir string
	ArtifactDir string
	TempDir     string

	WorkerCount     int
	WorkerQueueSize int
	JobTimeout      time.Duration

	JobTTL             time.Duration
	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
	DedupLockTTL       time.Duration
	CleanupInterval    time.Duration

	ExtractorPath string
	FFmpegPath    string

	ConverterURL     string
	ConverterKey     string
	ConverterTimeout time.Duration
	ConverterRPS     float64

	LogHealthChecks bool

	// Derived paths
	DatabasePath string
}

// ConverterEnabled reports whether API mode can be offered.
func (c *Config) ConverterEnabled() bool {
	return c.ConverterURL != ""
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	dataDir := getEnv("DATA_DIR", "/data")

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		DataDir:     dataDir,
		DatabaseDir: getEnv("DATABASE_DIR", filepath.Join(dataDir, "database")),
		ArtifactDir: getEnv("ARTIFACT_DIR", filepath.Join(dataDir, "artifacts")),
		TempDir:     getEnv("TEMP_DIR", filepath.Join(dataDir, "tmp")),

		WorkerCount:     getEnvInt("WORKER_COUNT", workers.DefaultSlots()),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 64),
		JobTimeout:      getEnvDuration("JOB_TIMEOUT", 30*time.Minute),

		JobTTL:             getEnvDuration("JOB_TTL", 24*time.Hour),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		DedupLockTTL:       getEnvDuration("DEDUP_LOCK_TTL", 30*time.Minute),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),

		ExtractorPath: getEnv("EXTRACTOR_PATH", "yt-dlp"),
		FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),

		ConverterURL:     getEnv("CONVERTER_API_URL", ""),
		ConverterKey:     getEnv("CONVERTER_API_KEY", ""),
		ConverterTimeout: getEnvDuration("CONVERTER_TIMEOUT", 2*time.Minute),
		ConverterRPS:     getEnvFloat("CONVERTER_RPS", 2),

		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),
	}
	// Artifacts must outlive the cache entries pointing at them.
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.JobTTL)

	logging.Info("  PORT:                 %s", cfg.Port)
	logging.Info("  METRICS_PORT:         %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:      %v", cfg.MetricsEnabled)
	logging.Info("  DATA_DIR:             %s", cfg.DataDir)
	logging.Info("  DATABASE_DIR:         %s", cfg.DatabaseDir)
	logging.Info("  ARTIFACT_DIR:         %s", cfg.ArtifactDir)
	logging.Info("  TEMP_DIR:             %s", cfg.TempDir)
	logging.Info("  WORKER_COUNT:         %d", cfg.WorkerCount)
	logging.Info("  WORKER_QUEUE_SIZE:    %d", cfg.WorkerQueueSize)
	logging.Info("  JOB_TIMEOUT:          %v", cfg.JobTimeout)
	logging.Info("  JOB_TTL:              %v", cfg.JobTTL)
	logging.Info("  CACHE_TTL:            %v", cfg.CacheTTL)
	logging.Info("  CACHE_MAX_ENTRIES:    %d", cfg.CacheMaxEntries)
	logging.Info("  CACHE_SWEEP_INTERVAL: %v", cfg.CacheSweepInterval)
	logging.Info("  DEDUP_LOCK_TTL:       %v", cfg.DedupLockTTL)
	logging.Info("  CLEANUP_INTERVAL:     %v", cfg.CleanupInterval)
	logging.Info("  EXTRACTOR_PATH:       %s", cfg.ExtractorPath)
	logging.Info("  FFMPEG_PATH:          %s", cfg.FFmpegPath)
	logging.Info("  CONVERTER_API_URL:    %s", valueOrUnset(cfg.ConverterURL))
	logging.Info("  CONVERTER_API_KEY:    %s", redact(cfg.ConverterKey))
	logging.Info("  CONVERTER_TIMEOUT:    %v", cfg.ConverterTimeout)
	logging.Info("  CONVERTER_RPS:        %g", cfg.ConverterRPS)
	logging.Info("  LOG_HEALTH_CHECKS:    %v", cfg.LogHealthChecks)
	logging.Info("  LOG_LEVEL:            %s", logging.GetLevel())

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	dirs := []struct {
		name string
		path *string
	}{
		{"database", &cfg.DatabaseDir},
		{"artifact", &cfg.ArtifactDir},
		{"temp", &cfg.TempDir},
	}
	for _, d := range dirs {
		abs, err := filepath.Abs(*d.path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s directory path: %w", d.name, err)
		}
		*d.path = abs

		if err := ensureDirectory(abs, d.name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := testWriteAccess(abs); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
		logging.Info("  [OK] %-8s %s", d.name, abs)
	}

	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "jobs.db")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    File mode:   ENABLED")
	logging.Info("    Streaming:   ENABLED")
	logging.Info("    API mode:    %s", enabledString(cfg.ConverterEnabled()))
	logging.Info("    Metrics:     %s", enabledString(cfg.MetricsEnabled))

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.WorkerQueueSize < 1 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be at least 1, got %d", c.WorkerQueueSize)
	}
	for name, d := range map[string]time.Duration{
		"JOB_TIMEOUT":    c.JobTimeout,
		"JOB_TTL":        c.JobTTL,
		"CACHE_TTL":      c.CacheTTL,
		"DEDUP_LOCK_TTL": c.DedupLockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.CacheTTL > c.JobTTL {
		logging.Warn("  CACHE_TTL (%v) exceeds JOB_TTL (%v); cache hits may point at removed artifacts", c.CacheTTL, c.JobTTL)
	}
	if c.DedupLockTTL < c.JobTimeout {
		logging.Warn("  DEDUP_LOCK_TTL (%v) is shorter than JOB_TIMEOUT (%v); slow jobs may lose their lock", c.DedupLockTTL, c.JobTimeout)
	}
	if c.CleanupInterval >= c.DedupLockTTL {
		logging.Warn("  CLEANUP_INTERVAL (%v) is not shorter than DEDUP_LOCK_TTL (%v); locks of queued jobs may lapse", c.CleanupInterval, c.DedupLockTTL)
	}
	return nil
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}

func redact(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "********"
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// Versioner is an external tool that can report its version.
type Versioner interface {
	Binary() string
	Version(ctx context.Context) (string, error)
}

// LogToolsInit checks each external tool. Missing tools are reported but do
// not stop startup: jobs needing them fail with a clear error instead.
func LogToolsInit(tools ...Versioner) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("EXTERNAL TOOLS")
	logging.Info("------------------------------------------------------------")

	for _, tool := range tools {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		version, err := tool.Version(ctx)
		cancel()

		if err != nil {
			logging.Warn("  %s check failed: %v", tool.Binary(), err)
			continue
		}
		logging.Info("  [OK] %s: %s", tool.Binary(), version)
	}
}

// LogWorkersInit logs worker pool sizing
func LogWorkersInit(slots, queue int, memoryLimit int64) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("WORKER POOL")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Slots:          %d", slots)
	logging.Info("  Queue size:     %d", queue)
	if memoryLimit > 0 {
		logging.Info("  Memory gate:    ENABLED (%d MiB limit)", memoryLimit>>20)
	} else {
		logging.Info("  Memory gate:    DISABLED (no memory limit)")
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Info("  %d routes registered", len(routes))

	if logging.IsDebugEnabled() {
		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   __  ___       ___        ____     __               __
  /  |/  /__ ___/ (_)__ _  / __/_ __/ /________ _____/ /_
 / /|_/ / -_) _  / / _ '/ / _/ \ \ / __/ __/ _ '/ __/ __/
/_/  /_/\__/\_,_/_/\_,_/ /___//_\_\\__/_/  \_,_/\__/\__/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logging.Warn("Invalid number value for %s: %q, using default: %g", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
