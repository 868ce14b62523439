// Package startup handles configuration loading and the startup and
// shutdown logging of the extractor server.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig]:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics server (default: true)
//   - DATA_DIR: Base directory for everything below (default: /data)
//   - DATABASE_DIR: SQLite directory (default: $DATA_DIR/database)
//   - ARTIFACT_DIR: Finished artifacts (default: $DATA_DIR/artifacts)
//   - TEMP_DIR: Per-job scratch directories (default: $DATA_DIR/tmp)
//   - WORKER_COUNT: Worker slots (default: two per CPU, at most 16)
//   - WORKER_QUEUE_SIZE: Jobs waiting for a slot (default: 64)
//   - JOB_TIMEOUT: Per-job execution limit (default: 30m)
//   - JOB_TTL: Job and artifact retention (default: 24h)
//   - CACHE_TTL: Artifact cache retention (default: JOB_TTL)
//   - CACHE_MAX_ENTRIES: Cache ceiling (default: 1000)
//   - CACHE_SWEEP_INTERVAL: Cache purge interval (default: 5m)
//   - DEDUP_LOCK_TTL: Lifetime of a per-source lock (default: 30m)
//   - CLEANUP_INTERVAL: Expiry sweep interval (default: 10m)
//   - EXTRACTOR_PATH: yt-dlp binary (default: yt-dlp)
//   - FFMPEG_PATH: ffmpeg binary (default: ffmpeg)
//   - CONVERTER_API_URL, CONVERTER_API_KEY, CONVERTER_TIMEOUT: paid
//     conversion API; API mode is disabled when the URL is unset
//   - CONVERTER_RPS: outbound request rate to the API (default: 2, negative
//     disables the limit)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//
// Durations use Go syntax ("90s", "24h"). Invalid values fall back to the
// default with a warning; values that cannot work (zero workers, a
// non-positive TTL) stop startup.
//
// # Build Information
//
// Version, Commit and BuildTime are set at build time:
//
//	go build -ldflags "-X media-extractor/internal/startup.Version=1.0.0"
package startup
