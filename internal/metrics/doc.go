// Package metrics provides Prometheus instrumentation for the media extractor.
//
// All metrics are prefixed with "media_extractor_". They are grouped as:
//
//   - HTTP: request counts, durations and in-flight requests
//   - Database: query counts and durations, SQLite file sizes
//   - Jobs: creations by origin, terminal outcomes, dispatch-to-finish
//     duration, current counts by status, rejections, quality clamps and
//     cleanup sweep activity
//   - Worker pool: slot count, busy slots, queue depth, recovered panics
//   - Dedup: lock acquisition results and reclaimed expired locks
//   - Artifact cache: hits, misses and evictions by reason, entry count
//   - External tools: yt-dlp/ffmpeg invocations and run times, paid API calls
//   - Streaming: active live pipes, outcomes and bytes delivered
//
// Counters and histograms are updated inline by the owning packages. The
// Collector refreshes gauges derived from the database on an interval.
//
// Metrics are served by promhttp on a dedicated port (METRICS_PORT).
package metrics
