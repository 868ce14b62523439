// Package memory keeps the extractor inside its container memory limit.
//
// [ConfigureFromEnv] derives GOMEMLIMIT from MEMORY_LIMIT (usually injected
// with the Kubernetes Downward API) and MEMORY_RATIO. The default ratio of
// 0.75 leaves a quarter of the container for yt-dlp and ffmpeg, whose memory
// the Go runtime cannot see.
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//
// A [Monitor] samples heap usage and acts as the worker pool's admission
// gate: once the heap crosses the critical watermark, worker slots finish
// their current job but wait in [Monitor.WaitIfPaused] before taking the
// next one, until usage drops back under the high watermark.
package memory
