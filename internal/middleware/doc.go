// Package middleware provides HTTP middleware for the extraction service.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with job IDs collapsed into one label value
//
// Both wrappers pass Flush through, so streamed audio is not buffered.
package middleware
