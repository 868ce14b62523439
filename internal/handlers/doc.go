// Package handlers provides the HTTP surface of the extraction service.
//
// It includes handlers for:
//   - Creating jobs and polling their status
//   - Downloading finished artifacts
//   - Live streaming without a job
//   - Triggering the cleanup sweep
//   - Health checks and version information
package handlers
