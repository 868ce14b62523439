// Package transcoder wraps FFmpeg for audio conversion.
//
// It supports:
//   - File-to-file conversion of a downloaded source into an MP3 artifact
//   - Trimming by start offset and duration
//   - Argument lists for pipe mode (stdin to stdout) used by live streams
//   - Tracking of running processes so they can be killed at shutdown
//
// FFmpeg must be installed and reachable at the configured path.
package transcoder
