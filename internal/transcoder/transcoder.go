package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-extractor/internal/logging"
	"media-extractor/internal/mediatypes"
	"media-extractor/internal/metrics"
	"media-extractor/internal/procs"
	"media-extractor/internal/quality"
)

// DefaultBinary is looked up on PATH when no path is configured.
const DefaultBinary = "ffmpeg"

// OutputExt is the extension of every artifact the transcoder produces.
const OutputExt = mediatypes.MP3Ext

// Options describes one conversion.
type Options struct {
	// Bitrate is an audio bitrate label such as "192k".
	Bitrate string
	// TrimStart is the offset in seconds to start from. Zero means the start.
	TrimStart float64
	// TrimDuration is the length in seconds to keep. Zero means to the end.
	TrimDuration float64
}

// HasTrim reports whether either trim bound is set.
func (o Options) HasTrim() bool {
	return o.TrimStart > 0 || o.TrimDuration > 0
}

// Error is a transcoding failure. Message is safe to show to callers;
// Detail holds the tool's stderr tail.
type Error struct {
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	return "transcoder: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Transcoder runs FFmpeg. It is safe for concurrent use.
type Transcoder struct {
	binary   string
	registry *procs.Registry
	log      logging.Logger
}

// New creates a new Transcoder instance.
func New(binary string) *Transcoder {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Transcoder{
		binary:   binary,
		registry: procs.NewRegistry("transcoder"),
		log:      logging.Named("transcoder"),
	}
}

// Binary returns the configured executable.
func (t *Transcoder) Binary() string {
	return t.binary
}

// Version returns the first line of `ffmpeg -version`.
func (t *Transcoder) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, t.binary, "-version").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}

// NeedsTranscode reports whether a source can be used as the artifact
// unchanged. That is only the case for an untrimmed MP3 whose bitrate
// (sourceKbps, zero if unknown) does not exceed the target.
func NeedsTranscode(sourcePath string, sourceKbps float64, opts Options) bool {
	if opts.HasTrim() {
		return true
	}
	if !mediatypes.IsMP3(filepath.Ext(sourcePath)) {
		return true
	}
	target, err := quality.ParseBitrate(opts.Bitrate)
	if err != nil || sourceKbps <= 0 {
		return true
	}
	return sourceKbps > float64(target)
}

// FileArgs builds the argument list for a file-to-file conversion.
func FileArgs(input, output string, opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	args = append(args, inputArgs(input, opts)...)
	args = append(args, encodeArgs(opts)...)
	return append(args, output)
}

// StreamArgs builds the argument list for a stdin-to-stdout conversion.
func StreamArgs(opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs("pipe:0", opts)...)
	args = append(args, encodeArgs(opts)...)
	return append(args, "pipe:1")
}

// StreamArgs is the method form of StreamArgs, for callers holding a Transcoder.
func (t *Transcoder) StreamArgs(opts Options) []string {
	return StreamArgs(opts)
}

func inputArgs(input string, opts Options) []string {
	var args []string
	if opts.TrimStart > 0 {
		args = append(args, "-ss", formatSeconds(opts.TrimStart))
	}
	args = append(args, "-i", input)
	if opts.TrimDuration > 0 {
		args = append(args, "-t", formatSeconds(opts.TrimDuration))
	}
	return args
}

func encodeArgs(opts Options) []string {
	bitrate, err := quality.Normalize(opts.Bitrate)
	if err != nil {
		bitrate = quality.DefaultBitrate
	}
	return []string{
		"-vn",
		"-map_metadata", "-1",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// Transcode converts input into an MP3 at output.
func (t *Transcoder) Transcode(ctx context.Context, input, output string, opts Options) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, t.binary, FileArgs(input, output, opts)...)
	procs.Configure(cmd, 0)
	stderr := procs.NewRingBuffer(32 * 1024)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues("transcoder", "transcode", "error").Inc()
		return &Error{Message: "failed to start transcoding tool", Detail: err.Error(), Err: err}
	}

	untrack := t.registry.Track(input, cmd)
	err := cmd.Wait()
	untrack()

	metrics.ToolDuration.WithLabelValues("transcoder", "transcode").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues("transcoder", "transcode", "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Message: "transcoding interrupted", Err: ctxErr}
		}
		t.log.Error("FFmpeg stderr: %s", stderr.Tail(10))
		return &Error{Message: "transcoding failed", Detail: stderr.Tail(20), Err: fmt.Errorf("ffmpeg: %w", err)}
	}

	metrics.ToolInvocationsTotal.WithLabelValues("transcoder", "transcode", "success").Inc()
	t.log.Debug("transcoded %s -> %s in %v", input, output, time.Since(start).Round(time.Millisecond))
	return nil
}

// Cleanup stops all active transcoding processes.
func (t *Transcoder) Cleanup() {
	t.registry.Cleanup()
}
