// Package extractor wraps the yt-dlp command line tool.
//
// Three operations are used: a metadata probe (JSON dump, no download), a
// best-audio download into a job's temp directory, and the argument list for
// writing the raw source to stdout in live pipe mode.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
	"media-extractor/internal/procs"
)

const (
	// DefaultBinary is looked up on PATH when no path is configured.
	DefaultBinary = "yt-dlp"

	// SourceBase is the file name (without extension) downloads are written to.
	SourceBase = "source"

	defaultProbeTimeout = 60 * time.Second
	stderrCapacity      = 32 * 1024
)

// Metadata is the subset of the probe output the service uses.
type Metadata struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
	IsLive   bool    `json:"is_live"`
	// ABR is the best audio bitrate in kbps, when the site reports one.
	ABR float64 `json:"abr"`
}

// Error is an extraction failure. Message is always one of a fixed set of
// strings and safe to show to callers; Detail holds the tool's stderr tail.
type Error struct {
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extractor %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Public returns Message if it is one of the fixed caller-facing messages,
// otherwise the generic failure message.
func (e *Error) Public() string {
	if publicMessages[e.Message] {
		return e.Message
	}
	return MsgFailed
}

// Extractor runs yt-dlp. It is safe for concurrent use.
type Extractor struct {
	binary       string
	probeTimeout time.Duration
	probes       singleflight.Group
	registry     *procs.Registry
	log          logging.Logger
}

// New creates an Extractor for the given binary path.
func New(binary string) *Extractor {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Extractor{
		binary:       binary,
		probeTimeout: defaultProbeTimeout,
		registry:     procs.NewRegistry("extractor"),
		log:          logging.Named("extractor"),
	}
}

// Binary returns the configured executable.
func (x *Extractor) Binary() string {
	return x.binary
}

// Version runs `yt-dlp --version`.
func (x *Extractor) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, x.binary, "--version").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Probe fetches metadata without downloading. Concurrent probes for the same
// URL share a single tool invocation; the shared run is not tied to any one
// caller's context, each caller still stops waiting when its own ctx ends.
func (x *Extractor) Probe(ctx context.Context, url string) (*Metadata, error) {
	ch := x.probes.DoChan(url, func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.probeTimeout)
		defer cancel()
		return x.probe(probeCtx, url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		meta := *res.Val.(*Metadata)
		return &meta, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (x *Extractor) probe(ctx context.Context, url string) (*Metadata, error) {
	args := []string{"--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", url}

	var stdout bytes.Buffer
	stderr := procs.NewRingBuffer(stderrCapacity)
	if err := x.run(ctx, "probe", url, args, &stdout, stderr); err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, &Error{Op: "probe", Message: MsgUnreadable, Detail: err.Error(), Err: err}
	}
	if meta.IsLive {
		return nil, &Error{Op: "probe", Message: MsgLive}
	}

	x.log.Debug("probed %s: %q (%.0fs)", url, meta.Title, meta.Duration)
	return &meta, nil
}

// Download fetches the best audio stream into dir and returns the path of
// the downloaded file.
func (x *Extractor) Download(ctx context.Context, url, dir string) (string, error) {
	args := []string{
		"-f", "bestaudio",
		"--no-playlist",
		"--no-progress",
		"--no-part",
		"-o", filepath.Join(dir, SourceBase+".%(ext)s"),
		url,
	}

	stderr := procs.NewRingBuffer(stderrCapacity)
	if err := x.run(ctx, "download", url, args, nil, stderr); err != nil {
		return "", err
	}

	path, err := findDownload(dir)
	if err != nil {
		return "", &Error{Op: "download", Message: MsgNoOutput, Detail: stderr.Tail(20), Err: err}
	}
	return path, nil
}

// StreamArgs returns the arguments that make yt-dlp write the best audio
// stream of url to stdout.
func (x *Extractor) StreamArgs(url string) []string {
	return []string{
		"-f", "bestaudio",
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"-o", "-",
		url,
	}
}

func (x *Extractor) run(ctx context.Context, op, url string, args []string, stdout *bytes.Buffer, stderr *procs.RingBuffer) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, x.binary, args...)
	procs.Configure(cmd, 0)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues("extractor", op, "error").Inc()
		return &Error{Op: op, Message: MsgNotStarting, Detail: err.Error(), Err: err}
	}
	untrack := x.registry.Track(op+" "+url, cmd)
	err := cmd.Wait()
	untrack()

	metrics.ToolDuration.WithLabelValues("extractor", op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues("extractor", op, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Op: op, Message: MsgInterrupted, Err: ctxErr}
		}
		x.log.Warn("%s failed for %s: %v", op, url, err)
		return &Error{Op: op, Message: describeFailure(stderr), Detail: stderr.Tail(20), Err: err}
	}

	metrics.ToolInvocationsTotal.WithLabelValues("extractor", op, "success").Inc()
	return nil
}

// Cleanup kills any running extraction processes.
func (x *Extractor) Cleanup() {
	x.registry.Cleanup()
}

// Messages callers may see for a failed yt-dlp run. The stderr text itself
// only ever goes to Error.Detail.
const (
	MsgUnavailable   = "Video unavailable"
	MsgPrivate       = "Private video"
	MsgAgeRestricted = "Age-restricted video"
	MsgGeoBlocked    = "Video is not available in this region"
	MsgNotStarted    = "Live event has not started"
	MsgLive          = "live broadcasts are not supported"
	MsgUnreadable    = "unreadable metadata"
	MsgNoOutput      = "no output produced"
	MsgNotStarting   = "failed to start extraction tool"
	MsgInterrupted   = "extraction interrupted"
	MsgFailed        = "extraction failed"
)

var publicMessages = map[string]bool{
	MsgUnavailable: true, MsgPrivate: true, MsgAgeRestricted: true, MsgGeoBlocked: true,
	MsgNotStarted: true, MsgLive: true, MsgUnreadable: true, MsgNoOutput: true,
	MsgNotStarting: true, MsgInterrupted: true, MsgFailed: true,
}

var failureClasses = []struct {
	message string
	needles []string
}{
	{MsgPrivate, []string{"private video", "video is private"}},
	{MsgAgeRestricted, []string{"confirm your age", "age-restricted", "age restricted", "inappropriate for some users"}},
	{MsgGeoBlocked, []string{"available in your country", "blocked it in your country", "geo restrict", "geo-restrict"}},
	{MsgNotStarted, []string{"live event will begin", "premieres in"}},
	{MsgUnavailable, []string{"video unavailable", "video is unavailable", "has been removed", "does not exist", "account associated with this video has been terminated"}},
}

// describeFailure maps yt-dlp's last error line onto a fixed message.
func describeFailure(stderr *procs.RingBuffer) string {
	line := strings.ToLower(stderr.LastLine())
	for _, class := range failureClasses {
		for _, needle := range class.needles {
			if strings.Contains(line, needle) {
				return class.message
			}
		}
	}
	return MsgFailed
}

func findDownload(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, SourceBase+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", errors.New("download produced no file")
}
