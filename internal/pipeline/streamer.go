package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"media-extractor/internal/extractor"
	"media-extractor/internal/identity"
	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
	"media-extractor/internal/models"
	"media-extractor/internal/procs"
	"media-extractor/internal/quality"
	"media-extractor/internal/transcoder"
)

// Source is the extraction side of a live stream.
type Source interface {
	Probe(ctx context.Context, url string) (*extractor.Metadata, error)
	Binary() string
	StreamArgs(url string) []string
}

// Encoder is the transcoding side of a live stream.
type Encoder interface {
	Binary() string
	StreamArgs(opts transcoder.Options) []string
}

// StreamInfo is known before the first byte is written, so callers can set
// response headers from it.
type StreamInfo struct {
	Identity string
	Title    string
	Filename string
	Duration float64
	Bitrate  string
	Advisory string
}

// Streamer pipes a source through the encoder straight into a sink.
type Streamer struct {
	source    Source
	encoder   Encoder
	registry  *procs.Registry
	waitDelay time.Duration
	log       logging.Logger
}

// NewStreamer creates a Streamer.
func NewStreamer(source Source, encoder Encoder) *Streamer {
	return &Streamer{
		source:    source,
		encoder:   encoder,
		registry:  procs.NewRegistry("stream"),
		waitDelay: 2 * time.Second,
		log:       logging.Named("stream"),
	}
}

// Stream resolves ref, applies the quality policy to the probed duration,
// calls prepare with the result, then runs extractor | transcoder into sink.
// prepare may be nil; a prepare error aborts before any process starts.
func (s *Streamer) Stream(ctx context.Context, ref string, params models.Params, sink io.Writer, prepare func(StreamInfo) error) (*StreamInfo, error) {
	id, err := identity.Resolve(ref)
	if err != nil {
		return nil, err
	}

	requested, err := quality.Normalize(params.Bitrate)
	if err != nil {
		return nil, err
	}

	url := identity.CanonicalURL(id)
	meta, err := s.source.Probe(ctx, url)
	if err != nil {
		metrics.StreamsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	decision := quality.Apply(requested, meta.Duration)
	if decision.Clamped() {
		metrics.QualityClampsTotal.Inc()
	}

	info := &StreamInfo{
		Identity: id,
		Title:    meta.Title,
		Filename: models.DownloadFilename(meta.Title, id),
		Duration: meta.Duration,
		Bitrate:  decision.Effective,
		Advisory: decision.Advisory,
	}

	if prepare != nil {
		if err := prepare(*info); err != nil {
			return info, err
		}
	}

	opts := transcoder.Options{
		Bitrate:      decision.Effective,
		TrimStart:    params.TrimStart,
		TrimDuration: params.TrimDuration(),
	}
	chain := NewChain([]Stage{
		Command("extract", s.source.Binary(), s.source.StreamArgs(url)...),
		Command("transcode", s.encoder.Binary(), s.encoder.StreamArgs(opts)...),
	}, WithWaitDelay(s.waitDelay), WithRegistry(s.registry))

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	start := time.Now()
	n, err := chain.Run(ctx, sink)
	metrics.StreamBytesTotal.Add(float64(n))

	outcome := classify(err)
	metrics.StreamsTotal.WithLabelValues(outcome).Inc()

	switch outcome {
	case "completed":
		s.log.Info("streamed %s (%s) %d bytes in %v", id, decision.Effective, n, time.Since(start).Round(time.Millisecond))
		return info, nil
	case "client_gone":
		s.log.Info("client left stream of %s after %d bytes", id, n)
	default:
		s.log.Warn("stream of %s failed after %d bytes: %v", id, n, err)
	}
	return info, err
}

// Cleanup kills the processes of every running stream.
func (s *Streamer) Cleanup() {
	s.registry.Cleanup()
}

// Active returns the number of processes belonging to running streams.
func (s *Streamer) Active() int {
	return s.registry.Len()
}

func classify(err error) string {
	var sinkErr *SinkError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &sinkErr), errors.Is(err, context.Canceled):
		return "client_gone"
	default:
		return "failed"
	}
}

// Describe returns a short, caller-safe description of a stream error.
func Describe(err error) string {
	var stageErr *StageError
	var xerr *extractor.Error
	switch {
	case errors.As(err, &xerr):
		return xerr.Public()
	case errors.As(err, &stageErr):
		return fmt.Sprintf("%s stage failed", stageErr.Stage)
	default:
		return "stream failed"
	}
}
