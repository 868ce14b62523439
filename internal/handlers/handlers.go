package handlers

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"media-extractor/internal/jobs"
	"media-extractor/internal/models"
	"media-extractor/internal/pipeline"
	"media-extractor/internal/streaming"
)

// JobService is the part of jobs.Manager the HTTP surface uses.
type JobService interface {
	CreateJob(ctx context.Context, ref string, params models.Params) (string, error)
	GetStatus(ctx context.Context, id string) (models.JobView, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetArtifactLocation(ctx context.Context, id string) (string, bool, error)
	StreamToSink(ctx context.Context, ref string, params models.Params, sink io.Writer, prepare func(pipeline.StreamInfo) error) error
	RunCleanupSweep(ctx context.Context) (jobs.CleanupReport, error)
}

// PoolStats reports worker pool occupancy for health checks.
type PoolStats interface {
	Size() int
	Busy() int
	QueueDepth() int
}

// Pinger checks the job store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StreamStats reports live streams.
type StreamStats interface {
	Active() int
}

// Handlers serves the job API.
type Handlers struct {
	jobs    JobService
	pool    PoolStats
	store   Pinger
	streams StreamStats

	sinkConfig streaming.SinkConfig
	apiMode    bool
	started    time.Time
	ready      atomic.Bool
}

// Options wires optional health sources into Handlers.
type Options struct {
	Pool       PoolStats
	Store      Pinger
	Streams    StreamStats
	SinkConfig *streaming.SinkConfig

	// APIMode advertises the paid conversion mode on /version.
	APIMode bool
}

// New creates Handlers. The service reports not-ready until SetReady(true).
func New(svc JobService, opts Options) *Handlers {
	h := &Handlers{
		jobs:       svc,
		pool:       opts.Pool,
		store:      opts.Store,
		streams:    opts.Streams,
		sinkConfig: streaming.DefaultSinkConfig(),
		apiMode:    opts.APIMode,
		started:    time.Now(),
	}
	if opts.SinkConfig != nil {
		h.sinkConfig = *opts.SinkConfig
	}
	return h
}

// SetReady flips readiness once the job manager has started, and back
// during shutdown.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}
