package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"media-extractor/internal/cache"
	"media-extractor/internal/database"
	"media-extractor/internal/dedup"
	"media-extractor/internal/extractor"
	"media-extractor/internal/filesystem"
	"media-extractor/internal/identity"
	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
	"media-extractor/internal/models"
	"media-extractor/internal/pipeline"
	"media-extractor/internal/quality"
	"media-extractor/internal/workers"
)

const (
	// DefaultJobTTL is how long jobs and their artifacts are kept.
	DefaultJobTTL = 24 * time.Hour

	// DefaultJobTimeout bounds one pipeline run.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultCleanupInterval is how often the cleanup sweep runs.
	DefaultCleanupInterval = 10 * time.Minute

	storeTimeout = 10 * time.Second
)

// Store is the persistence contract the manager needs. Implemented by
// database.Database.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	FindCompletedJob(ctx context.Context, fingerprint string, now time.Time) (*models.Job, error)
	ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	MarkProcessing(ctx context.Context, id, effectiveBitrate, advisory, title string, duration float64, now time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int, stage string, now time.Time) (bool, error)
	CompleteJob(ctx context.Context, id, location string, size int64, title string, now time.Time) (bool, error)
	FailJob(ctx context.Context, id, message, detail string, now time.Time) (bool, error)
	ExpireJob(ctx context.Context, id string, now time.Time) (bool, error)
	FailUnfinishedJobs(ctx context.Context, message string, now time.Time) (int64, error)
	GetLastCleanupRun(ctx context.Context) (time.Time, error)
	SetLastCleanupRun(ctx context.Context, t time.Time) error
}

// StreamRunner runs live pipe streams. Implemented by pipeline.Streamer.
type StreamRunner interface {
	Stream(ctx context.Context, ref string, params models.Params, sink io.Writer, prepare func(pipeline.StreamInfo) error) (*pipeline.StreamInfo, error)
}

// Config configures a Manager.
type Config struct {
	ArtifactDir string
	TempDir     string

	JobTTL          time.Duration
	JobTimeout      time.Duration
	CleanupInterval time.Duration
	StaleTempAge    time.Duration

	Workers   int
	QueueSize int

	// ProbeConcurrency bounds simultaneous metadata probes. Zero uses the
	// worker count.
	ProbeConcurrency int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps are the collaborators a Manager is built from.
type Deps struct {
	Store     Store
	Dedup     *dedup.Mutex
	Cache     *cache.Cache
	Source    Source
	Encoder   Encoder
	Converter Converter
	Streamer  StreamRunner

	// Gate, if set, holds worker slots back under memory pressure.
	Gate workers.Gate
}

// CleanupReport summarizes one cleanup sweep.
type CleanupReport struct {
	ExpiredJobs      int `json:"expiredJobs"`
	RemovedArtifacts int `json:"removedArtifacts"`
	ClearedLocks     int `json:"clearedLocks"`
	SweptLocks       int `json:"sweptLocks"`
	SweptCache       int `json:"sweptCacheEntries"`
	RemovedTempDirs  int `json:"removedTempDirs"`
	Errors           int `json:"errors"`
}

// Manager is the single entry point for job operations.
type Manager struct {
	cfg        Config
	store      Store
	dedup      *dedup.Mutex
	cache      *cache.Cache
	source     Source
	converter  Converter
	streamer   StreamRunner
	pool       *workers.Pool
	probes     *semaphore.Weighted
	gate       workers.Gate
	strategies map[models.Mode]Strategy
	now        func() time.Time
	log        logging.Logger

	// ctx scopes the asynchronous dispatch goroutines.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]*models.Job

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
}

// New creates a Manager and its worker pool. Call Start before use.
func New(cfg Config, deps Deps) *Manager {
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		store:       deps.Store,
		dedup:       deps.Dedup,
		cache:       deps.Cache,
		source:      deps.Source,
		converter:   deps.Converter,
		streamer:    deps.Streamer,
		gate:        deps.Gate,
		now:         cfg.Now,
		log:         logging.Named("jobs"),
		ctx:         ctx,
		cancel:      cancel,
		inFlight:    make(map[string]*models.Job),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	m.pool = workers.NewPool(workers.PoolConfig{
		Size:        cfg.Workers,
		QueueSize:   cfg.QueueSize,
		TaskTimeout: cfg.JobTimeout,
		Handler:     m.handleEvent,
		Gate:        deps.Gate,
	})

	probeLimit := cfg.ProbeConcurrency
	if probeLimit <= 0 {
		probeLimit = m.pool.Size()
	}
	m.probes = semaphore.NewWeighted(int64(probeLimit))

	m.strategies = map[models.Mode]Strategy{
		models.ModeFile: &fileStrategy{
			source:      deps.Source,
			encoder:     deps.Encoder,
			artifactDir: cfg.ArtifactDir,
			tempDir:     cfg.TempDir,
			retry:       filesystem.DefaultRetryConfig(),
			log:         logging.Named("jobs.file"),
		},
	}
	if deps.Converter != nil {
		m.strategies[models.ModeAPI] = &apiStrategy{converter: deps.Converter}
	}

	return m
}

// Pool exposes the worker pool for health reporting.
func (m *Manager) Pool() *workers.Pool {
	return m.pool
}

// Start recovers jobs orphaned by a previous process, starts the pool and
// cache sweeper, and schedules the cleanup sweep.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		var n int64
		n, err = m.store.FailUnfinishedJobs(ctx, "Interrupted by a service restart", m.now())
		if err != nil {
			err = fmt.Errorf("failed to recover unfinished jobs: %w", err)
			return
		}
		if n > 0 {
			m.log.Warn("marked %d unfinished job(s) from a previous run as failed", n)
		}

		m.pool.Start()
		if m.cache != nil {
			m.cache.Start(m.ctx)
		}
		go m.cleanupLoop()
	})
	return err
}

// Stop aborts pending dispatches, drains the pool and stops background loops.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		close(m.cleanupStop)
		m.cancel()

		dispatched := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(dispatched)
		}()
		select {
		case <-dispatched:
		case <-ctx.Done():
			err = ctx.Err()
		}

		if perr := m.pool.Stop(ctx); perr != nil && err == nil {
			err = perr
		}
		if m.cache != nil {
			m.cache.Stop()
		}

		select {
		case <-m.cleanupDone:
		case <-ctx.Done():
		}
	})
	return err
}

// normalize validates params and fills defaults. allowStream permits
// ModeStream, which only StreamToSink accepts.
func (m *Manager) normalize(params models.Params, allowStream bool) (models.Params, error) {
	bitrate, err := quality.Normalize(params.Bitrate)
	if err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	params.Bitrate = bitrate

	if params.TrimStart < 0 || params.TrimEnd < 0 {
		return params, fmt.Errorf("%w: trim bounds must not be negative", ErrInvalidParams)
	}
	if params.TrimEnd > 0 && params.TrimEnd <= params.TrimStart {
		return params, fmt.Errorf("%w: trim end must be after trim start", ErrInvalidParams)
	}

	mode, ok := models.ParseMode(string(params.Mode))
	if !ok {
		return params, fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, params.Mode)
	}
	if allowStream {
		mode = models.ModeStream
	} else {
		if mode == models.ModeStream {
			return params, fmt.Errorf("%w: stream mode is served by the streaming endpoint", ErrInvalidParams)
		}
		if _, ok := m.strategies[mode]; !ok {
			return params, fmt.Errorf("%w: mode %q is not available", ErrInvalidParams, mode)
		}
		if mode == models.ModeAPI && (m.converter == nil || !m.converter.Enabled()) {
			return params, fmt.Errorf("%w: conversion API is not configured", ErrInvalidParams)
		}
	}
	params.Mode = mode
	return params, nil
}

// CreateJob registers a job for ref and returns its ID without waiting for
// any work. The ID may belong to an existing completed job when the same
// content with the same parameters was already produced.
func (m *Manager) CreateJob(ctx context.Context, ref string, params models.Params) (string, error) {
	id, err := identity.Resolve(ref)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("invalid_reference").Inc()
		return "", err
	}

	params, err = m.normalize(params, false)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("invalid_params").Inc()
		return "", err
	}

	fingerprint := cache.Fingerprint(id, params)

	if jobID, ok := m.fromCache(ctx, ref, id, fingerprint, params); ok {
		return jobID, nil
	}

	jobID := uuid.NewString()

	// A job of this process still working on id owns it even if its lock
	// row has lapsed.
	acquired := false
	if !m.identityInFlight(id) {
		acquired, err = m.dedup.Acquire(ctx, id, jobID)
		if err != nil {
			metrics.JobsRejectedTotal.WithLabelValues("store_error").Inc()
			return "", err
		}
	}
	if !acquired {
		existing, err := m.store.FindCompletedJob(ctx, fingerprint, m.now())
		if err == nil {
			metrics.JobsCreatedTotal.WithLabelValues(string(params.Mode), "attached").Inc()
			m.log.Info("%s is locked, returning completed job %s", id, existing.ID)
			return existing.ID, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			m.log.Warn("collision lookup for %s failed: %v", id, err)
		}
		metrics.JobsRejectedTotal.WithLabelValues("already_processing").Inc()
		return "", ErrAlreadyProcessing
	}

	now := m.now()
	job := &models.Job{
		ID:          jobID,
		SourceRef:   ref,
		Identity:    id,
		Fingerprint: fingerprint,
		Params:      params,
		Status:      models.StatusPending,
		Stage:       "queued",
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.JobTTL),
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("store_error").Inc()
		m.releaseLock(job)
		return "", err
	}

	metrics.JobsCreatedTotal.WithLabelValues(string(params.Mode), "new").Inc()
	m.log.Info("created job %s for %s (%s, %s)", job.ID, id, params.Mode, params.Bitrate)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.dispatch(job); err != nil && !errors.Is(err, ErrAlreadyInFlight) {
			m.log.Debug("dispatch of %s ended with: %v", job.ID, err)
		}
	}()

	return job.ID, nil
}

// fromCache creates an already-completed job when a live cache entry exists
// for fingerprint and the job that produced it is still completed and
// unexpired. Any other hit is evicted and treated as a miss.
func (m *Manager) fromCache(ctx context.Context, ref, id, fingerprint string, params models.Params) (string, bool) {
	if m.cache == nil {
		return "", false
	}
	entry, ok := m.cache.Lookup(fingerprint)
	if !ok {
		return "", false
	}

	now := m.now()
	origin, err := m.store.GetJob(ctx, entry.JobID)
	switch {
	case err != nil:
		m.log.Warn("cache entry for %s points at unreadable job %s: %v", id, entry.JobID, err)
		m.cache.Remove(fingerprint)
		return "", false
	case origin.Status != models.StatusCompleted || !now.Before(origin.ExpiresAt):
		m.log.Debug("cache entry for %s outlived job %s (%s), evicting", id, origin.ID, origin.Status)
		m.cache.Remove(fingerprint)
		return "", false
	}

	// The artifact belongs to the job that produced it; this job must not
	// outlive it.
	job := &models.Job{
		ID:               uuid.NewString(),
		SourceRef:        ref,
		Identity:         id,
		Fingerprint:      fingerprint,
		Params:           params,
		EffectiveBitrate: origin.EffectiveBitrate,
		Status:           models.StatusCompleted,
		Progress:         100,
		Stage:            "done",
		Title:            entry.Title,
		ArtifactLocation: entry.Location,
		ArtifactSize:     entry.Size,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        origin.ExpiresAt,
		Advisory:         origin.Advisory,
		Duration:         origin.Duration,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		m.log.Warn("failed to record cache hit for %s: %v", id, err)
		return "", false
	}

	metrics.JobsCreatedTotal.WithLabelValues(string(params.Mode), "cache_hit").Inc()
	m.log.Info("cache hit for %s, job %s completed immediately", id, job.ID)
	return job.ID, true
}

func (m *Manager) beginWork(job *models.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inFlight[job.ID]; exists {
		return false
	}
	m.inFlight[job.ID] = job
	return true
}

func (m *Manager) finishWork(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

func (m *Manager) inFlightJob(id string) (*models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.inFlight[id]
	return job, ok
}

// identityInFlight reports whether any job running in this process works on identity.
func (m *Manager) identityInFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.inFlight {
		if job.Identity == id {
			return true
		}
	}
	return false
}

// dispatch probes metadata, applies the quality policy, moves the job to
// processing and submits it to the pool. Any failure fails the job.
func (m *Manager) dispatch(job *models.Job) error {
	if !m.beginWork(job) {
		m.log.Warn("job %s is already in flight, ignoring second dispatch", job.ID)
		return ErrAlreadyInFlight
	}

	meta, err := m.probe(job)
	if err != nil {
		m.fail(job, err)
		return err
	}
	m.refreshLock(job)

	decision := quality.Apply(job.Params.Bitrate, meta.Duration)
	if decision.Clamped() {
		metrics.QualityClampsTotal.Inc()
		m.log.Info("job %s: %s", job.ID, decision.Advisory)
	}

	ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
	ok, err := m.store.MarkProcessing(ctx, job.ID, decision.Effective, decision.Advisory, meta.Title, meta.Duration, m.now())
	cancel()
	if err != nil {
		m.fail(job, err)
		return err
	}
	if !ok {
		// The job left pending behind our back (e.g. startup recovery).
		m.log.Warn("job %s is no longer pending, not dispatching", job.ID)
		m.releaseLock(job)
		m.finishWork(job.ID)
		return nil
	}

	job.Status = models.StatusProcessing
	job.EffectiveBitrate = decision.Effective
	job.Advisory = decision.Advisory
	job.Title = meta.Title
	job.Duration = meta.Duration

	task := m.strategies[job.Params.Mode].Task(job, meta)
	run := task.Run
	task.Run = func(ctx context.Context, r workers.Reporter) (workers.Outcome, error) {
		// Queue wait does not count against the lock.
		m.refreshLock(job)
		return run(ctx, r)
	}
	if err := m.pool.Submit(task); err != nil {
		m.fail(job, err)
		return err
	}
	return nil
}

// probe fetches metadata once a probe slot is free and the memory gate is
// open, so a burst of new jobs cannot fork an unbounded number of tools.
func (m *Manager) probe(job *models.Job) (*extractor.Metadata, error) {
	if m.gate != nil {
		m.gate.WaitIfPaused()
	}
	if err := m.probes.Acquire(m.ctx, 1); err != nil {
		return nil, err
	}
	defer m.probes.Release(1)
	return m.source.Probe(m.ctx, identity.CanonicalURL(job.Identity))
}

// refreshLock pushes the expiry of job's dedup lock forward.
func (m *Manager) refreshLock(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := m.dedup.Refresh(ctx, job.Identity, job.ID); err != nil {
		m.log.Warn("failed to refresh lock for job %s: %v", job.ID, err)
	}
}

// refreshInFlightLocks keeps the locks of every job still working alive.
func (m *Manager) refreshInFlightLocks() int {
	m.mu.Lock()
	running := make([]*models.Job, 0, len(m.inFlight))
	for _, job := range m.inFlight {
		running = append(running, job)
	}
	m.mu.Unlock()

	for _, job := range running {
		m.refreshLock(job)
	}
	return len(running)
}

// handleEvent applies pool events to the job table. Runs on the pool's
// dispatcher goroutine.
func (m *Manager) handleEvent(ev workers.Event) {
	job, ok := m.inFlightJob(ev.JobID)
	if !ok {
		m.log.Warn("dropping %s event for unknown job %s", ev.Kind, ev.JobID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switch ev.Kind {
	case workers.EventProgress:
		if _, err := m.store.UpdateProgress(ctx, job.ID, ev.Progress, ev.Stage, m.now()); err != nil {
			m.log.Warn("failed to record progress for %s: %v", job.ID, err)
		}

	case workers.EventCompleted:
		m.complete(ctx, job, ev.Outcome)

	case workers.EventError:
		m.fail(job, ev.Err)
	}
}

func (m *Manager) complete(ctx context.Context, job *models.Job, out workers.Outcome) {
	defer m.finishWork(job.ID)
	defer m.releaseLock(job)

	title := out.Title
	if title == "" {
		title = job.Title
	}

	ok, err := m.store.CompleteJob(ctx, job.ID, out.Location, out.Size, title, m.now())
	if err != nil {
		m.log.Error("failed to record completion of %s: %v", job.ID, err)
		m.discardArtifact(out.Location)
		m.markFailed(job, "Failed to record the result", err.Error())
		return
	}
	if !ok {
		m.log.Warn("job %s finished after leaving processing, discarding artifact", job.ID)
		m.discardArtifact(out.Location)
		return
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(job.Params.Mode), "completed").Inc()
	metrics.JobDuration.WithLabelValues(string(job.Params.Mode)).Observe(m.now().Sub(job.CreatedAt).Seconds())

	if m.cache != nil {
		err := m.cache.Insert(job.Fingerprint, cache.Entry{
			Location: out.Location,
			Size:     out.Size,
			Title:    title,
			JobID:    job.ID,
		})
		if err != nil {
			m.log.Warn("failed to cache artifact of %s: %v", job.ID, err)
		}
	}

	m.log.Info("job %s completed: %s (%d bytes)", job.ID, out.Location, out.Size)
}

// fail records err on the job, releases its lock and ends its in-flight mark.
func (m *Manager) fail(job *models.Job, err error) {
	defer m.finishWork(job.ID)
	defer m.releaseLock(job)

	message, detail := describe(err)
	m.log.Warn("job %s failed: %v", job.ID, err)
	m.markFailed(job, message, detail)
}

func (m *Manager) markFailed(job *models.Job, message, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	ok, err := m.store.FailJob(ctx, job.ID, message, detail, m.now())
	if err != nil {
		m.log.Error("failed to record failure of %s: %v", job.ID, err)
		return
	}
	if ok {
		metrics.JobsFinishedTotal.WithLabelValues(string(job.Params.Mode), "failed").Inc()
	}
}

func (m *Manager) releaseLock(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.dedup.Release(ctx, job.Identity, job.ID); err != nil {
		m.log.Warn("failed to release lock for job %s: %v", job.ID, err)
	}
}

func (m *Manager) discardArtifact(location string) {
	if location == "" || models.IsRemoteLocation(location) {
		return
	}
	if err := filesystem.RemoveWithRetry(location, filesystem.DefaultRetryConfig()); err != nil {
		m.log.Warn("failed to remove orphaned artifact %s: %v", location, err)
	}
}

// GetStatus returns the caller-facing view of a job.
func (m *Manager) GetStatus(ctx context.Context, id string) (models.JobView, error) {
	job, err := m.getJob(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	return job.View(), nil
}

// GetArtifactLocation returns the artifact of a completed, unexpired job.
// ok is false while the job is not finished, after it expired, or when its
// local file has disappeared.
func (m *Manager) GetArtifactLocation(ctx context.Context, id string) (location string, ok bool, err error) {
	job, err := m.getJob(ctx, id)
	if err != nil {
		return "", false, err
	}
	if job.Status != models.StatusCompleted || job.ArtifactLocation == "" {
		return "", false, nil
	}
	if !m.now().Before(job.ExpiresAt) {
		return "", false, nil
	}
	if !job.IsRemoteArtifact() {
		if _, err := filesystem.StatWithRetry(job.ArtifactLocation, filesystem.DefaultRetryConfig()); err != nil {
			m.log.Warn("artifact of job %s is missing: %v", id, err)
			return "", false, nil
		}
	}
	return job.ArtifactLocation, true, nil
}

// GetJob returns the full job record.
func (m *Manager) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return m.getJob(ctx, id)
}

func (m *Manager) getJob(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StreamToSink pipes ref straight into sink. prepare, if not nil, is called
// with the stream's metadata before the first byte is written.
func (m *Manager) StreamToSink(ctx context.Context, ref string, params models.Params, sink io.Writer, prepare func(pipeline.StreamInfo) error) error {
	if m.streamer == nil {
		return fmt.Errorf("%w: streaming is not available", ErrInvalidParams)
	}
	params, err := m.normalize(params, true)
	if err != nil {
		return err
	}
	_, err = m.streamer.Stream(ctx, ref, params, sink, prepare)
	return err
}
