package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"media-extractor/internal/logging"
)

var (
	// ErrWriteTimeout means a single write, or the whole stream, took too long.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context ended before the stream did.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled means the writer was closed or went idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

// SinkConfig bounds how long a sink may block the pipeline feeding it.
type SinkConfig struct {
	// WriteTimeout bounds a single write to the client.
	WriteTimeout time.Duration
	// IdleTimeout is the longest gap allowed between successful writes.
	IdleTimeout time.Duration
	// MaxDuration bounds the whole stream. Zero means unlimited.
	MaxDuration time.Duration
	// ChunkSize splits large writes, flushing after each chunk. Zero writes as received.
	ChunkSize int
	// OnProgress is called roughly once per MiB written.
	OnProgress func(bytesWritten int64, elapsed time.Duration)
}

// DefaultSinkConfig returns the limits used for audio streams.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
		ChunkSize:    32 * 1024,
	}
}

// Sink is an io.Writer in front of a client connection. A stalled or
// disconnected client turns into a write error, which stops the process
// chain upstream instead of letting it block on a full pipe.
type Sink struct {
	w       io.Writer
	flusher http.Flusher
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	config  SinkConfig
	log     logging.Logger

	mu           sync.Mutex
	started      time.Time
	lastWrite    time.Time
	bytesWritten int64
	closed       bool
}

// NewSink wraps w. If w is an http.Flusher, every write is flushed so the
// client receives audio as soon as the encoder emits it. The sink stops
// accepting writes when ctx ends.
func NewSink(ctx context.Context, w io.Writer, config SinkConfig) *Sink {
	sinkCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	s := &Sink{
		w:         w,
		parent:    ctx,
		ctx:       sinkCtx,
		cancel:    cancel,
		config:    config,
		log:       logging.Named("streaming"),
		started:   now,
		lastWrite: now,
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}

	go s.watchIdle()
	return s
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}

	if err := s.ctxErr(); err != nil {
		return 0, err
	}

	if s.config.MaxDuration > 0 && time.Since(s.started) > s.config.MaxDuration {
		s.cancel()
		return 0, ErrWriteTimeout
	}

	chunk := s.config.ChunkSize
	if chunk <= 0 {
		chunk = len(p)
	}

	written := 0
	for len(p) > 0 {
		if err := s.ctxErr(); err != nil {
			return written, err
		}

		n := min(chunk, len(p))
		m, err := s.writeWithTimeout(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		if s.flusher != nil {
			s.flusher.Flush()
		}
		p = p[n:]
	}
	return written, nil
}

func (s *Sink) writeWithTimeout(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := s.w.Write(p)
		done <- result{n, err}
	}()

	timer := time.NewTimer(s.writeTimeout())
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return r.n, r.err
		}
		s.mu.Lock()
		before := s.bytesWritten
		s.bytesWritten += int64(r.n)
		total := s.bytesWritten
		s.lastWrite = time.Now()
		s.mu.Unlock()

		if s.config.OnProgress != nil && before>>20 != total>>20 {
			s.config.OnProgress(total, time.Since(s.started))
		}
		return r.n, nil

	case <-timer.C:
		s.log.Warn("write of %d bytes stalled for %v, aborting stream", len(p), s.writeTimeout())
		s.cancel()
		return 0, ErrWriteTimeout

	case <-s.ctx.Done():
		return 0, s.ctxErr()
	}
}

func (s *Sink) writeTimeout() time.Duration {
	if s.config.WriteTimeout > 0 {
		return s.config.WriteTimeout
	}
	return DefaultSinkConfig().WriteTimeout
}

func (s *Sink) watchIdle() {
	if s.config.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastWrite)
			closed := s.closed
			s.mu.Unlock()

			if closed {
				return
			}
			if idle > s.config.IdleTimeout {
				s.log.Warn("stream idle for %v, aborting", idle)
				s.cancel()
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// ctxErr maps the end of the sink context onto a sentinel error.
func (s *Sink) ctxErr() error {
	if s.ctx.Err() == nil {
		return nil
	}
	if s.parent.Err() != nil {
		return ErrClientGone
	}
	return ErrStreamCanceled
}

// Close stops the sink. Later writes fail with ErrStreamCanceled.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.cancel()
	}
	return nil
}

// Stats reports bytes written and time since the sink was created.
func (s *Sink) Stats() (bytesWritten int64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten, time.Since(s.started)
}
