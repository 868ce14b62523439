package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
)

const (
	// DefaultPoolSize is the number of slots used when none is configured.
	DefaultPoolSize  = 4
	defaultQueueSize = 64
	eventBuffer      = 256
)

var (
	// ErrPoolClosed is returned by Submit after Stop.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrQueueFull is returned by Submit when every slot is busy and the queue is full.
	ErrQueueFull = errors.New("worker queue is full")
)

// EventKind distinguishes the events a task produces.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// Outcome is what a successful task produced.
type Outcome struct {
	Location string
	Title    string
	Size     int64
}

// Event is delivered to the pool's handler, keyed by JobID.
type Event struct {
	JobID    string
	Kind     EventKind
	Slot     int
	Progress int
	Stage    string
	Outcome  Outcome
	Err      error
}

// Reporter lets a running task publish progress.
type Reporter interface {
	Progress(percent int, stage string)
}

// Task is one unit of work bound to a slot for the duration of Run.
type Task struct {
	JobID string
	// Timeout bounds Run. Zero uses the pool's default.
	Timeout time.Duration
	Run     func(ctx context.Context, r Reporter) (Outcome, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Size        int
	QueueSize   int
	TaskTimeout time.Duration
	// Handler receives every event. Calls are serialized on one goroutine,
	// so events for a job arrive in the order they were produced.
	Handler func(Event)
	// Gate, if set, is consulted before a slot starts its next task.
	Gate Gate
}

// Gate holds slots back while the process is under memory pressure.
// Implemented by memory.Monitor.
type Gate interface {
	WaitIfPaused() bool
}

// Pool is a fixed set of worker slots fed from a bounded queue.
type Pool struct {
	size        int
	taskTimeout time.Duration
	handler     func(Event)
	gate        Gate
	log         logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue  chan Task
	events chan Event

	mu      sync.RWMutex
	started bool
	closed  bool

	workersDone    sync.WaitGroup
	dispatcherDone chan struct{}

	busy sync.Map // slot -> job ID
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(cfg PoolConfig) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	handler := cfg.Handler
	if handler == nil {
		handler = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:           size,
		taskTimeout:    cfg.TaskTimeout,
		handler:        handler,
		gate:           cfg.Gate,
		log:            logging.Named("pool"),
		ctx:            ctx,
		cancel:         cancel,
		queue:          make(chan Task, queueSize),
		events:         make(chan Event, eventBuffer),
		dispatcherDone: make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// QueueDepth returns the number of tasks waiting for a slot.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Busy returns the number of slots currently running a task.
func (p *Pool) Busy() int {
	n := 0
	p.busy.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Start launches the slots and the event dispatcher.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	metrics.WorkerPoolSize.Set(float64(p.size))

	go p.dispatch()
	for slot := 1; slot <= p.size; slot++ {
		p.workersDone.Add(1)
		go p.worker(slot)
	}
	p.log.Info("started %d worker slots (queue %d)", p.size, cap(p.queue))
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.JobID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting tasks and waits for queued and running ones to
// finish. If ctx ends first, running tasks are canceled and ctx's error is
// returned once they have reported.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	workersDone := make(chan struct{})
	go func() {
		p.workersDone.Wait()
		close(p.events)
		<-p.dispatcherDone
		close(workersDone)
	}()

	select {
	case <-workersDone:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.log.Warn("drain interrupted, canceling %d running tasks", p.Busy())
		p.cancel()
		<-workersDone
		return ctx.Err()
	}
}

func (p *Pool) worker(slot int) {
	defer p.workersDone.Done()
	log := p.log.Named(fmt.Sprintf("worker-%d", slot))

	for task := range p.queue {
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		if p.gate != nil && !p.gate.WaitIfPaused() {
			log.Debug("memory gate closed, running %s anyway", task.JobID)
		}
		p.run(slot, log, task)
	}
}

func (p *Pool) run(slot int, log logging.Logger, task Task) {
	p.busy.Store(slot, task.JobID)
	metrics.WorkersBusy.Inc()
	defer func() {
		p.busy.Delete(slot)
		metrics.WorkersBusy.Dec()
	}()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.taskTimeout
	}
	ctx := p.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	log.Debug("picked up job %s", task.JobID)

	rep := &reporter{pool: p, jobID: task.JobID, slot: slot, last: -1}
	rep.Progress(0, "started")

	outcome, err := p.safeRun(ctx, log, task, rep)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = fmt.Errorf("job timed out after %v: %w", timeout, err)
		}
		log.Warn("job %s failed after %v: %v", task.JobID, time.Since(start).Round(time.Millisecond), err)
		p.emit(Event{JobID: task.JobID, Kind: EventError, Slot: slot, Err: err})
		return
	}

	log.Info("job %s finished in %v", task.JobID, time.Since(start).Round(time.Millisecond))
	p.emit(Event{JobID: task.JobID, Kind: EventCompleted, Slot: slot, Progress: 100, Stage: "completed", Outcome: outcome})
}

func (p *Pool) safeRun(ctx context.Context, log logging.Logger, task Task, rep Reporter) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerTaskPanics.Inc()
			log.Error("job %s panicked: %v\n%s", task.JobID, r, debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx, rep)
}

func (p *Pool) emit(ev Event) {
	p.events <- ev
}

func (p *Pool) dispatch() {
	defer close(p.dispatcherDone)
	for ev := range p.events {
		p.deliver(ev)
	}
}

func (p *Pool) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("event handler panicked on %s event for job %s: %v", ev.Kind, ev.JobID, r)
		}
	}()
	p.handler(ev)
}

type reporter struct {
	pool  *Pool
	jobID string
	slot  int

	mu   sync.Mutex
	last int
}

// Progress emits a progress event. Values are clamped to 0..99 and never
// move backwards; 100 is reserved for the completion event.
func (r *reporter) Progress(percent int, stage string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}

	r.mu.Lock()
	if percent < r.last {
		percent = r.last
	}
	r.last = percent
	r.mu.Unlock()

	r.pool.emit(Event{JobID: r.jobID, Kind: EventProgress, Slot: r.slot, Progress: percent, Stage: stage})
}
