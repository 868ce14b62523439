// Package pipeline runs chains of external processes connected by OS pipes
// and streams the output of the last one to a sink.
//
// There is no buffering stage between processes or between the last
// process and the sink, so a slow sink stalls the whole chain through the
// pipes' own back-pressure. Each process's stdout is handed directly to the
// next one's stdin; the parent closes its copies of both ends once the
// children have started, so an upstream exit is seen downstream as EOF.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"media-extractor/internal/logging"
	"media-extractor/internal/procs"
)

// ErrEmptyChain is returned by Run when the chain has no stages.
var ErrEmptyChain = errors.New("pipeline has no stages")

// Stage is one process in a chain.
type Stage struct {
	Name string
	Path string
	Args []string
}

// Command creates a Stage.
func Command(name, path string, args ...string) Stage {
	return Stage{Name: name, Path: path, Args: args}
}

func (s Stage) String() string {
	return s.Name + " (" + s.Path + " " + strings.Join(s.Args, " ") + ")"
}

// StageError reports a stage that exited unsuccessfully.
type StageError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *StageError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("stage %s: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SinkError reports a failed write to the sink, usually a client that went away.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "sink: " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }

// Chain is a directed sequence of stages, first to last.
type Chain struct {
	stages    []Stage
	waitDelay time.Duration
	registry  *procs.Registry
	log       logging.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithWaitDelay bounds how long a killed stage may hold its pipes open.
func WithWaitDelay(d time.Duration) ChainOption {
	return func(c *Chain) { c.waitDelay = d }
}

// WithRegistry tracks the chain's processes in r while they run.
func WithRegistry(r *procs.Registry) ChainOption {
	return func(c *Chain) { c.registry = r }
}

// NewChain creates a chain from stages in data-flow order.
func NewChain(stages []Stage, opts ...ChainOption) *Chain {
	c := &Chain{
		stages:    stages,
		waitDelay: 2 * time.Second,
		log:       logging.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts every stage, copies the last stage's stdout to sink, and waits
// for all of them. A failing stage, a failing sink write or ctx ending kills
// every process in the chain. It returns the number of bytes written to sink.
func (c *Chain) Run(ctx context.Context, sink io.Writer) (int64, error) {
	if len(c.stages) == 0 {
		return 0, ErrEmptyChain
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	cmds := make([]*exec.Cmd, len(c.stages))
	stderrs := make([]*procs.RingBuffer, len(c.stages))
	for i, st := range c.stages {
		cmd := exec.CommandContext(gctx, st.Path, st.Args...)
		procs.Configure(cmd, c.waitDelay)
		stderrs[i] = procs.NewRingBuffer(16 * 1024)
		cmd.Stderr = stderrs[i]
		cmds[i] = cmd
	}

	// Parent-side pipe ends, closed as soon as the children own them.
	var parentEnds []*os.File
	closeParentEnds := func() {
		for _, f := range parentEnds {
			_ = f.Close()
		}
		parentEnds = nil
	}

	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeParentEnds()
			return 0, fmt.Errorf("create pipe: %w", err)
		}
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
		parentEnds = append(parentEnds, r, w)
	}

	last := cmds[len(cmds)-1]
	out, err := last.StdoutPipe()
	if err != nil {
		closeParentEnds()
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			cancel()
			closeParentEnds()
			for _, started := range cmds[:i] {
				_ = started.Wait()
			}
			return 0, &StageError{Stage: c.stages[i].Name, Err: err}
		}
		if c.registry != nil {
			defer c.registry.Track(fmt.Sprintf("%s:%d", c.stages[i].Name, cmd.Process.Pid), cmd)()
		}
	}
	closeParentEnds()

	c.log.Debug("started %d stage chain", len(cmds))

	var (
		written int64
		sinkErr error
	)

	for i := 0; i < len(cmds)-1; i++ {
		cmd, name, stderr := cmds[i], c.stages[i].Name, stderrs[i]
		g.Go(func() error {
			return stageResult(gctx, name, cmd.Wait(), stderr)
		})
	}

	g.Go(func() error {
		n, copyErr := io.Copy(sinkWriter{sink}, out)
		written = n
		// Only a write failure is the sink's fault; a read error means the
		// stage died and Wait below reports it.
		var werr *writeError
		switch {
		case errors.As(copyErr, &werr):
			sinkErr = &SinkError{Err: werr.err}
			cancel()
		case errors.Is(copyErr, io.ErrShortWrite):
			sinkErr = &SinkError{Err: copyErr}
			cancel()
		}
		waitErr := last.Wait()
		if sinkErr != nil {
			return sinkErr
		}
		return stageResult(gctx, c.stages[len(c.stages)-1].Name, waitErr, stderrs[len(stderrs)-1])
	})

	err = g.Wait()

	switch {
	case sinkErr != nil:
		return written, sinkErr
	case ctx.Err() != nil:
		return written, ctx.Err()
	default:
		return written, err
	}
}

// stageResult converts a Wait error into the chain's error. A stage killed
// because another part of the chain already failed is not reported.
func stageResult(gctx context.Context, name string, err error, stderr *procs.RingBuffer) error {
	if err == nil {
		return nil
	}
	if gctx.Err() != nil {
		return nil
	}
	return &StageError{Stage: name, Stderr: stderr.Tail(5), Err: err}
}

// sinkWriter tags write errors so Run can tell them apart from read errors.
type sinkWriter struct {
	w io.Writer
}

type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }

func (s sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}
