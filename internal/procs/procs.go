// Package procs holds the bookkeeping shared by every package that runs the
// external tools: bounded stderr capture, kill-on-cancel configuration, and
// a registry of live processes that can be killed on shutdown.
package procs

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"media-extractor/internal/logging"
)

// DefaultWaitDelay bounds how long Wait blocks on I/O after a killed process.
const DefaultWaitDelay = 5 * time.Second

// Configure starts the process in its own process group, makes ctx
// cancellation SIGKILL the whole group and bounds the wait for its pipes to
// drain afterwards. yt-dlp forks ffmpeg for segmented sources; the group
// kill takes those children down with it.
func Configure(cmd *exec.Cmd, waitDelay time.Duration) {
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return Kill(cmd.Process)
	}
	cmd.WaitDelay = waitDelay
}

// Kill sends SIGKILL to p's process group, or to p alone when it does not
// lead one. It returns os.ErrProcessDone if nothing was left to kill.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := killProcessGroup(p.Pid); err == nil {
		return nil
	}
	return p.Signal(os.Kill)
}

// RingBuffer keeps the last Cap bytes written to it. Safe for concurrent use.
type RingBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

// NewRingBuffer creates a RingBuffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 16 * 1024
	}
	return &RingBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	if overflow := len(r.buf) + len(p) - r.cap; overflow > 0 {
		r.buf = append(r.buf[:0], r.buf[overflow:]...)
	}
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// String returns the buffered bytes.
func (r *RingBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Tail returns at most the last n non-empty lines.
func (r *RingBuffer) Tail(n int) string {
	lines := nonEmptyLines(r.String())
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// LastLine returns the last non-empty line, preferring one tagged "ERROR".
func (r *RingBuffer) LastLine() string {
	lines := nonEmptyLines(r.String())
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR") {
			return lines[i]
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Registry tracks running commands so they can be killed at shutdown.
type Registry struct {
	mu        sync.Mutex
	processes map[string]*exec.Cmd
	log       logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(name string) *Registry {
	return &Registry{
		processes: make(map[string]*exec.Cmd),
		log:       logging.Named(name),
	}
}

// Track registers a started command under key and returns a func that
// unregisters it.
func (r *Registry) Track(key string, cmd *exec.Cmd) func() {
	r.mu.Lock()
	r.processes[key] = cmd
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if r.processes[key] == cmd {
			delete(r.processes, key)
		}
		r.mu.Unlock()
	}
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// Cleanup kills every tracked process.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, cmd := range r.processes {
		if cmd.Process != nil {
			r.log.Info("Killing process for: %s", key)
			if err := Kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
				r.log.Warn("failed to kill process for %s: %v", key, err)
			}
		}
	}
}
