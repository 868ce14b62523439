// Package dedup guarantees at most one in-flight job per source identity.
//
// A lock names the job that owns work for an identity and lapses after a
// TTL, so a crashed pipeline cannot wedge a source forever. Holders that are
// still working call Refresh to push the expiry forward. Expired locks
// are swept before every acquisition; the periodic Sweep only keeps the
// table small.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
)

// DefaultTTL is how long a lock is honored without being released.
const DefaultTTL = 30 * time.Minute

// LockStore persists lock records. Implemented by database.Database.
type LockStore interface {
	InsertLock(ctx context.Context, identity, jobID string, expiresAt time.Time) (bool, error)
	DeleteLock(ctx context.Context, identity, jobID string) (bool, error)
	ExtendLock(ctx context.Context, identity, jobID string, expiresAt time.Time) (bool, error)
	ClearLock(ctx context.Context, identity string) error
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// Mutex is the process-wide dedup registry.
type Mutex struct {
	store LockStore
	ttl   time.Duration
	now   func() time.Time
	log   logging.Logger

	// mu serializes sweep+insert so two acquisitions in this process
	// cannot interleave between them.
	mu sync.Mutex
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mutex) { m.now = now }
}

// New creates a Mutex. A non-positive ttl selects DefaultTTL.
func New(store LockStore, ttl time.Duration, opts ...Option) *Mutex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Mutex{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   logging.Named("dedup"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured lock lifetime.
func (m *Mutex) TTL() time.Duration {
	return m.ttl
}

// Acquire claims identity for jobID. It returns false if another unexpired
// lock exists.
func (m *Mutex) Acquire(ctx context.Context, identity, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	swept, err := m.store.DeleteExpiredLocks(ctx, now)
	if err != nil {
		metrics.DedupAcquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	if swept > 0 {
		metrics.DedupLocksExpiredTotal.Add(float64(swept))
		m.log.Info("reclaimed %d expired lock(s)", swept)
	}

	ok, err := m.store.InsertLock(ctx, identity, jobID, now.Add(m.ttl))
	if err != nil {
		metrics.DedupAcquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to insert lock for %s: %w", identity, err)
	}

	if !ok {
		metrics.DedupAcquireTotal.WithLabelValues("held").Inc()
		m.log.Debug("%s already locked, rejecting job %s", identity, jobID)
		return false, nil
	}

	metrics.DedupAcquireTotal.WithLabelValues("acquired").Inc()
	m.log.Debug("%s locked by job %s", identity, jobID)
	return true, nil
}

// Release drops the lock on identity if jobID still holds it. A release
// from a job whose lock was already reclaimed is a no-op.
func (m *Mutex) Release(ctx context.Context, identity, jobID string) error {
	released, err := m.store.DeleteLock(ctx, identity, jobID)
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", identity, err)
	}
	if !released {
		m.log.Debug("stale release of %s by job %s ignored", identity, jobID)
	}
	return nil
}

// Refresh pushes the expiry of jobID's lock on identity one TTL past now.
// It reports false when jobID no longer holds the lock.
func (m *Mutex) Refresh(ctx context.Context, identity, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.store.ExtendLock(ctx, identity, jobID, m.now().Add(m.ttl))
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock for %s: %w", identity, err)
	}
	if !ok {
		m.log.Warn("job %s no longer holds the lock on %s", jobID, identity)
	}
	return ok, nil
}

// ForceClear drops the lock on identity regardless of holder.
func (m *Mutex) ForceClear(ctx context.Context, identity string) error {
	if err := m.store.ClearLock(ctx, identity); err != nil {
		return fmt.Errorf("failed to clear lock for %s: %w", identity, err)
	}
	return nil
}

// Sweep removes expired locks and returns how many were removed.
func (m *Mutex) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.store.DeleteExpiredLocks(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.DedupLocksExpiredTotal.Add(float64(n))
	}
	return int(n), nil
}
