package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-extractor/internal/filesystem"
	"media-extractor/internal/metrics"
)

const (
	expiredBatchSize = 500

	// DefaultStaleTempAge is how old an unclaimed temp directory must be
	// before the sweep removes it.
	DefaultStaleTempAge = 2 * time.Hour
)

func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)

	if m.sweepOverdue() {
		m.scheduledSweep()
	}

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scheduledSweep()
		case <-m.cleanupStop:
			return
		}
	}
}

// sweepOverdue reports whether a previous process last swept more than one
// interval ago. A database that was never swept has nothing to clean.
func (m *Manager) sweepOverdue() bool {
	ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
	defer cancel()

	last, err := m.store.GetLastCleanupRun(ctx)
	if err != nil {
		m.log.Warn("failed to read last cleanup run: %v", err)
		return false
	}
	if last.IsZero() {
		return false
	}
	if since := m.now().Sub(last); since >= m.cfg.CleanupInterval {
		m.log.Info("last cleanup sweep ran %v ago, sweeping now", since.Round(time.Second))
		return true
	}
	return false
}

func (m *Manager) scheduledSweep() {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CleanupInterval)
	defer cancel()

	report, err := m.RunCleanupSweep(ctx)
	if err != nil {
		m.log.Warn("cleanup sweep failed: %v", err)
		return
	}
	if report.ExpiredJobs > 0 || report.SweptLocks > 0 || report.RemovedTempDirs > 0 {
		m.log.Info("cleanup: expired %d job(s), removed %d artifact(s), swept %d lock(s), %d temp dir(s)",
			report.ExpiredJobs, report.RemovedArtifacts, report.SweptLocks, report.RemovedTempDirs)
	}
}

// RunCleanupSweep expires jobs past their TTL, deletes their local
// artifacts, clears their locks and cache entries, then refreshes the locks
// of jobs still in flight and purges expired locks, cache entries and
// abandoned temp directories. A job whose artifact cannot be
// removed stays as it is and is retried on the next sweep.
func (m *Manager) RunCleanupSweep(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	metrics.CleanupRunsTotal.Inc()

	now := m.now()
	retry := filesystem.DefaultRetryConfig()

	// Jobs that fail to expire are skipped within this sweep so a stuck row
	// cannot spin the loop.
	skipped := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := m.store.ListExpiredJobs(ctx, now, expiredBatchSize)
		if err != nil {
			return report, err
		}

		progressed := false
		for _, job := range batch {
			if skipped[job.ID] {
				continue
			}

			if job.ArtifactLocation != "" && !job.IsRemoteArtifact() {
				if err := filesystem.RemoveWithRetry(job.ArtifactLocation, retry); err != nil {
					m.log.Warn("failed to remove artifact of job %s: %v", job.ID, err)
					report.Errors++
					skipped[job.ID] = true
					continue
				}
				report.RemovedArtifacts++
			}

			if _, err := m.store.ExpireJob(ctx, job.ID, now); err != nil {
				m.log.Warn("failed to expire job %s: %v", job.ID, err)
				report.Errors++
				skipped[job.ID] = true
				continue
			}
			report.ExpiredJobs++
			metrics.CleanupExpiredJobsTotal.Inc()
			progressed = true

			if m.identityInFlight(job.Identity) {
				if err := m.dedup.Release(ctx, job.Identity, job.ID); err != nil {
					m.log.Warn("failed to release lock of job %s: %v", job.ID, err)
				}
			} else {
				if err := m.dedup.ForceClear(ctx, job.Identity); err != nil {
					m.log.Warn("failed to clear lock for %s: %v", job.Identity, err)
				} else {
					report.ClearedLocks++
				}
			}

			if m.cache != nil && job.Fingerprint != "" {
				m.cache.Remove(job.Fingerprint)
			}
		}

		if len(batch) < expiredBatchSize || !progressed {
			break
		}
	}

	m.refreshInFlightLocks()

	swept, err := m.dedup.Sweep(ctx)
	if err != nil {
		m.log.Warn("lock sweep failed: %v", err)
		report.Errors++
	}
	report.SweptLocks = swept

	if m.cache != nil {
		report.SweptCache = m.cache.Sweep()
	}

	report.RemovedTempDirs = m.removeStaleTempDirs(now)

	if err := m.store.SetLastCleanupRun(ctx, now); err != nil {
		m.log.Warn("failed to record cleanup run: %v", err)
	}

	return report, nil
}

// removeStaleTempDirs deletes job temp directories left behind by a crash.
// Directories of jobs running in this process are never touched.
func (m *Manager) removeStaleTempDirs(now time.Time) int {
	if m.cfg.TempDir == "" {
		return 0
	}

	maxAge := m.cfg.StaleTempAge
	if maxAge <= 0 {
		maxAge = DefaultStaleTempAge
	}

	entries, err := os.ReadDir(m.cfg.TempDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("failed to list temp directory %s: %v", m.cfg.TempDir, err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, tempDirPrefix) {
			continue
		}
		if m.tempDirInUse(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}

		path := filepath.Join(m.cfg.TempDir, name)
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("failed to remove stale temp directory %s: %v", path, err)
			continue
		}
		m.log.Debug("removed stale temp directory %s", path)
		removed++
	}
	return removed
}

func (m *Manager) tempDirInUse(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.inFlight {
		if strings.HasPrefix(name, tempDirPrefix+id+"-") {
			return true
		}
	}
	return false
}
