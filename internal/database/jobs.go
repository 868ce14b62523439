package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-extractor/internal/models"
)

const jobColumns = `id, source_ref, identity, fingerprint, bitrate, trim_start, trim_end, mode,
	effective_bitrate, status, progress, stage, title, duration, artifact_location, artifact_size,
	advisory, error_message, error_detail, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                             models.Job
		mode, status                    string
		createdAt, updatedAt, expiresAt int64
	)

	err := row.Scan(
		&job.ID, &job.SourceRef, &job.Identity, &job.Fingerprint,
		&job.Params.Bitrate, &job.Params.TrimStart, &job.Params.TrimEnd, &mode,
		&job.EffectiveBitrate, &status, &job.Progress, &job.Stage, &job.Title, &job.Duration,
		&job.ArtifactLocation, &job.ArtifactSize, &job.Advisory, &job.ErrorMessage, &job.ErrorDetail,
		&createdAt, &updatedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Params.Mode = models.Mode(mode)
	job.Status = models.JobStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.ExpiresAt = fromMillis(expiresAt)
	return &job, nil
}

// CreateJob inserts a new job record.
func (d *Database) CreateJob(ctx context.Context, job *models.Job) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO jobs (`+jobColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourceRef, job.Identity, job.Fingerprint,
		job.Params.Bitrate, job.Params.TrimStart, job.Params.TrimEnd, string(job.Params.Mode),
		job.EffectiveBitrate, string(job.Status), job.Progress, job.Stage, job.Title, job.Duration,
		job.ArtifactLocation, job.ArtifactSize, job.Advisory, job.ErrorMessage, job.ErrorDetail,
		toMillis(job.CreatedAt), toMillis(job.UpdatedAt), toMillis(job.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the job with the given ID or ErrNotFound.
func (d *Database) GetJob(ctx context.Context, id string) (*models.Job, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var job *models.Job
	job, err = scanJob(d.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	return job, err
}

// FindCompletedJob returns the most recently completed, unexpired job with the
// given fingerprint, or ErrNotFound.
func (d *Database) FindCompletedJob(ctx context.Context, fingerprint string, now time.Time) (*models.Job, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_completed", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var job *models.Job
	job, err = scanJob(d.db.QueryRowContext(ctx, `
	SELECT `+jobColumns+` FROM jobs
	WHERE fingerprint = ? AND status = ? AND expires_at > ?
	ORDER BY updated_at DESC
	LIMIT 1`,
		fingerprint, string(models.StatusCompleted), toMillis(now)))
	return job, err
}

// ListExpiredJobs returns terminal jobs whose expiry is before now, oldest first.
func (d *Database) ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_expired", start, err) }()

	if limit <= 0 {
		limit = 500
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
	SELECT `+jobColumns+` FROM jobs
	WHERE status IN (?, ?) AND expires_at <= ?
	ORDER BY expires_at ASC
	LIMIT ?`,
		string(models.StatusCompleted), string(models.StatusFailed), toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job *models.Job
		job, err = scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	err = rows.Err()
	return jobs, err
}

// CountJobsByStatus returns the number of job rows per status.
func (d *Database) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_jobs", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	err = rows.Err()
	return counts, err
}

// transition applies set to the job only if its current status is one of from.
// It reports whether a row was changed.
func (d *Database) transition(ctx context.Context, id string, from []models.JobStatus, set string, args ...any) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `UPDATE jobs SET ` + set + ` WHERE id = ? AND status IN (` + placeholders + `)`

	params := append([]any{}, args...)
	params = append(params, id)
	for _, status := range from {
		params = append(params, string(status))
	}

	var result sql.Result
	result, err = d.db.ExecContext(ctx, query, params...)
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkProcessing moves a pending job to processing, recording the outcome of
// the quality decision and the probed metadata.
func (d *Database) MarkProcessing(ctx context.Context, id, effectiveBitrate, advisory, title string, duration float64, now time.Time) (bool, error) {
	return d.transition(ctx, id, []models.JobStatus{models.StatusPending},
		`status = ?, effective_bitrate = ?, advisory = ?, title = ?, duration = ?, progress = 5, stage = 'metadata', updated_at = ?`,
		string(models.StatusProcessing), effectiveBitrate, advisory, title, duration, toMillis(now))
}

// UpdateProgress records progress for a job that is still processing.
func (d *Database) UpdateProgress(ctx context.Context, id string, progress int, stage string, now time.Time) (bool, error) {
	return d.transition(ctx, id, []models.JobStatus{models.StatusProcessing},
		`progress = MAX(progress, ?), stage = ?, updated_at = ?`,
		progress, stage, toMillis(now))
}

// CompleteJob sets the artifact, title and completed status in one statement.
func (d *Database) CompleteJob(ctx context.Context, id, location string, size int64, title string, now time.Time) (bool, error) {
	return d.transition(ctx, id, []models.JobStatus{models.StatusProcessing},
		`status = ?, artifact_location = ?, artifact_size = ?, title = CASE WHEN ? <> '' THEN ? ELSE title END,
		progress = 100, stage = 'done', error_message = '', error_detail = '', updated_at = ?`,
		string(models.StatusCompleted), location, size, title, title, toMillis(now))
}

// FailJob marks a pending or processing job failed.
func (d *Database) FailJob(ctx context.Context, id, message, detail string, now time.Time) (bool, error) {
	return d.transition(ctx, id, []models.JobStatus{models.StatusPending, models.StatusProcessing},
		`status = ?, error_message = ?, error_detail = ?, stage = 'failed', updated_at = ?`,
		string(models.StatusFailed), message, detail, toMillis(now))
}

// ExpireJob marks a completed or failed job expired.
func (d *Database) ExpireJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return d.transition(ctx, id, []models.JobStatus{models.StatusCompleted, models.StatusFailed},
		`status = ?, stage = 'expired', updated_at = ?`,
		string(models.StatusExpired), toMillis(now))
}

// FailUnfinishedJobs fails every pending or processing job. Used at startup,
// when no pipeline from a previous process can still be running.
func (d *Database) FailUnfinishedJobs(ctx context.Context, message string, now time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_job", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, error_message = ?, stage = 'failed', updated_at = ?
	WHERE status IN (?, ?)`,
		string(models.StatusFailed), message, toMillis(now),
		string(models.StatusPending), string(models.StatusProcessing))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
