package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-extractor/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})
	return db
}

func newTestJob(id string, now time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		SourceRef:   "https://youtu.be/dQw4w9WgXcQ",
		Identity:    "dQw4w9WgXcQ",
		Fingerprint: "fp-" + id,
		Params:      models.Params{Bitrate: "320k", TrimStart: 10, Mode: models.ModeFile},
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	job := newTestJob("job-1", now)
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	if got.Identity != job.Identity || got.Fingerprint != job.Fingerprint {
		t.Errorf("identity/fingerprint mismatch: got %q/%q", got.Identity, got.Fingerprint)
	}
	if got.Params != job.Params {
		t.Errorf("Params = %+v, want %+v", got.Params, job.Params)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(job.ExpiresAt) {
		t.Errorf("timestamps not preserved: created %v expires %v", got.CreatedAt, got.ExpiresAt)
	}
}

func TestGetJobNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.CreateJob(ctx, newTestJob("job-1", now)); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// Completing a pending job is not a valid edge.
	ok, err := db.CompleteJob(ctx, "job-1", "/a.mp3", 10, "", now)
	if err != nil || ok {
		t.Fatalf("CompleteJob on pending = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = db.MarkProcessing(ctx, "job-1", "128k", "reduced", "Song", 11000, now)
	if err != nil || !ok {
		t.Fatalf("MarkProcessing = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = db.UpdateProgress(ctx, "job-1", 25, "extracted", now)
	if err != nil || !ok {
		t.Fatalf("UpdateProgress = (%v, %v)", ok, err)
	}

	// Progress never moves backwards.
	if _, err := db.UpdateProgress(ctx, "job-1", 10, "late", now); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	ok, err = db.CompleteJob(ctx, "job-1", "/artifacts/job-1.mp3", 4096, "", now)
	if err != nil || !ok {
		t.Fatalf("CompleteJob = (%v, %v)", ok, err)
	}

	got, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.ArtifactLocation != "/artifacts/job-1.mp3" || got.ArtifactSize != 4096 {
		t.Errorf("artifact = %q/%d", got.ArtifactLocation, got.ArtifactSize)
	}
	if got.Title != "Song" {
		t.Errorf("Title = %q, want title kept from metadata", got.Title)
	}
	if got.EffectiveBitrate != "128k" || got.Advisory != "reduced" {
		t.Errorf("quality fields = %q/%q", got.EffectiveBitrate, got.Advisory)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}

	// A late failure event must not overwrite the terminal state.
	ok, err = db.FailJob(ctx, "job-1", "late failure", "stderr", now)
	if err != nil || ok {
		t.Errorf("FailJob on completed = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = db.ExpireJob(ctx, "job-1", now)
	if err != nil || !ok {
		t.Fatalf("ExpireJob = (%v, %v)", ok, err)
	}

	ok, err = db.ExpireJob(ctx, "job-1", now)
	if err != nil || ok {
		t.Errorf("second ExpireJob = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestConcurrentTerminalTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.CreateJob(ctx, newTestJob("job-1", now)); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := db.MarkProcessing(ctx, "job-1", "320k", "", "", 0, now); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ok, _ := db.CompleteJob(ctx, "job-1", "/a.mp3", 1, "", now)
			results <- ok
		}()
		go func() {
			defer wg.Done()
			ok, _ := db.FailJob(ctx, "job-1", "boom", "", now)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one terminal transition to win, got %d", winners)
	}
}

func TestFindCompletedJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	job := newTestJob("job-1", now)
	job.Fingerprint = "shared"
	if err := db.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if _, err := db.FindCompletedJob(ctx, "shared", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending job should not be found, got %v", err)
	}

	if _, err := db.MarkProcessing(ctx, "job-1", "320k", "", "", 0, now); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CompleteJob(ctx, "job-1", "/a.mp3", 1, "Title", now); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindCompletedJob(ctx, "shared", now)
	if err != nil {
		t.Fatalf("FindCompletedJob failed: %v", err)
	}
	if got.ID != "job-1" {
		t.Errorf("ID = %s, want job-1", got.ID)
	}

	// Past its expiry the job no longer counts.
	if _, err := db.FindCompletedJob(ctx, "shared", now.Add(25*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired job should not be found, got %v", err)
	}
}

func TestListExpiredJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	past := newTestJob("past", now.Add(-48*time.Hour))
	future := newTestJob("future", now)
	pending := newTestJob("pending", now.Add(-48*time.Hour))

	for _, job := range []*models.Job{past, future, pending} {
		if err := db.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}
	for _, id := range []string{"past", "future"} {
		if _, err := db.MarkProcessing(ctx, id, "320k", "", "", 0, now); err != nil {
			t.Fatal(err)
		}
		if _, err := db.CompleteJob(ctx, id, "/"+id+".mp3", 1, "", now); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := db.ListExpiredJobs(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListExpiredJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "past" {
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		t.Errorf("expired jobs = %v, want [past]", ids)
	}
}

func TestFailUnfinishedJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if err := db.CreateJob(ctx, newTestJob(id, now)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.MarkProcessing(ctx, "b", "320k", "", "", 0, now); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkProcessing(ctx, "c", "320k", "", "", 0, now); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CompleteJob(ctx, "c", "/c.mp3", 1, "", now); err != nil {
		t.Fatal(err)
	}

	n, err := db.FailUnfinishedJobs(ctx, "interrupted by restart", now)
	if err != nil {
		t.Fatalf("FailUnfinishedJobs failed: %v", err)
	}
	if n != 2 {
		t.Errorf("failed %d jobs, want 2", n)
	}

	counts, err := db.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus failed: %v", err)
	}
	if counts["failed"] != 2 || counts["completed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestUpdateDBMetrics(t *testing.T) {
	db := setupTestDB(t)
	db.UpdateDBMetrics()
}
