package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-extractor/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func alwaysExists(string) bool { return true }

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ID3 fake mp3"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func TestFingerprint(t *testing.T) {
	base := models.Params{Bitrate: "320k", Mode: models.ModeFile}

	a := Fingerprint("dQw4w9WgXcQ", base)
	b := Fingerprint("dQw4w9WgXcQ", base)
	if a != b {
		t.Fatal("Fingerprint is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("Fingerprint length = %d, want 64 hex chars", len(a))
	}

	variants := []struct {
		name     string
		identity string
		params   models.Params
	}{
		{"identity", "aaaaaaaaaaa", base},
		{"bitrate", "dQw4w9WgXcQ", models.Params{Bitrate: "128k", Mode: models.ModeFile}},
		{"trim start", "dQw4w9WgXcQ", models.Params{Bitrate: "320k", TrimStart: 5, Mode: models.ModeFile}},
		{"trim end", "dQw4w9WgXcQ", models.Params{Bitrate: "320k", TrimEnd: 60, Mode: models.ModeFile}},
		{"mode", "dQw4w9WgXcQ", models.Params{Bitrate: "320k", Mode: models.ModeAPI}},
	}
	for _, v := range variants {
		if Fingerprint(v.identity, v.params) == a {
			t.Errorf("changing %s did not change the fingerprint", v.name)
		}
	}
}

func TestLookupHitUpdatesAccess(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	dir := t.TempDir()
	path := writeArtifact(t, dir, "a.mp3")

	c := New(Config{Now: clock.Now})
	if err := c.Insert("fp", Entry{Location: path, Size: 12, Title: "Song"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	clock.Advance(time.Minute)
	e, ok := c.Lookup("fp")
	if !ok {
		t.Fatal("expected hit")
	}
	if e.Location != path || e.Title != "Song" {
		t.Errorf("entry = %+v", e)
	}
	if e.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", e.AccessCount)
	}
	if !e.LastAccess.Equal(clock.Now()) {
		t.Errorf("LastAccess = %v, want %v", e.LastAccess, clock.Now())
	}
}

func TestLookupMissingArtifactEvicts(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "a.mp3")

	c := New(Config{})
	if err := c.Insert("fp", Entry{Location: path}); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Lookup("fp"); !ok {
		t.Fatal("expected hit while artifact exists")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Lookup("fp"); ok {
		t.Fatal("deleted artifact returned as a hit")
	}
	if c.Len() != 0 {
		t.Errorf("entry not evicted, Len() = %d", c.Len())
	}
}

func TestLookupExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{TTL: time.Hour, Exists: alwaysExists, Now: clock.Now})

	if err := c.Insert("fp", Entry{Location: "/x.mp3"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(59 * time.Minute)
	if _, ok := c.Lookup("fp"); !ok {
		t.Fatal("expected hit before TTL")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := c.Lookup("fp"); ok {
		t.Fatal("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed")
	}
}

func TestInsertEvictsLeastRecentlyAccessed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{MaxEntries: 10, Exists: alwaysExists, Now: clock.Now})

	for i := 0; i < 10; i++ {
		if err := c.Insert(fmt.Sprintf("fp-%02d", i), Entry{Location: fmt.Sprintf("/%d.mp3", i)}); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	// Touch the two oldest so they become the most recently accessed.
	for _, k := range []string{"fp-00", "fp-01"} {
		if _, ok := c.Lookup(k); !ok {
			t.Fatalf("expected hit for %s", k)
		}
		clock.Advance(time.Second)
	}

	if err := c.Insert("fp-new", Entry{Location: "/new.mp3"}); err != nil {
		t.Fatal(err)
	}

	// 20% of 10 = 2 entries evicted, then one inserted.
	if c.Len() != 9 {
		t.Errorf("Len() = %d, want 9", c.Len())
	}

	for _, k := range []string{"fp-02", "fp-03"} {
		if _, ok := c.Lookup(k); ok {
			t.Errorf("%s should have been evicted", k)
		}
	}
	for _, k := range []string{"fp-00", "fp-01", "fp-04", "fp-09", "fp-new"} {
		if _, ok := c.Lookup(k); !ok {
			t.Errorf("%s should have been kept", k)
		}
	}
}

func TestInsertEvictsAtLeastOne(t *testing.T) {
	c := New(Config{MaxEntries: 2, Exists: alwaysExists})

	_ = c.Insert("a", Entry{Location: "/a"})
	_ = c.Insert("b", Entry{Location: "/b"})
	_ = c.Insert("c", Entry{Location: "/c"})

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestReinsertDoesNotEvict(t *testing.T) {
	c := New(Config{MaxEntries: 2, Exists: alwaysExists})

	_ = c.Insert("a", Entry{Location: "/a"})
	_ = c.Insert("b", Entry{Location: "/b"})
	_ = c.Insert("b", Entry{Location: "/b2"})

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	e, ok := c.Lookup("b")
	if !ok || e.Location != "/b2" {
		t.Errorf("Lookup(b) = (%+v, %v), want replaced entry", e, ok)
	}
}

func TestInsertRejectsEmptyLocation(t *testing.T) {
	c := New(Config{})
	if err := c.Insert("fp", Entry{}); err != ErrEmptyLocation {
		t.Errorf("Insert error = %v, want ErrEmptyLocation", err)
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{TTL: time.Hour, Exists: alwaysExists, Now: clock.Now})

	_ = c.Insert("old", Entry{Location: "/old"})
	clock.Advance(45 * time.Minute)
	_ = c.Insert("new", Entry{Location: "/new"})
	clock.Advance(30 * time.Minute)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok := c.Lookup("new"); !ok {
		t.Error("new entry should survive the sweep")
	}
}

func TestRemove(t *testing.T) {
	c := New(Config{Exists: alwaysExists})
	_ = c.Insert("fp", Entry{Location: "/a"})

	if !c.Remove("fp") {
		t.Error("Remove(fp) = false, want true")
	}
	if c.Remove("fp") {
		t.Error("second Remove(fp) = true, want false")
	}
}

func TestStartStop(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{TTL: time.Minute, SweepInterval: 10 * time.Millisecond, Exists: alwaysExists, Now: clock.Now})
	_ = c.Insert("fp", Entry{Location: "/a"})
	clock.Advance(2 * time.Minute)

	c.Start(context.Background())
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Error("periodic sweep did not remove the expired entry")
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := New(Config{})
	c.Stop()
	c.Stop()
}

func TestArtifactExists(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "a.mp3")

	if !ArtifactExists(path) {
		t.Error("existing file reported missing")
	}
	if ArtifactExists(filepath.Join(dir, "missing.mp3")) {
		t.Error("missing file reported present")
	}
	if ArtifactExists(dir) {
		t.Error("directory reported as artifact")
	}
	if !ArtifactExists("https://cdn.example.com/a.mp3") {
		t.Error("remote URL should be trusted")
	}
}
