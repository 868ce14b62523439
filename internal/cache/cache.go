// Package cache maps job fingerprints to completed artifacts.
//
// Entries expire after a TTL and the table is bounded: once it reaches its
// ceiling the least recently accessed 20% are evicted before an insert. An
// entry is only served while its backing artifact still exists; a hit whose
// file has disappeared is evicted and reported as a miss.
package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
	"media-extractor/internal/models"
)

const (
	// DefaultTTL bounds how long an entry is served.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries is the entry ceiling.
	DefaultMaxEntries = 1000

	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = 5 * time.Minute

	// evictFraction of entries is purged when the ceiling is reached.
	evictFraction = 0.2
)

// Fingerprint derives the cache key for a source identity and its transform
// parameters. mode is part of the key because file and API artifacts are
// served differently.
func Fingerprint(identity string, params models.Params) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		identity,
		params.Bitrate,
		strconv.FormatFloat(params.TrimStart, 'f', 3, 64),
		strconv.FormatFloat(params.TrimEnd, 'f', 3, 64),
		string(params.Mode),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry describes a cached artifact.
type Entry struct {
	Location    string
	Size        int64
	Title       string
	JobID       string
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
}

// Config configures a Cache. Zero values select defaults.
type Config struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration

	// Exists reports whether the artifact at location can still be served.
	// Defaults to ArtifactExists.
	Exists func(location string) bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry

	ttl           time.Duration
	maxEntries    int
	sweepInterval time.Duration
	exists        func(string) bool
	now           func() time.Time
	log           logging.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// ErrEmptyLocation is returned when inserting an entry without a location.
var ErrEmptyLocation = errors.New("cache entry has no location")

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Exists == nil {
		cfg.Exists = ArtifactExists
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		entries:       make(map[string]*Entry),
		ttl:           cfg.TTL,
		maxEntries:    cfg.MaxEntries,
		sweepInterval: cfg.SweepInterval,
		exists:        cfg.Exists,
		now:           cfg.Now,
		log:           logging.Named("cache"),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// ArtifactExists checks local paths with os.Stat. Remote URLs handed back by
// the conversion API cannot be checked cheaply and are trusted until TTL.
func ArtifactExists(location string) bool {
	if models.IsRemoteLocation(location) {
		return true
	}
	info, err := os.Stat(location)
	return err == nil && info.Mode().IsRegular()
}

// Lookup returns the entry for fingerprint and records the access.
func (c *Cache) Lookup(fingerprint string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues("absent").Inc()
		return Entry{}, false
	}

	now := c.now()
	if now.Sub(e.CreatedAt) >= c.ttl {
		c.removeLocked(fingerprint, "ttl")
		metrics.CacheMissesTotal.WithLabelValues("expired").Inc()
		return Entry{}, false
	}

	if !c.exists(e.Location) {
		c.log.Warn("artifact for %s vanished from %s, evicting", shortKey(fingerprint), e.Location)
		c.removeLocked(fingerprint, "missing_artifact")
		metrics.CacheMissesTotal.WithLabelValues("missing_artifact").Inc()
		return Entry{}, false
	}

	e.LastAccess = now
	e.AccessCount++
	metrics.CacheHitsTotal.Inc()
	return *e, true
}

// Insert stores an entry, evicting the least recently accessed 20% first if
// the cache is full. Re-inserting an existing fingerprint replaces it.
func (c *Cache) Insert(fingerprint string, entry Entry) error {
	if entry.Location == "" {
		return ErrEmptyLocation
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccess.IsZero() {
		entry.LastAccess = now
	}

	if _, exists := c.entries[fingerprint]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	c.entries[fingerprint] = &entry
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return nil
}

// evictLocked removes the least recently accessed fraction of entries.
func (c *Cache) evictLocked() {
	n := int(float64(len(c.entries)) * evictFraction)
	if n < 1 {
		n = 1
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.LastAccess.Equal(b.LastAccess) {
			return keys[i] < keys[j]
		}
		return a.LastAccess.Before(b.LastAccess)
	})

	for _, k := range keys[:n] {
		c.removeLocked(k, "capacity")
	}
	c.log.Debug("evicted %d least recently used entries", n)
}

func (c *Cache) removeLocked(fingerprint, reason string) {
	delete(c.entries, fingerprint)
	metrics.CacheEvictionsTotal.WithLabelValues(reason).Inc()
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// Remove drops an entry, e.g. when its artifact is deleted by the cleanup sweep.
func (c *Cache) Remove(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fingerprint]; !ok {
		return false
	}
	c.removeLocked(fingerprint, "removed")
	return true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes entries older than the TTL and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) >= c.ttl {
			c.removeLocked(k, "ttl")
			removed++
		}
	}
	return removed
}

// Start runs Sweep every SweepInterval until ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.Info("swept %d expired entries (%d remaining)", n, c.Len())
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop started by Start and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	if c.started.Load() {
		<-c.done
	}
}

func shortKey(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
