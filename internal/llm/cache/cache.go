// Package cache provides a fingerprint-keyed, TTL-bounded LRU cache of
// completions with per-fingerprint single-flight fills and an optional
// durable tier for restart survival.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"archi/internal/jsonx"
	"archi/internal/logging"
)

const (
	defaultMaxSize = 256
	defaultTTL     = time.Hour
)

// Entry is one cached completion.
type Entry struct {
	Text         string    `json:"text"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	StoredAt     time.Time `json:"stored_at"`
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Config configures the response cache.
type Config struct {
	MaxSize int
	TTL     time.Duration
	// Dir enables the durable tier when non-empty: entries are also
	// written as JSON files and read back on in-memory miss.
	Dir string
}

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, Entry]
	ttl    time.Duration
	dir    string
	hits   int64
	misses int64

	group  singleflight.Group
	now    func() time.Time
	logger logging.Logger
}

// New creates a ResponseCache.
func New(cfg Config, logger logging.Logger) *ResponseCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	l, _ := lru.New[string, Entry](cfg.MaxSize)
	c := &ResponseCache{
		lru:    l,
		ttl:    cfg.TTL,
		dir:    cfg.Dir,
		now:    time.Now,
		logger: logging.OrNop(logger),
	}
	if c.dir != "" {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			c.logger.Warn("Response cache durable tier disabled: %v", err)
			c.dir = ""
		}
	}
	return c
}

// SetClock replaces the clock (tests).
func (c *ResponseCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Fingerprint returns the stable hash identifying a completion request.
// Two requests with identical canonical prompt text share a fingerprint.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get returns a cached entry if present and unexpired, promoting its LRU
// position. Expired entries are removed.
func (c *ResponseCache) Get(fingerprint string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.lru.Get(fingerprint); ok {
		if c.now().Sub(entry.StoredAt) < c.ttl {
			c.hits++
			return entry, true
		}
		c.lru.Remove(fingerprint)
	}

	if c.dir != "" {
		if entry, ok := c.readDurable(fingerprint); ok {
			if c.now().Sub(entry.StoredAt) < c.ttl {
				c.lru.Add(fingerprint, entry)
				c.hits++
				return entry, true
			}
			os.Remove(c.durablePath(fingerprint))
		}
	}

	c.misses++
	return Entry{}, false
}

// Set inserts or replaces an entry, evicting LRU entries past the bound.
func (c *ResponseCache) Set(fingerprint string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.now()
	}
	c.lru.Add(fingerprint, entry)
	if c.dir != "" {
		c.writeDurable(fingerprint, entry)
	}
}

// GetOrFill returns the cached entry or invokes fill to produce it. At
// most one fill per fingerprint is in flight; concurrent callers await the
// same result. A fill error is returned to every waiter and nothing is
// cached.
func (c *ResponseCache) GetOrFill(fingerprint string, fill func() (Entry, error)) (Entry, bool, error) {
	if entry, ok := c.Get(fingerprint); ok {
		return entry, true, nil
	}

	v, err, shared := c.group.Do(fingerprint, func() (any, error) {
		// A concurrent filler may have completed between the miss and
		// entering the group.
		if entry, ok := c.Get(fingerprint); ok {
			return entry, nil
		}
		entry, err := fill()
		if err != nil {
			return Entry{}, err
		}
		c.Set(fingerprint, entry)
		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return v.(Entry), shared, nil
}

// ClearAll drops all entries, including the durable tier.
func (c *ResponseCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	if c.dir != "" {
		matches, _ := filepath.Glob(filepath.Join(c.dir, "*.json"))
		for _, path := range matches {
			os.Remove(path)
		}
	}
}

// GetStats returns hit/miss counters and the current size.
func (c *ResponseCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len()}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *ResponseCache) durablePath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".json")
}

func (c *ResponseCache) writeDurable(fingerprint string, entry Entry) {
	data, err := jsonx.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.durablePath(fingerprint), data, 0o644); err != nil {
		c.logger.Warn("Response cache durable write failed: %v", err)
	}
}

func (c *ResponseCache) readDurable(fingerprint string) (Entry, bool) {
	data, err := os.ReadFile(c.durablePath(fingerprint))
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := jsonx.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}
