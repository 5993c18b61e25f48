// Package cache provides an in-memory query-response cache. Entries are
// keyed by normalized question text plus session, so identical questions
// within a session skip the whole inference pipeline.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

// Config controls cache behavior.
type Config struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{Enabled: true, TTL: time.Hour, MaxSize: 100}
}

type entry struct {
	key       string
	sessionID string
	question  string
	response  *models.PipelineResult
	createdAt time.Time
	expiresAt time.Time
	hits      int
}

// Stats is a point-in-time summary of cache effectiveness. Entry ages are
// in seconds since creation; all three are zero when the cache is empty.
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	TTLSecs     int     `json:"ttl_seconds"`
	OldestAge   float64 `json:"oldest_entry_age_seconds"`
	NewestAge   float64 `json:"newest_entry_age_seconds"`
	AverageAge  float64 `json:"average_entry_age_seconds"`
}

// EntryInfo describes one cached entry without exposing the cached data.
type EntryInfo struct {
	Question  string    `json:"question"`
	SessionID string    `json:"session_id"`
	Hits      int       `json:"hits"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var trailingPunct = regexp.MustCompile(`[?!.\s]+$`)
var cacheWhitespace = regexp.MustCompile(`\s+`)

// NormalizeKey canonicalizes question text for cache lookup: lower-case,
// collapsed whitespace, trailing punctuation stripped. "How many patients?"
// and "how many patients" share an entry.
func NormalizeKey(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = cacheWhitespace.ReplaceAllString(text, " ")
	return trailingPunct.ReplaceAllString(text, "")
}

// QueryCache stores pipeline results keyed by (normalized question, session).
// All methods are safe for concurrent use.
type QueryCache struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	cfg         Config
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	logger      *zap.Logger
}

// New creates a query cache.
func New(cfg Config, logger *zap.Logger) *QueryCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &QueryCache{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger.Named("cache"),
	}
}

func compositeKey(normalized, sessionID string) string {
	return sessionID + "\x1f" + normalized
}

// Get returns the cached result for a question within a session, or nil on a
// miss. Expired entries are removed on access and count as misses.
func (c *QueryCache) Get(question, sessionID string) *models.PipelineResult {
	if !c.cfg.Enabled {
		return nil
	}
	key := compositeKey(NormalizeKey(question), sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return nil
	}

	e.hits++
	c.hits++
	c.logger.Debug("Cache hit",
		zap.String("session_id", sessionID),
		zap.Int("entry_hits", e.hits))
	return e.response
}

// Set stores a pipeline result. Only successful clinical-data responses with
// usable confidence are worth caching; the caller is expected to filter, but
// Set re-checks and silently drops anything else.
func (c *QueryCache) Set(question, sessionID string, result *models.PipelineResult) {
	if !c.cfg.Enabled || result == nil {
		return
	}
	if !cacheable(result) {
		return
	}

	normalized := NormalizeKey(question)
	key := compositeKey(normalized, sessionID)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = &entry{
		key:       key,
		sessionID: sessionID,
		question:  normalized,
		response:  result,
		createdAt: now,
		expiresAt: now.Add(c.cfg.TTL),
	}
}

// cacheable reports whether a result qualifies for storage: successful,
// clinical, not itself a cache hit, and confidence above very_low.
func cacheable(result *models.PipelineResult) bool {
	if !result.Success || result.CacheHit {
		return false
	}
	if !result.Intent.IsClinical() {
		return false
	}
	if result.Confidence != nil && result.Confidence.Level == models.ConfidenceVeryLow {
		return false
	}
	return true
}

// evictOldestLocked removes the entry with the earliest creation time.
// Caller holds the write lock.
func (c *QueryCache) evictOldestLocked() {
	var oldest *entry
	for _, e := range c.entries {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.key)
		c.evictions++
		c.logger.Debug("Evicted oldest cache entry",
			zap.String("session_id", oldest.sessionID))
	}
}

// Invalidate removes the cached answer for one question within a session
// and reports whether an entry was removed.
func (c *QueryCache) Invalidate(question, sessionID string) bool {
	key := compositeKey(NormalizeKey(question), sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidateSession drops every entry belonging to a session and returns the
// number removed.
func (c *QueryCache) InvalidateSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.sessionID == sessionID {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear empties the cache and returns the number of entries removed.
// Hit/miss counters are preserved.
func (c *QueryCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.entries)
	c.entries = make(map[string]*entry)
	return removed
}

// CleanupExpired removes expired entries and returns the count removed.
func (c *QueryCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.expirations += int64(removed)
	return removed
}

// Stats returns a summary of cache state and effectiveness.
func (c *QueryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	now := time.Now()
	var oldestAge, newestAge, totalAge float64
	first := true
	for _, e := range c.entries {
		age := now.Sub(e.createdAt).Seconds()
		totalAge += age
		if first {
			oldestAge, newestAge = age, age
			first = false
			continue
		}
		if age > oldestAge {
			oldestAge = age
		}
		if age < newestAge {
			newestAge = age
		}
	}
	avgAge := 0.0
	if len(c.entries) > 0 {
		avgAge = totalAge / float64(len(c.entries))
	}

	return Stats{
		Enabled:     c.cfg.Enabled,
		Size:        len(c.entries),
		MaxSize:     c.cfg.MaxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		HitRate:     rate,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		TTLSecs:     int(c.cfg.TTL.Seconds()),
		OldestAge:   oldestAge,
		NewestAge:   newestAge,
		AverageAge:  avgAge,
	}
}

// DetailedStats returns the summary plus per-entry metadata, ordered is not
// guaranteed. Intended for the admin cache endpoint.
func (c *QueryCache) DetailedStats() (Stats, []EntryInfo) {
	stats := c.Stats()

	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, EntryInfo{
			Question:  e.question,
			SessionID: e.sessionID,
			Hits:      e.hits,
			CreatedAt: e.createdAt,
			ExpiresAt: e.expiresAt,
		})
	}
	return stats, infos
}

// Enabled reports whether caching is turned on.
func (c *QueryCache) Enabled() bool {
	return c.cfg.Enabled
}

// RequireEnabled returns ErrCacheDisabled when caching is off. Admin
// endpoints use it to reject management calls against a disabled cache.
func (c *QueryCache) RequireEnabled() error {
	if !c.cfg.Enabled {
		return apperrors.ErrCacheDisabled
	}
	return nil
}
