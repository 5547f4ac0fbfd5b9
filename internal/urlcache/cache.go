package urlcache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"reelpipe/internal/logging"
	"reelpipe/internal/storage"
)

type entry struct {
	url      string
	mintedAt time.Time
}

// Cache memoizes short-lived signed URLs for permanent object references.
//
// The TTL must sit below the signing service's real expiry so a cached URL is
// never handed out with less remaining validity than the caller expects.
// Concurrent misses for the same reference share one signing call; signing
// errors are returned to that attempt's waiters and never cached.
type Cache struct {
	signer     storage.Signer
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry

	now func() time.Time
}

// New constructs a cache over the given signer. maxEntries of 0 disables the
// size bound.
func New(signer storage.Signer, ttl time.Duration, maxEntries int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		signer:     signer,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logging.NewComponentLogger(logger, "urlcache"),
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Resolve returns an access URL for the permanent reference, minting one
// through the signer on a cache miss.
func (c *Cache) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("urlcache: empty reference")
	}

	if url, ok := c.lookup(ref); ok {
		return url, nil
	}

	result, err, shared := c.group.Do(ref, func() (any, error) {
		// Re-check under the flight: a racing caller may have refreshed the
		// entry between our miss and the flight starting.
		if url, ok := c.lookup(ref); ok {
			return url, nil
		}
		signed, err := c.signer.Sign(ctx, ref)
		if err != nil {
			return nil, err
		}
		c.store(ref, signed.URL)
		return signed.URL, nil
	})
	if err != nil {
		// Forget the failed flight so the next caller retries instead of
		// inheriting a stale error.
		c.group.Forget(ref)
		return "", err
	}
	if shared {
		c.logger.Debug("signing call coalesced", logging.String("ref", ref))
	}
	return result.(string), nil
}

// Invalidate removes one reference's entry.
func (c *Cache) Invalidate(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref)
}

// Len reports the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ref]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.mintedAt) >= c.ttl {
		delete(c.entries, ref)
		return "", false
	}
	return e.url, true
}

func (c *Cache) store(ref, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[ref] = entry{url: url, mintedAt: c.now()}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestRef string
		oldestAt  time.Time
	)
	for ref, e := range c.entries {
		if oldestRef == "" || e.mintedAt.Before(oldestAt) {
			oldestRef = ref
			oldestAt = e.mintedAt
		}
	}
	if oldestRef != "" {
		delete(c.entries, oldestRef)
	}
}
