package urlcache

import "time"

// SetNow overrides the cache clock for expiry tests.
func (c *Cache) SetNow(now func() time.Time) {
	c.now = now
}
