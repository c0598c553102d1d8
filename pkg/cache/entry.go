package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheEntry is a stored registry response body. Only successful,
// well-formed JSON bodies are ever cached.
type CacheEntry struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
	Expires  time.Time       `json:"expires"`
}

// NewEntry wraps data for storage until now+ttl.
func NewEntry(data []byte, ttl time.Duration, now time.Time) *CacheEntry {
	return &CacheEntry{
		Data:     json.RawMessage(data),
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired reports whether the entry is stale now.
func (e *CacheEntry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is stale at t.
func (e *CacheEntry) ExpiredAt(t time.Time) bool {
	return !t.Before(e.Expires)
}

// TTL returns the remaining lifetime, 0 once expired.
func (e *CacheEntry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

// validate rejects entries decoded from a corrupted or foreign value.
func (e *CacheEntry) validate() error {
	switch {
	case len(e.Data) == 0:
		return fmt.Errorf("%w: empty data", ErrInvalidEntry)
	case e.Expires.IsZero():
		return fmt.Errorf("%w: no expiry", ErrInvalidEntry)
	case e.Expires.Before(e.CachedAt):
		return fmt.Errorf("%w: expires before it was cached", ErrInvalidEntry)
	}
	return nil
}
