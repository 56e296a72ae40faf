// Package caching holds the in-memory caches shared across requests.
// There is exactly one today: the submission time of the most recent
// pending change, which backs the "new changes are waiting" indicator
// shown to reviewers, so it is read on nearly every request.
package caching

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	pendingTimestampKey = "moderation_latest_pending_ts"

	EnableMetrics  = true
	DisableMetrics = false
)

type Caches struct {
	cache  *ristretto.Cache
	maxAge time.Duration
}

// NewRistrettoCache creates the shared cache with the given estimated
// maximum memory usage in bytes.
func NewRistrettoCache(maxCost int64, maxAge time.Duration, enableMetrics bool) (*Caches, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 10,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     enableMetrics,
	})
	if err != nil {
		return nil, err
	}
	return &Caches{cache: cache, maxAge: maxAge}, nil
}

// GetPendingTimestamp returns the cached most-recent pending submission
// time. ok is false on a miss, in which case callers fall back to the
// database and re-populate.
func (c *Caches) GetPendingTimestamp() (time.Time, bool) {
	v, ok := c.cache.Get(pendingTimestampKey)
	if !ok {
		return time.Time{}, false
	}
	ts, ok := v.(time.Time)
	return ts, ok
}

// SetPendingTimestamp stores the most-recent pending submission time.
func (c *Caches) SetPendingTimestamp(ts time.Time) {
	c.cache.SetWithTTL(pendingTimestampKey, ts, 1, c.maxAge)
	// Ristretto applies writes asynchronously; Wait makes the entry
	// visible to the next reader, which the indicator relies on.
	c.cache.Wait()
}

// InvalidatePendingTimestamp drops the cached value. Called whenever a
// change is queued, approved or rejected.
func (c *Caches) InvalidatePendingTimestamp() {
	c.cache.Del(pendingTimestampKey)
	c.cache.Wait()
}
