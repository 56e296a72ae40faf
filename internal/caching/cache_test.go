package caching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestCache(t *testing.T, maxAge time.Duration) *Caches {
	t.Helper()
	caches, err := NewRistrettoCache(1024*1024, maxAge, false)
	require.NoError(t, err)
	return caches
}

func TestPendingTimestampRoundTrip(t *testing.T) {
	caches := createTestCache(t, time.Hour)

	_, ok := caches.GetPendingTimestamp()
	assert.False(t, ok, "cold cache must miss")

	ts := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	caches.SetPendingTimestamp(ts)

	got, ok := caches.GetPendingTimestamp()
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestPendingTimestampInvalidation(t *testing.T) {
	caches := createTestCache(t, time.Hour)

	caches.SetPendingTimestamp(time.Now())
	caches.InvalidatePendingTimestamp()

	_, ok := caches.GetPendingTimestamp()
	assert.False(t, ok, "invalidation must evict the entry")
}

func TestPendingTimestampExpiry(t *testing.T) {
	caches := createTestCache(t, 50*time.Millisecond)

	caches.SetPendingTimestamp(time.Now())
	time.Sleep(100 * time.Millisecond)

	_, ok := caches.GetPendingTimestamp()
	assert.False(t, ok, "entries must expire after the TTL")
}
