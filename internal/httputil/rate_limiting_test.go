package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

func newRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/queue", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitDisabled(t *testing.T) {
	limits := NewRateLimits(&config.RateLimiting{Enabled: false})
	defer limits.Stop()

	for i := 0; i < 100; i++ {
		assert.Nil(t, limits.Limit(newRequest("198.51.100.7:1000")))
	}
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	limits := NewRateLimits(&config.RateLimiting{
		Enabled:   true,
		Threshold: 3,
		CooloffMS: 60_000,
	})
	defer limits.Stop()

	for i := 0; i < 3; i++ {
		require.Nil(t, limits.Limit(newRequest("198.51.100.7:1000")), "request %d within the burst must pass", i)
	}
	res := limits.Limit(newRequest("198.51.100.7:1000"))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusTooManyRequests, res.Code)

	// A different caller has its own bucket.
	assert.Nil(t, limits.Limit(newRequest("203.0.113.5:2000")))
}

func TestRateLimitExemptIPs(t *testing.T) {
	limits := NewRateLimits(&config.RateLimiting{
		Enabled:           true,
		Threshold:         1,
		CooloffMS:         60_000,
		ExemptIPAddresses: []string{"198.51.100.7", "10.0.0.0/8"},
	})
	defer limits.Stop()

	for i := 0; i < 10; i++ {
		assert.Nil(t, limits.Limit(newRequest("198.51.100.7:1000")), "exempt IP must never be limited")
		assert.Nil(t, limits.Limit(newRequest("10.1.2.3:1000")), "exempt CIDR must never be limited")
	}
}

func TestRateLimitTrustsForwardedForFromLoopbackOnly(t *testing.T) {
	limits := NewRateLimits(&config.RateLimiting{
		Enabled:   true,
		Threshold: 1,
		CooloffMS: 60_000,
	})
	defer limits.Stop()

	// Via local reverse proxy: the forwarded client is the caller.
	proxied := newRequest("127.0.0.1:1000")
	proxied.Header.Set("X-Forwarded-For", "203.0.113.5")
	require.Nil(t, limits.Limit(proxied))
	res := limits.Limit(proxied)
	require.NotNil(t, res, "the forwarded client shares one bucket")

	// Direct connections cannot spoof a fresh identity per request.
	direct := newRequest("198.51.100.7:1000")
	direct.Header.Set("X-Forwarded-For", "192.0.2.99")
	require.Nil(t, limits.Limit(direct))
	res = limits.Limit(direct)
	assert.NotNil(t, res, "spoofed X-Forwarded-For from a non-loopback peer is ignored")
}
