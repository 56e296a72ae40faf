package httputil

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

var (
	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "moderationapi",
			Name:      "rate_limit_rejections",
			Help:      "Total number of requests rejected by rate limiting",
		},
		[]string{"endpoint"},
	)
	rateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "moderationapi",
			Name:      "rate_limit_allowed",
			Help:      "Total number of requests allowed by rate limiting",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(rateLimitRejections, rateLimitAllowed)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimits applies a token-bucket limit per caller IP. Entries for
// idle callers are swept in the background.
type RateLimits struct {
	limits      map[string]*limiterEntry
	mutex       sync.RWMutex
	enabled     bool
	threshold   int64
	cooloff     time.Duration
	exemptIPs   []net.IP
	exemptCIDRs []*net.IPNet
	cleanupDone chan struct{}
}

func NewRateLimits(cfg *config.RateLimiting) *RateLimits {
	l := &RateLimits{
		limits:      make(map[string]*limiterEntry),
		enabled:     cfg.Enabled,
		threshold:   cfg.Threshold,
		cooloff:     time.Duration(cfg.CooloffMS) * time.Millisecond,
		cleanupDone: make(chan struct{}),
	}
	for _, ip := range cfg.ExemptIPAddresses {
		if parsedIP := net.ParseIP(ip); parsedIP != nil {
			l.exemptIPs = append(l.exemptIPs, parsedIP)
			continue
		}
		if _, network, err := net.ParseCIDR(ip); err == nil {
			l.exemptCIDRs = append(l.exemptCIDRs, network)
		}
	}
	if l.enabled {
		go l.clean()
	}
	return l
}

// clean sweeps idle limiter entries. A snapshot of keys is taken under
// a brief read lock so the sweeper cannot starve request traffic.
func (l *RateLimits) clean() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.cleanupDone:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Minute)

			l.mutex.RLock()
			keysToCheck := make([]string, 0, len(l.limits))
			for key := range l.limits {
				keysToCheck = append(keysToCheck, key)
			}
			l.mutex.RUnlock()

			for _, key := range keysToCheck {
				l.mutex.Lock()
				entry, exists := l.limits[key]
				if exists && entry.lastSeen.Before(cutoff) {
					delete(l.limits, key)
				}
				l.mutex.Unlock()
			}
		}
	}
}

// Stop ends the sweeper goroutine. Safe to call more than once.
func (l *RateLimits) Stop() {
	if l.enabled && l.cleanupDone != nil {
		select {
		case <-l.cleanupDone:
		default:
			close(l.cleanupDone)
		}
	}
}

// Limit returns a ready-to-send rejection if the request exceeds its
// caller's budget, or nil to let it through.
func (l *RateLimits) Limit(req *http.Request) *JSONResponse {
	endpoint := endpointLabel(req)

	if !l.enabled {
		rateLimitAllowed.WithLabelValues(endpoint).Inc()
		return nil
	}

	caller := req.RemoteAddr
	var callerIP net.IP
	if ip := requestIP(req); ip != nil {
		callerIP = ip
		caller = ip.String()
	}
	if l.isExemptIP(callerIP) {
		rateLimitAllowed.WithLabelValues(endpoint).Inc()
		return nil
	}

	limiter, block := l.getLimiter(caller)
	if block || (limiter != nil && !limiter.Allow()) {
		rateLimitRejections.WithLabelValues(endpoint).Inc()
		res := MessageResponse(http.StatusTooManyRequests, "you are sending too many requests too quickly")
		return &res
	}

	rateLimitAllowed.WithLabelValues(endpoint).Inc()
	return nil
}

// getLimiter finds or creates the caller's token bucket. The bucket
// refills at threshold tokens per cooloff period and bursts up to the
// threshold. A non-positive threshold blocks everything; a non-positive
// cooloff disables limiting.
func (l *RateLimits) getLimiter(key string) (*rate.Limiter, bool) {
	if l.threshold <= 0 {
		return nil, true
	}
	if l.cooloff <= 0 {
		return nil, false
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if entry, ok := l.limits[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter, false
	}

	perSecond := rate.Limit(float64(l.threshold) * float64(time.Second) / float64(l.cooloff))
	if perSecond <= 0 {
		perSecond = rate.Limit(1)
	}
	limiter := rate.NewLimiter(perSecond, int(l.threshold))
	l.limits[key] = &limiterEntry{
		limiter:  limiter,
		lastSeen: time.Now(),
	}
	return limiter, false
}

func endpointLabel(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}
	return req.URL.Path
}

// requestIP extracts the caller's IP. X-Forwarded-For is only trusted
// when the direct peer is loopback, meaning a local reverse proxy set
// it; otherwise a remote client could spoof its way past the limiter.
func requestIP(req *http.Request) net.IP {
	if req == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	remote := net.ParseIP(host)
	if remote == nil {
		return nil
	}
	if !remote.IsLoopback() {
		return remote
	}
	forwarded := req.Header.Get("X-Forwarded-For")
	for _, part := range strings.Split(forwarded, ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip
		}
	}
	return remote
}

func (l *RateLimits) isExemptIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, exempt := range l.exemptIPs {
		if exempt.Equal(ip) {
			return true
		}
	}
	for _, network := range l.exemptCIDRs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
