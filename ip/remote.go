// Package ip extracts request provenance for the moderation queue.
// Queued changes must remember where they came from so that approval can
// replay the original network metadata into the save pipeline.
package ip

import (
	"net"
	"net/http"
	"strings"
)

// Provenance is the network metadata recorded on every queued change.
type Provenance struct {
	// IP is the best guess at the real client address.
	IP string
	// ForwardedFor preserves the whole proxy chain as received, since
	// abuse investigation sometimes needs the intermediate hops.
	ForwardedFor string
	// UserAgent is the client signature.
	UserAgent string
}

// FromRequest captures provenance from an incoming request. Order of
// precedence for the client address:
//   - 'X-Forwarded-For' - de facto standard, which is supported by majority of reverse proxies
//   - a custom header defined in the params
//   - req.RemoteAddr
func FromRequest(req *http.Request, customHeaderName string) Provenance {
	return Provenance{
		IP:           remoteAddr(req, customHeaderName),
		ForwardedFor: req.Header.Get("X-Forwarded-For"),
		UserAgent:    req.UserAgent(),
	}
}

func remoteAddr(req *http.Request, customHeaderName string) string {
	header := req.RemoteAddr

	possibleIPHeaders := []string{
		req.Header.Get("X-Forwarded-For"),
		req.Header.Get(customHeaderName),
		req.RemoteAddr,
	}

	// pick first with meaningful data
	for _, v := range possibleIPHeaders {
		if v != "" {
			header = v
			break
		}
	}

	// sometimes you get multiple addresses
	addresses := strings.Split(header, ",")
	if ip := net.ParseIP(strings.TrimSpace(addresses[0])); ip != nil {
		return ip.String()
	}
	// RemoteAddr usually carries a port
	if host, _, err := net.SplitHostPort(header); err == nil {
		return host
	}
	return header
}
