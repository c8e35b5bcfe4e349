package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultAllowedOrigins admits browser pages served from the local machine
// on any port.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1", "http://[::1]"}

// OriginPolicy decides which browser origins may drive terminals, over the
// HTTP API and the attach socket alike.
//
// An entry is "*" (any origin) or scheme://host[:port]. An entry without a
// port matches every port of that host. Requests without an Origin header
// come from non-browser clients and are always allowed.
type OriginPolicy struct {
	any     bool
	entries []originEntry
}

type originEntry struct {
	scheme, host, port string
}

// NewOriginPolicy builds a policy from allowed. An empty list falls back to
// DefaultAllowedOrigins. Malformed entries are skipped.
func NewOriginPolicy(allowed []string) *OriginPolicy {
	if len(allowed) == 0 {
		allowed = DefaultAllowedOrigins
	}
	p := &OriginPolicy{}
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "*" {
			p.any = true
			continue
		}
		if e, ok := parseOrigin(raw); ok {
			p.entries = append(p.entries, e)
		}
	}
	return p
}

func parseOrigin(raw string) (originEntry, bool) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return originEntry{}, false
	}
	return originEntry{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Hostname()),
		port:   u.Port(),
	}, true
}

// Allowed reports whether origin may be served. "" is allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	o, ok := parseOrigin(origin)
	if !ok {
		return false
	}
	for _, e := range p.entries {
		if e.scheme == o.scheme && e.host == o.host && (e.port == "" || e.port == o.port) {
			return true
		}
	}
	return false
}

// CheckRequest is a websocket.Upgrader CheckOrigin function.
func (p *OriginPolicy) CheckRequest(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}
