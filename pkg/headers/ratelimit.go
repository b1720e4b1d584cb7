// Package headers parses rate-limit information from provider response
// headers observed by the proxy.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimit is the quota state a provider reported on one response.
type RateLimit struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
	// RetryAfter is set when the provider asked us to back off.
	RetryAfter time.Duration
}

// Low reports whether the remaining budget is under the given fraction
// of the limit.
func (r *RateLimit) Low(fraction float64) bool {
	if r.Limit <= 0 {
		return false
	}
	return float64(r.Remaining) < float64(r.Limit)*fraction
}

// ParseRateLimit extracts rate-limit state from response headers. It
// understands the X-RateLimit-* convention used by GitHub, Slack and
// most REST APIs, plus Retry-After. Returns nil when no rate-limit
// headers are present.
func ParseRateLimit(h http.Header) *RateLimit {
	rl := &RateLimit{
		Limit:     intHeader(h, "X-RateLimit-Limit", "X-Rate-Limit-Limit", "RateLimit-Limit"),
		Remaining: intHeader(h, "X-RateLimit-Remaining", "X-Rate-Limit-Remaining", "RateLimit-Remaining"),
	}

	found := rl.Limit >= 0 || rl.Remaining >= 0

	if reset := firstHeader(h, "X-RateLimit-Reset", "X-Rate-Limit-Reset", "RateLimit-Reset"); reset != "" {
		rl.Reset = parseReset(reset)
		found = true
	}

	if ra := h.Get("Retry-After"); ra != "" {
		rl.RetryAfter = parseRetryAfter(ra)
		found = true
	}

	if !found {
		return nil
	}
	if rl.Limit < 0 {
		rl.Limit = 0
	}
	if rl.Remaining < 0 {
		rl.Remaining = 0
	}
	return rl
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// intHeader returns -1 when none of the names are present.
func intHeader(h http.Header, names ...string) int64 {
	v := firstHeader(h, names...)
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// parseReset handles both unix-epoch seconds (GitHub) and
// seconds-until-reset (Slack, RateLimit-Reset draft).
func parseReset(v string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}
	}
	// Anything this large has to be an epoch timestamp.
	if n > 1e9 {
		return time.Unix(n, 0)
	}
	return time.Now().Add(time.Duration(n) * time.Second)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
