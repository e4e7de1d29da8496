// Package headers provides parsing of rate-limit response headers.
package headers

import (
	"net/http"
	"strconv"
	"time"
)

// RetryAfter extracts the server-requested retry delay from a response.
// The header carries either a delay in seconds or an HTTP-date. Returns
// false when the header is absent or unparseable, and clamps dates in
// the past to zero.
func RetryAfter(h http.Header) (time.Duration, bool) {
	value := h.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}

	return 0, false
}
