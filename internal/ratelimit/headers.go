package ratelimit

import (
	"net/http"
	"strconv"
)

// Response headers describing the caller's current window
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// WriteHeaders sets the rate-limit headers for res. Retry-After is only set
// on a denied request.
func WriteHeaders(h http.Header, res Result) {
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.ResetAt, 10))
	if !res.Allowed {
		h.Set(HeaderRetryAfter, strconv.FormatInt(res.RetryAfter, 10))
	}
}
