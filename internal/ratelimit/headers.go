package ratelimit

import (
	"strconv"
)

// Standard rate limit response headers (wire contract).
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers maps a check result to the standard rate limit headers:
// X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset (epoch
// seconds), and Retry-After (seconds, denied only). These names and
// semantics are the wire contract for rate-limit-aware clients.
func Headers(check Check) map[string]string {
	headers := map[string]string{
		HeaderLimit:     strconv.FormatInt(check.Limit, 10),
		HeaderRemaining: strconv.FormatInt(check.Remaining, 10),
		HeaderReset:     strconv.FormatInt(check.ResetTime.Unix(), 10),
	}
	if check.Result == ResultDenied {
		secs := int64(check.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		headers[HeaderRetryAfter] = strconv.FormatInt(secs, 10)
	}
	return headers
}
