package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"lotgate/cmd/internal/abuse"
)

// setRateLimitHeaders advertises the registration budget for the caller's address.
func setRateLimitHeaders(w http.ResponseWriter, rl abuse.RateLimit) {
	if rl.Skipped {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, rl abuse.RateLimit, now time.Time) {
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rl.ResetAt, now), 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many registrations from this address, try again later")
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	s := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
