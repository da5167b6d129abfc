package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/media-derivatives/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit gives every caller its own bucket per write route. A failing
// limiter lets the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := s.callerID(r) + ":" + route
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter unavailable, allowing request")
		case !decision.Allowed:
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		default:
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) callerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)); id != "" {
		return id
	}
	return anonymousRateLimitActor
}

// retryAfterSeconds rounds up so clients never retry before a token exists.
func retryAfterSeconds(d ratelimit.Decision) int {
	return max(1, int(math.Ceil(d.RetryAfter.Seconds())))
}
