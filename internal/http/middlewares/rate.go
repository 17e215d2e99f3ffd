package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	httperrors "github.com/dropDatabas3/cilogonauth/internal/http/errors"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/rate"
)

var errTooManyRequests = httperrors.New(http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many requests.")

// WithRateLimit limita por IP de cliente. nil = sin límite. Si el limiter
// falla se deja pasar el request.
func WithRateLimit(l rate.Limiter, scope string) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), scope+":"+ClientIP(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				httperrors.WriteError(w, errTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP toma el primer X-Forwarded-For o, si no hay, RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
