package interceptors

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// NewRateLimit rejects requests once limiter runs out of tokens. A nil
// limiter disables the check.
func NewRateLimit(limiter *rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				common.WriteJSON(w, http.StatusTooManyRequests, common.Response{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
