package interceptors

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// NewLogging logs one line per request. Server errors are logged at error
// level.
func NewLogging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			ctx := r.Context()
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.code()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", RequestIDFromContext(ctx)),
			}
			if uid, ok := common.UserIDFromContext(ctx); ok {
				attrs = append(attrs, slog.String("user_id", uid))
			}

			if sw.code() >= http.StatusInternalServerError {
				logger.ErrorContext(ctx, "request failed", attrs...)
				return
			}
			logger.InfoContext(ctx, "request", attrs...)
		})
	}
}
