package interceptors

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// NewRecovery turns a handler panic into a 500 response.
func NewRecovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					slog.String("path", r.URL.Path),
					slog.Any("error", fmt.Errorf("%v", rec)),
					slog.String("stack", string(debug.Stack())),
				)
				common.WriteError(w, fmt.Errorf("panic: %v", rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
