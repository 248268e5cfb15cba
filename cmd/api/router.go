package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/smart-expense-tagger/pkg/interceptors"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/observability"
)

var publicPaths = []string{"/health", "/health/details", "/ready", "/metrics"}

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; authentication middleware will reject requests")
	}

	registerAPIRoutes(mux, deps)
	registerUtilityRoutes(mux, deps)

	var rateLimiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		rateLimiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	chain := []interceptors.Middleware{interceptors.NewRequestID("X-Request-ID")}
	if deps.Config.Observability.TracingEnabled {
		tracer := otel.GetTracerProvider().Tracer(deps.Config.Observability.ServiceName)
		chain = append(chain, interceptors.NewTracing(tracer))
	}
	chain = append(chain,
		interceptors.NewRateLimit(rateLimiter),
		interceptors.NewRecovery(deps.Logger),
		interceptors.NewLogging(deps.Logger),
		interceptors.NewAuth(jwtSecret, publicPaths...),
	)

	// The metrics middleware reads the matched pattern, so it must sit
	// directly on the mux.
	var inner http.Handler = mux
	if deps.Config.Observability.MetricsEnabled {
		inner = observability.TrackActive("api", observability.Middleware(mux))
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           7200,
	})

	return corsHandler.Handler(interceptors.Chain(inner, chain...))
}

func registerAPIRoutes(mux *http.ServeMux, deps *Dependencies) {
	deps.TagHandler.Register(mux)
	deps.ImportHandler.Register(mux)
	deps.TransactionHandler.Register(mux)
	deps.Logger.Info("API routes configured")
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.DB.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("database unhealthy")); writeErr != nil {
				deps.Logger.Error("failed to write health response", slog.Any("error", writeErr))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /health/details", func(w http.ResponseWriter, _ *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"db":    {Status: "ok"},
			"auth":  {Status: "ok"},
			"ready": {Status: "ok"},
		}

		code := http.StatusOK
		if err := deps.DB.Health(); err != nil {
			result["db"] = status{Status: "fail", Detail: err.Error()}
			result["ready"] = status{Status: "fail", Detail: "db unavailable"}
			code = http.StatusServiceUnavailable
		}
		if deps.Config.Auth.JWTSecret == "" {
			result["auth"] = status{Status: "warn", Detail: "jwt secret missing"}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			deps.Logger.Error("failed to write readiness response", slog.Any("error", err))
		}
	})

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", observability.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
	deps.Logger.Info("registered utility routes", "paths", publicPaths)
}
