package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit installs a per-client token bucket. Zero values disable limiting.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if ratePerSecond <= 0 || burst <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newTokenBucketLimiter(ratePerSecond, burst)
	}
}

// WithMiddleware replaces the security, CORS, rate limit and body limit settings.
func WithMiddleware(m config.MiddlewareConfig) RouterOption {
	return func(cfg *routerConfig) {
		cfg.middleware = m
		cfg.enableLogging = m.RequestLogging
		if m.RateLimit.Enabled() {
			cfg.rateLimiter = newTokenBucketLimiter(m.RateLimit.RPS, m.RateLimit.Burst)
		} else {
			cfg.rateLimiter = nil
		}
	}
}

// WithTrustProxy makes client identification honour forwarding headers.
func WithTrustProxy(trust bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.trustProxy = trust
	}
}

// WithAuthSecrets protects the user bridge routes with HS256 bearer tokens
// signed by any of the given secrets. Empty secrets are ignored.
func WithAuthSecrets(secrets ...string) RouterOption {
	return func(cfg *routerConfig) {
		cfg.verifier = newTokenVerifier(secrets...)
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	rateLimiter   rateLimiter
	middleware    config.MiddlewareConfig
	trustProxy    bool
	verifier      *tokenVerifier
}

func newRouterConfig(logger *zap.Logger, opts []RouterOption) routerConfig {
	defaults := config.DefaultMiddleware()
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		rateLimiter:   newTokenBucketLimiter(defaults.RateLimit.RPS, defaults.RateLimit.Burst),
		middleware:    defaults,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return cfg
}

// NewRouter creates an HTTP router with standard middleware.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := newRouterConfig(logger, opts)

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.verifier, h)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", http.HandlerFunc(handler.handleHealth))
	mux.Handle("GET /api/mongo-auth/user/{email}", protect(handler.handleGetUser))
	mux.Handle("POST /api/mongo-auth/sync", protect(handler.handleSyncUser))

	var root http.Handler = mux
	root = bodyLimitMiddleware(cfg.middleware.BodyLimit, root)
	root = recoveryMiddleware(cfg.logger, root)
	root = rateLimitMiddleware(cfg.rateLimiter, cfg.trustProxy, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, cfg.trustProxy, root)
	}
	root = poweredByMiddleware(cfg.middleware.PoweredBy, root)
	root = securityMiddleware(cfg.middleware.Security, root)
	root = corsMiddleware(cfg.middleware.CORS, root)
	root = requestIDMiddleware(root)

	return root
}

// WrapStatic applies the response-shaping middleware of the API (request id,
// CORS, security headers, powered-by, access logging, panic recovery) to a
// handler served outside /api/, such as the public file server. Rate and body
// limits stay API-only.
func WrapStatic(next http.Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := newRouterConfig(logger, opts)

	root := recoveryMiddleware(cfg.logger, next)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, cfg.trustProxy, root)
	}
	root = poweredByMiddleware(cfg.middleware.PoweredBy, root)
	root = securityMiddleware(cfg.middleware.Security, root)
	root = corsMiddleware(cfg.middleware.CORS, root)
	return requestIDMiddleware(root)
}

func loggingMiddleware(logger *zap.Logger, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		requestID := requestIDFromContext(r.Context())
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("client_ip", clientIP(r, trustProxy)),
			zap.String("request_id", requestID),
		}
		if rec.status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	})
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", requestIDFromContext(r.Context())),
				)
				writeInternalError(w, fmt.Errorf("unexpected server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := r.Context()
		ctx = contextWithRequestID(ctx, requestID)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(buf)
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
