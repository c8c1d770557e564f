package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
)

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationID middleware adds a correlation ID to each request
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"user_agent", r.UserAgent(),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)

					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyStore caches responses by Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	// Reserve stores value only if key is absent and reports whether it did.
	Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Set stores response under key, replacing any reservation.
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// inFlightTTL bounds how long a crashed request can hold its key.
const inFlightTTL = time.Minute

// A record with status 0 marks a request that is still running.
var inFlightRecord = []byte(`{"status":0}`)

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// mutating requests. Keys are scoped by method and path. The key is reserved
// before the handler runs; a duplicate arriving meanwhile gets 409. Only 2xx
// responses are stored, so a request that failed may be retried with the
// same key.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	reserveTTL := inFlightTTL
	if ttl > 0 && ttl < reserveTTL {
		reserveTTL = ttl
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get("Idempotency-Key")
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + idempotencyKey

			cached, found, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn("idempotency lookup failed", "error", err, "key", idempotencyKey)
				next.ServeHTTP(w, r)
				return
			}
			if found && replay(w, cached, logger, idempotencyKey) {
				return
			}
			if found {
				// Unreadable record.
				_ = store.Delete(r.Context(), key)
			}

			reserved, err := store.Reserve(r.Context(), key, inFlightRecord, reserveTTL)
			if err != nil {
				logger.Warn("idempotency reservation failed", "error", err, "key", idempotencyKey)
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				// Lost the race: the winner may already have finished.
				winner, done, err := store.Get(r.Context(), key)
				if err == nil && done && replay(w, winner, logger, idempotencyKey) {
					return
				}
				writeError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
					"a request with this Idempotency-Key is already in progress")
				return
			}

			// The outcome is stored even if the client has gone away.
			ctx := context.WithoutCancel(r.Context())
			stored := false
			defer func() {
				if stored {
					return
				}
				if err := store.Delete(ctx, key); err != nil {
					logger.Warn("idempotency release failed", "error", err, "key", idempotencyKey)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				data, err := json.Marshal(cachedResponse{Status: rec.status, Body: rec.body})
				if err == nil {
					err = store.Set(ctx, key, data, ttl)
				}
				if err != nil {
					logger.Warn("idempotency store failed", "error", err, "key", idempotencyKey)
					return
				}
				stored = true
			}
		})
	}
}

// replay writes a completed record. An in-flight record gets 409. It
// reports false only for a record it cannot read.
func replay(w http.ResponseWriter, cached []byte, logger *slog.Logger, idempotencyKey string) bool {
	var resp cachedResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		logger.Warn("discarding unreadable idempotency record", "key", idempotencyKey)
		return false
	}
	if resp.Status == 0 {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
			"a request with this Idempotency-Key is already in progress")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
	return true
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// CORS middleware
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID, Idempotency-Key")
				w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID, X-Idempotency-Replayed")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
