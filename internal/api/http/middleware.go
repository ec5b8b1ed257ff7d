package apihttp

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"popcornstream/internal/metrics"
)

// statusRecorder captures the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.size += int64(n)
	return n, err
}

// Hijack lets /ws upgrade through the middleware chain.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// corsMiddleware reflects whitelisted origins. An empty whitelist allows any
// origin.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	whitelist := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			whitelist[o] = struct{}{}
		}
	}
	allowOrigin := func(origin string) bool {
		if len(whitelist) == 0 {
			return true
		}
		_, ok := whitelist[origin]
		return ok
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
			// Range is needed by players seeking inside /playback/{id}/stream.
			h.Set("Access-Control-Allow-Headers", "Content-Type, Range")
			h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", normalizeRoute(r.URL.Path)),
			slog.Int("status", rec.status),
			slog.Int64("bytes", rec.size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if id := attemptIDFromPath(r.URL.Path); id != "" {
			attrs = append(attrs, slog.String("attemptId", id))
		}
		if rng := r.Header.Get("Range"); rng != "" {
			attrs = append(attrs, slog.String("range", truncate(rng, 64)))
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			attrs = append(attrs, slog.String("userAgent", truncate(ua, 120)))
		}
		logger.LogAttrs(r.Context(), pickRequestLogLevel(r.URL.Path, rec.status), "http: request", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("http: panic recovered",
					slog.Any("error", err),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// normalizeRoute maps a path to a bounded label set for metrics and logs.
func normalizeRoute(path string) string {
	switch path {
	case "/metrics", "/internal/health", "/ws", "/playback", "/cache/clear", "/downloads":
		return path
	}
	switch {
	case strings.HasPrefix(path, "/playback/"):
		_, action := splitAttemptPath(path)
		switch action {
		case "":
			return "/playback/:id"
		case "file", "retry", "stream":
			return "/playback/:id/" + action
		}
	case strings.HasPrefix(path, "/watched/"):
		return "/watched/:kind/:id"
	case strings.HasPrefix(path, "/downloads/"):
		return "/downloads/:id"
	}
	return "/other"
}

// splitAttemptPath splits /playback/{id}[/{action}].
func splitAttemptPath(path string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, "/playback/"), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}

func attemptIDFromPath(path string) string {
	if !strings.HasPrefix(path, "/playback/") {
		return ""
	}
	id, _ := splitAttemptPath(path)
	return truncate(id, 64)
}

func pickRequestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case isNoisyPath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// isNoisyPath reports probes and player range requests, which arrive far more
// often than control calls.
func isNoisyPath(path string) bool {
	if path == "/internal/health" || path == "/metrics" {
		return true
	}
	_, action := splitAttemptPath(path)
	return strings.HasPrefix(path, "/playback/") && action == "stream"
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

// rateLimitMiddleware applies one token bucket to control requests. Probes
// and stream range requests bypass it so a seeking player is never throttled.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isNoisyPath(r.URL.Path) || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
