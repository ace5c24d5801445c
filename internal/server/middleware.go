package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/tvremote/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvremote_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tvremote_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds. Connect requests include the TV handshake.",
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
	httpRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvremote_http_rate_limited_total",
			Help: "Requests rejected by a rate-limit policy.",
		},
		[]string{"policy"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpRateLimited)
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type requestIDKey struct{}

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware generates or propagates X-Request-ID headers.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = generateID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type logFieldsKey struct{}

// logFields collects fields handlers attach to the request log line.
type logFields struct {
	mu     sync.Mutex
	fields []zap.Field
}

// annotate adds fields to the request's access log entry. Handlers use it
// to record which TV and which button a request was about. It is a no-op
// outside LoggingMiddleware.
func annotate(r *http.Request, fields ...zap.Field) {
	lf, ok := r.Context().Value(logFieldsKey{}).(*logFields)
	if !ok {
		return
	}
	lf.mu.Lock()
	lf.fields = append(lf.fields, fields...)
	lf.mu.Unlock()
}

// LoggingMiddleware logs each request with its outcome and any fields the
// handler attached, and records request metrics. Paths in skipPaths are
// not logged but still counted.
func LoggingMiddleware(logger *zap.Logger, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			lf := &logFields{}
			r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, lf))

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			route := routeLabel(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			if skip[r.URL.Path] {
				return
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", sw.status),
				zap.Duration("duration", duration),
				zap.String("request_id", RequestID(r.Context())),
			}
			if id := r.PathValue("id"); id != "" {
				fields = append(fields, zap.String("device_id", id))
			}
			lf.mu.Lock()
			fields = append(fields, lf.fields...)
			lf.mu.Unlock()

			switch {
			case sw.status >= http.StatusInternalServerError:
				logger.Error("http request", fields...)
			case sw.status == http.StatusTooManyRequests:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}

// routeLabel returns the matched mux pattern so device ids in paths do not
// become metric labels.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// SecurityHeadersMiddleware adds standard security headers to all responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// VersionHeaderMiddleware adds X-TVRemote-Version to all responses.
func VersionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TVRemote-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware catches panics and returns a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestID(r.Context())),
					)
					InternalError(w, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RatePolicy limits requests whose path starts with one of Prefixes.
// A Limit of zero disables limiting for the matched paths.
type RatePolicy struct {
	Name     string
	Prefixes []string
	Limit    float64
	Burst    int
}

func (p RatePolicy) matches(path string) bool {
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware enforces per-client token buckets. Each request is
// charged to the first policy that matches its path, so list specific
// prefixes before catch-alls. Paths in skipPaths and paths no policy
// matches are not limited.
func RateLimitMiddleware(policies []RatePolicy, skipPaths []string, logger *zap.Logger) Middleware {
	limiters := make([]*clientLimiter, len(policies))
	for i, p := range policies {
		limiters[i] = &clientLimiter{limit: rate.Limit(p.Limit), burst: max(p.Burst, 1)}
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			for i, p := range policies {
				if !p.matches(r.URL.Path) {
					continue
				}
				if p.Limit <= 0 {
					break
				}
				if wait, ok := limiters[i].reserve(clientIP(r)); !ok {
					httpRateLimited.WithLabelValues(p.Name).Inc()
					logger.Debug("rate limited",
						zap.String("policy", p.Name),
						zap.String("client", clientIP(r)),
						zap.Duration("retry_after", wait),
					)
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
					RateLimited(w, p.Name+" rate limit exceeded", r.URL.Path)
					return
				}
				break
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter tracks one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// reserve takes a token for ip. When none is available it returns how long
// until one will be.
func (l *clientLimiter) reserve(ip string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.clients == nil {
		l.clients = make(map[string]*clientBucket)
	}
	b, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= 1024 {
			l.evictIdle()
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = b
	}
	now := time.Now()
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return max(d, time.Second), false
	}
	return 0, true
}

// evictIdle drops clients not seen for ten minutes. Caller holds l.mu.
func (l *clientLimiter) evictIdle() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientIP is the peer address. The API is served directly to LAN and
// loopback clients, so forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to the WebSocket handler.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
