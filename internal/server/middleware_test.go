package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generated", ""},
		{"propagated", "my-trace-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
			}))
			req := httptest.NewRequest("GET", "/api/v1/connection", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			header := w.Header().Get("X-Request-ID")
			if header == "" || header != seen {
				t.Errorf("header %q, context %q", header, seen)
			}
			if tt.incoming != "" && header != tt.incoming {
				t.Errorf("X-Request-ID = %q, want %q", header, tt.incoming)
			}
		})
	}
}

// loggedMux serves a command route that annotates its button and a device
// route whose id comes from the path.
func loggedMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/connection/command", func(w http.ResponseWriter, r *http.Request) {
		annotate(r, zap.String("button", "VOLUP"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/devices/{id}", okHandler)
	mux.HandleFunc("GET /api/v1/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /healthz", okHandler)
	return mux
}

func TestLoggingMiddleware_RequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core), []string{"/healthz"})(loggedMux())

	for _, path := range []string{"/api/v1/devices/tv-42", "/healthz"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, http.NoBody))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/connection/command", strings.NewReader("{}")))

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("got %d request logs, want 2 (healthz skipped)", len(entries))
	}

	device := entries[0].ContextMap()
	if device["device_id"] != "tv-42" || device["route"] != "GET /api/v1/devices/{id}" {
		t.Errorf("device request fields = %v", device)
	}

	cmd := entries[1].ContextMap()
	if cmd["button"] != "VOLUP" {
		t.Errorf("button = %v, want VOLUP", cmd["button"])
	}
	if cmd["status"] != int64(http.StatusNoContent) {
		t.Errorf("status = %v, want 204", cmd["status"])
	}
	if _, ok := cmd["device_id"]; ok {
		t.Error("device_id logged for a route without one")
	}
}

func TestLoggingMiddleware_ServerErrorLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core), nil)(loggedMux())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/boom", http.NoBody))

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("entries = %+v, want one error-level entry", entries)
	}
}

func TestAnnotate_WithoutLoggingIsNoop(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	annotate(req, zap.String("button", "HOME"))
}

func TestResponseHeaders(t *testing.T) {
	handler := Chain(http.HandlerFunc(okHandler), SecurityHeadersMiddleware, VersionHeaderMiddleware)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/connection", http.NoBody))

	tests := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
	if w.Header().Get("X-TVRemote-Version") == "" {
		t.Error("X-TVRemote-Version not set")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"panic", func(http.ResponseWriter, *http.Request) { panic("connector exploded") }, http.StatusInternalServerError},
		{"no panic", okHandler, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RecoveryMiddleware(zap.NewNop())(tt.handler).ServeHTTP(w, httptest.NewRequest("GET", "/test", http.NoBody))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError {
				if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("content-type = %q", ct)
				}
			}
		})
	}
}

func testPolicies() []RatePolicy {
	return []RatePolicy{
		{Name: "command", Prefixes: []string{"/api/v1/connection/command"}, Limit: 1, Burst: 3},
		{Name: "pairing", Prefixes: []string{"/api/v1/connection/pin"}, Limit: 0.5, Burst: 1},
		{Name: "api", Prefixes: []string{"/"}, Limit: 0},
	}
}

func send(h http.Handler, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	req.RemoteAddr = client + ":40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_Policies(t *testing.T) {
	handler := RateLimitMiddleware(testPolicies(), nil, zap.NewNop())(http.HandlerFunc(okHandler))
	const phone = "192.168.1.20"

	if w := send(handler, "POST", "/api/v1/connection/pin", phone); w.Code != http.StatusOK {
		t.Fatalf("first PIN: status = %d", w.Code)
	}
	w := send(handler, "POST", "/api/v1/connection/pin", phone)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second PIN: status = %d, want 429", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "2" {
		t.Errorf("Retry-After = %q, want 2", ra)
	}
	if !strings.Contains(w.Body.String(), "pairing rate limit") {
		t.Errorf("body = %s", w.Body.String())
	}

	for i := range 3 {
		if w := send(handler, "POST", "/api/v1/connection/command", phone); w.Code != http.StatusOK {
			t.Fatalf("command %d: status = %d", i, w.Code)
		}
	}
	if w := send(handler, "POST", "/api/v1/connection/command", phone); w.Code != http.StatusTooManyRequests {
		t.Errorf("command past burst: status = %d, want 429", w.Code)
	}

	if w := send(handler, "POST", "/api/v1/connection/pin", "192.168.1.21"); w.Code != http.StatusOK {
		t.Errorf("second client PIN: status = %d, want its own bucket", w.Code)
	}
	for range 20 {
		if w := send(handler, "GET", "/api/v1/devices", phone); w.Code != http.StatusOK {
			t.Fatalf("unlimited policy returned %d", w.Code)
		}
	}
}

func TestRateLimitMiddleware_SkipsPaths(t *testing.T) {
	policies := []RatePolicy{{Name: "api", Prefixes: []string{"/"}, Limit: 0.001, Burst: 1}}
	handler := RateLimitMiddleware(policies, []string{"/healthz"}, zap.NewNop())(http.HandlerFunc(okHandler))

	for i := range 10 {
		if w := send(handler, "GET", "/healthz", "10.0.0.2"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
}

func TestConfig_RatePolicies(t *testing.T) {
	cfg := DefaultConfig()
	policies := cfg.RatePolicies()

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/connection/command", "command"},
		{"/api/v1/connection/connect", "pairing"},
		{"/api/v1/connection/pin", "pairing"},
		{"/api/v1/connection/cancel", "api"},
		{"/ws", "stream"},
		{"/api/v1/devices/abc", "api"},
	}
	for _, tt := range tests {
		got := ""
		for _, p := range policies {
			if p.matches(tt.path) {
				got = p.Name
				break
			}
		}
		if got != tt.want {
			t.Errorf("policy for %s = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestClientLimiter_EvictsIdle(t *testing.T) {
	l := &clientLimiter{limit: 1, burst: 1}
	l.reserve("10.0.0.1")
	l.clients["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	l.reserve("10.0.0.2")

	l.mu.Lock()
	l.evictIdle()
	n := len(l.clients)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("clients after eviction = %d, want 1", n)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
	})

	Chain(inner, mw("outer"), mw("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	if got := strings.Join(order, ","); got != "outer,inner,handler" {
		t.Errorf("order = %s", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.RemoteAddr = "192.168.1.100:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")

	if ip := clientIP(req); ip != "192.168.1.100" {
		t.Errorf("clientIP = %q, want the peer address", ip)
	}
}

func TestGenerateID(t *testing.T) {
	id1, id2 := generateID(), generateID()
	if len(id1) != 32 || id1 == id2 {
		t.Errorf("ids %q, %q", id1, id2)
	}
}

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusNotFound)
	if sw.status != http.StatusCreated {
		t.Errorf("status = %d, want first WriteHeader to win", sw.status)
	}
	if sw.Unwrap() != w {
		t.Error("Unwrap should return the wrapped writer")
	}
	if err := http.NewResponseController(sw).Flush(); err != nil {
		t.Errorf("Flush through statusWriter: %v", err)
	}
}

func TestRouteLabel(t *testing.T) {
	mux := http.NewServeMux()
	var got string
	mux.HandleFunc("GET /api/v1/devices/{id}", func(_ http.ResponseWriter, r *http.Request) {
		got = routeLabel(r)
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/devices/abc-123", http.NoBody))
	if got != "GET /api/v1/devices/{id}" {
		t.Errorf("routeLabel = %q, want the mux pattern", got)
	}
	if l := routeLabel(httptest.NewRequest("GET", "/nowhere", http.NoBody)); l != "unmatched" {
		t.Errorf("routeLabel(unrouted) = %q, want unmatched", l)
	}
}
