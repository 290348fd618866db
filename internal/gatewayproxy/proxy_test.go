package gatewayproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func newTestGateway(t *testing.T, upstream string) (*Gateway, *httptest.Server) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	cfg := &Config{
		Server: ServerConfig{Addr: ":0", RequestTimeout: 0},
		Upstreams: map[string]UpstreamConfig{
			upstream: {Servers: []string{backend.URL}},
		},
		Routes: []RouteConfig{
			{Path: "/api/", Methods: []string{"GET", "POST"}, Upstream: upstream, StripPrefix: "/api", CORSOrigins: []string{"https://app.fechatter.io"}},
		},
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	gw := NewGateway(cfg, testBreakerConfig(), metrics, zerolog.Nop())
	return gw, backend
}

func TestGatewayProxiesMatchedRoute(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Echo-Path"); got != "/chats/1" {
		t.Errorf("upstream saw path %q, want /chats/1", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.fechatter.io" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestGatewayReturns404ForUnmatchedRoute(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGatewayHandlesPreflight(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	req := httptest.NewRequest(http.MethodOptions, "/api/chats/1", nil)
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("Allow-Methods not set on preflight response")
	}
}

func TestGatewayReturns503WhenNoHealthyServer(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	gw.pools["chatserver"].Servers()[0].healthy.Store(false)

	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestGatewayReturns503WhenCircuitOpen(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	breaker := gw.breakers.GetOrCreate("chatserver")
	for i := 0; i < 4; i++ {
		breaker.RecordError(1)
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("breaker state = %v, want BreakerOpen (test setup)", breaker.State())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestGatewayReturns502ForUnknownUpstream(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server:    ServerConfig{Addr: ":0"},
		Upstreams: map[string]UpstreamConfig{},
		Routes: []RouteConfig{
			{Path: "/api/", Methods: []string{"GET"}, Upstream: "ghost"},
		},
	}
	gw := NewGateway(cfg, testBreakerConfig(), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/anything", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestGatewaySetsForwardedHeadersToGatewayConstants(t *testing.T) {
	t.Parallel()

	var gotFor, gotProto, gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFor = r.Header.Get("X-Forwarded-For")
		gotProto = r.Header.Get("X-Forwarded-Proto")
		gotHost = r.Header.Get("X-Forwarded-Host")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	cfg := &Config{
		Server: ServerConfig{Addr: ":0"},
		Upstreams: map[string]UpstreamConfig{
			"chatserver": {Servers: []string{backend.URL}},
		},
		Routes: []RouteConfig{
			{Path: "/api/", Methods: []string{"GET"}, Upstream: "chatserver", StripPrefix: "/api"},
		},
	}
	gw := NewGateway(cfg, testBreakerConfig(), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotFor != "gateway" {
		t.Errorf("X-Forwarded-For = %q, want %q", gotFor, "gateway")
	}
	if gotProto != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want %q", gotProto, "http")
	}
	if gotHost != req.Host {
		t.Errorf("X-Forwarded-Host = %q, want %q", gotHost, req.Host)
	}
}

func TestGatewayRecordsSuccessOnBreaker(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, "chatserver")
	breaker := gw.breakers.GetOrCreate("chatserver")

	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if breaker.State() != BreakerClosed {
		t.Errorf("breaker state after success = %v, want BreakerClosed", breaker.State())
	}
}
