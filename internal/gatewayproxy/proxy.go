package gatewayproxy

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Gateway is the reverse-proxy request handler: it matches a route, applies
// CORS, picks a healthy upstream server gated by that upstream's circuit
// breaker, and dispatches via httputil.ReverseProxy.
type Gateway struct {
	router         *Router
	pools          map[string]*Pool
	breakers       *BreakerRegistry
	requestTimeout time.Duration
	metrics        *Metrics
	log            zerolog.Logger
}

// NewGateway builds a Gateway from a parsed Config. Pools and breakers are
// constructed once per upstream name.
func NewGateway(cfg *Config, breakerCfg BreakerConfig, metrics *Metrics, logger zerolog.Logger) *Gateway {
	pools := make(map[string]*Pool, len(cfg.Upstreams))
	for name, upCfg := range cfg.Upstreams {
		pools[name] = NewPool(name, upCfg)
	}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Gateway{
		router:         NewRouter(cfg.Routes),
		pools:          pools,
		breakers:       NewBreakerRegistry(breakerCfg),
		requestTimeout: timeout,
		metrics:        metrics,
		log:            logger.With().Str("component", "gatewayproxy").Logger(),
	}
}

// HealthCheckers returns one HealthChecker per upstream that declares a
// health_check block, keyed by upstream name, for the caller to run.
func (g *Gateway) HealthCheckers(cfg *Config) map[string]*HealthChecker {
	checkers := make(map[string]*HealthChecker)
	for name, upCfg := range cfg.Upstreams {
		if upCfg.HealthCheck == nil {
			continue
		}
		checkers[name] = NewHealthChecker(g.pools[name], *upCfg.HealthCheck, g.log)
	}
	return checkers
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, rewritten, ok := g.router.Match(r.URL.Path, r.Method)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if route.CORSEnabledOrDefault() {
		if strings.EqualFold(r.Method, http.MethodOptions) {
			if g.metrics != nil {
				g.metrics.CORSPreflights.Inc()
			}
			writePreflight(w, route)
			return
		}
		applyCORSHeaders(w, route)
	}

	pool, ok := g.pools[route.Upstream]
	if !ok {
		g.log.Error().Str("upstream", route.Upstream).Msg("route references unknown upstream")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	breaker := g.breakers.GetOrCreate(route.Upstream)
	if !breaker.Allow() {
		if g.metrics != nil {
			g.metrics.CircuitRejects.WithLabelValues(route.Upstream).Inc()
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	server, err := pool.Pick()
	if err != nil {
		if g.metrics != nil {
			g.metrics.UpstreamErrors.WithLabelValues(route.Upstream, "no_healthy_server").Inc()
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	target, err := url.Parse(server.Addr)
	if err != nil {
		g.log.Error().Err(err).Str("server", server.Addr).Msg("invalid upstream server address")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.requestTimeout)
	defer cancel()
	r = r.WithContext(ctx)
	r.URL.Path = rewritten
	// With no RemoteAddr, ReverseProxy does not append the client address to
	// the X-Forwarded-For value set by the Director below.
	r.RemoteAddr = ""

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.URL.Path = rewritten
		req.Header.Set("X-Forwarded-For", "gateway")
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", req.Host)
	}

	failed := false
	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		failed = true
		status := http.StatusBadGateway
		if ctx.Err() == context.DeadlineExceeded {
			status = http.StatusGatewayTimeout
		}
		if g.metrics != nil {
			g.metrics.UpstreamErrors.WithLabelValues(route.Upstream, "dispatch").Inc()
		}
		g.log.Warn().Err(err).Str("server", server.Addr).Msg("upstream dispatch failed")
		http.Error(rw, "bad gateway", status)
	}

	start := time.Now()
	if g.metrics != nil {
		g.metrics.ActiveConnections.Inc()
		defer g.metrics.ActiveConnections.Dec()
	}

	server.Dispatch(func() {
		proxy.ServeHTTP(w, r)
	})

	if g.metrics != nil {
		g.metrics.RequestDuration.WithLabelValues(route.Upstream).Observe(time.Since(start).Seconds())
		status := "success"
		if failed {
			status = "error"
		}
		g.metrics.RequestsTotal.WithLabelValues(route.Upstream, r.Method, status).Inc()
	}

	if failed {
		breaker.RecordError(1)
	} else {
		breaker.RecordSuccess()
	}
}
