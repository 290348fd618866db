package gatewayproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server wraps a Gateway with the gateway's own HTTP surface: the proxy
// handler itself plus a /gateway/health aggregate endpoint.
type Server struct {
	httpServer *http.Server
	gateway    *Gateway
	cfg        *Config
	log        zerolog.Logger
}

// NewServer builds the gateway's HTTP server, mounting the reverse-proxy
// handler at "/" and a JSON health aggregate at /gateway/health.
func NewServer(cfg *Config, gw *Gateway, logger zerolog.Logger) *Server {
	s := &Server{gateway: gw, cfg: cfg, log: logger.With().Str("component", "gatewayproxy.server").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/health", s.handleHealth)
	mux.Handle("/", gw)

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}
	return s
}

type upstreamHealth struct {
	Name    string         `json:"name"`
	Servers []serverHealth `json:"servers"`
	Circuit string         `json:"circuit_state"`
}

type serverHealth struct {
	Addr     string `json:"addr"`
	Healthy  bool   `json:"healthy"`
	InFlight int64  `json:"in_flight"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := make([]upstreamHealth, 0, len(s.gateway.pools))
	for name, pool := range s.gateway.pools {
		servers := make([]serverHealth, 0, len(pool.Servers()))
		for _, srv := range pool.Servers() {
			servers = append(servers, serverHealth{
				Addr:     srv.Addr,
				Healthy:  srv.Healthy(),
				InFlight: srv.InFlight(),
			})
		}
		breaker := s.gateway.breakers.GetOrCreate(name)
		report = append(report, upstreamHealth{
			Name:    name,
			Servers: servers,
			Circuit: breaker.State().String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health report")
	}
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Server.Addr).Msg("gateway listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests up to the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
