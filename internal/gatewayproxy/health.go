package gatewayproxy

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultHealthyThreshold   = 1
	defaultUnhealthyThreshold = 1
)

// HealthChecker runs a background per-upstream health check loop: at the
// configured interval it issues a GET to the configured path and updates
// each server's health state without blocking request dispatch.
type HealthChecker struct {
	pool   *Pool
	cfg    HealthCheckConfig
	client *http.Client
	log    zerolog.Logger
}

// NewHealthChecker creates a HealthChecker for pool using cfg.
func NewHealthChecker(pool *Pool, cfg HealthCheckConfig, logger zerolog.Logger) *HealthChecker {
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = defaultHealthyThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	return &HealthChecker{
		pool:   pool,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.With().Str("component", "gatewayproxy.health").Str("upstream", pool.Name()).Logger(),
	}
}

// Run blocks, issuing a health check round every interval until ctx is
// cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.checkAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkAll(ctx)
		}
	}
}

func (h *HealthChecker) checkAll(ctx context.Context) {
	for _, server := range h.pool.Servers() {
		h.checkOne(ctx, server)
	}
}

func (h *HealthChecker) checkOne(ctx context.Context, server *Server) {
	ok := h.probe(ctx, server)
	if ok {
		server.consecFail.Store(0)
		succ := server.consecSucc.Add(1)
		if !server.Healthy() && int(succ) >= h.cfg.HealthyThreshold {
			server.healthy.Store(true)
			h.log.Info().Str("server", server.Addr).Msg("upstream server recovered")
		}
		return
	}

	server.consecSucc.Store(0)
	fail := server.consecFail.Add(1)
	if server.Healthy() && int(fail) >= h.cfg.UnhealthyThreshold {
		server.healthy.Store(false)
		h.log.Warn().Str("server", server.Addr).Msg("upstream server marked unhealthy")
	}
}

func (h *HealthChecker) probe(ctx context.Context, server *Server) bool {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.Addr+h.cfg.Path, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return statusExpected(resp.StatusCode, h.cfg.ExpectedStatus)
}

func statusExpected(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}
