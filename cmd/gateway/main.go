// Command gateway is the Fechatter edge proxy: it loads a YAML route table,
// load-balances across upstream server pools with per-upstream circuit
// breakers, and runs background health checks against each upstream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter/internal/gatewayproxy"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

func run() error {
	if os.Getenv("SERVER_ENV") != "production" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	logger := log.Logger

	cfg, err := gatewayproxy.Load()
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	logger.Info().Str("addr", cfg.Server.Addr).Int("upstreams", len(cfg.Upstreams)).Msg("starting gateway")

	reg := prometheus.NewRegistry()
	metrics := gatewayproxy.NewMetrics(reg)

	gw := gatewayproxy.NewGateway(cfg, gatewayproxy.DefaultBreakerConfig(), metrics, logger)

	checkers := gw.HealthCheckers(cfg)
	checkerCtx, checkerCancel := context.WithCancel(context.Background())
	for name, hc := range checkers {
		logger.Info().Str("upstream", name).Msg("starting health checker")
		go hc.Run(checkerCtx)
	}

	srv := gatewayproxy.NewServer(cfg, gw, logger)

	metricsServer := &http.Server{
		Addr:    metricsAddr(),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("gateway metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down gateway")
		checkerCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("gateway shutdown error")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("gateway metrics shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// metricsAddr returns the gateway's metrics listen address, overridable via
// GATEWAY_METRICS_ADDR for deployments that need a non-default port.
func metricsAddr() string {
	if v := os.Getenv("GATEWAY_METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
