// Command notifyserver is the Fechatter notify server: it consumes domain
// and realtime events from NATS and fans them out to connected clients over
// per-user SSE streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/httputil"
	"github.com/fechatter/fechatter/internal/notify"
)

const consumerDurableName = "fechatter-notify"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("notifyserver exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	logger := log.Logger
	logger.Info().Msg("starting notifyserver")

	hub := notify.NewHub(cfg.SSEBufferSize, logger)
	membership := notify.NewMembershipProjector()
	presence := notify.NewPresenceStore()
	router := notify.NewRouter(hub, membership, presence, logger)

	consumer, err := notify.NewConsumer(cfg.NATSURL, consumerDurableName, router, logger)
	if err != nil {
		return fmt.Errorf("create notify consumer: %w", err)
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
			logger.Error().Err(err).Msg("notify consumer stopped unexpectedly")
		}
	}()

	notifySrv := notify.NewServer(hub, presence, cfg.JWTSecret, auth.TokenIssuer, logger)

	r := chi.NewRouter()
	r.Use(httputil.RequestLogger(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/events", notifySrv.Events)
	r.Get("/online-users", notifySrv.OnlineUsers)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: r,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down notifyserver")
		consumerCancel()
		consumer.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("notifyserver shutdown error")
		}
	}()

	logger.Info().Str("addr", httpServer.Addr).Msg("notifyserver listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
