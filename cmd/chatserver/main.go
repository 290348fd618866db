// Command chatserver is the Fechatter chat server: authentication, chat and
// message CRUD, and the write paths that publish domain/realtime events and
// invalidate the Valkey cache.
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/dispatcher"
	"github.com/fechatter/fechatter/internal/eventpub"
	"github.com/fechatter/fechatter/internal/filestore"
	"github.com/fechatter/fechatter/internal/httputil"
	"github.com/fechatter/fechatter/internal/message"
	"github.com/fechatter/fechatter/internal/postgres"
	"github.com/fechatter/fechatter/internal/user"
	"github.com/fechatter/fechatter/internal/valkey"
	"github.com/fechatter/fechatter/internal/workspace"
)

// server holds every shared dependency the HTTP handlers close over.
type server struct {
	cfg *config.Config
	log zerolog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	userRepo      user.Repository
	workspaceRepo workspace.Repository
	chatRepo      chat.Repository
	messageRepo   message.Repository

	authService *auth.Service
	publisher   *eventpub.Publisher
	cacheAdapt  *cache.Adapter
	invalidator *cache.Invalidator
	files       filestore.Store
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("chatserver exited")
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

	logger.Info().Str("env", cfg.ServerEnv).Msg("starting chatserver")
	if cfg.CORSAllowOrigins == "*" {
		logger.Warn().Msg("CORS_ALLOW_ORIGINS is a wildcard; set an explicit origin in production")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()

	// The durable/realtime transport is NATS when reachable. A dev
	// environment without NATS still boots, falling back to an in-process
	// transport so the write paths remain exercisable.
	transport, err := dispatcher.NewNATSTransport(cfg.NATSURL, logger)
	var realtime dispatcher.Transport = transport
	var durable dispatcher.Transport = transport
	if err != nil {
		logger.Warn().Err(err).Msg("NATS unavailable, falling back to in-process event transport")
		mem := dispatcher.NewMemoryTransport()
		durable, realtime = mem, mem
	}
	disp := dispatcher.New(durable, realtime, cfg, logger)
	publisher := eventpub.NewPublisher(disp, cfg, logger)

	userRepo := user.NewPGRepository(db, logger)
	workspaceRepo := workspace.NewPGRepository(db, logger)
	chatRepo := chat.NewPGRepository(db, logger)
	messageRepo := message.NewPGRepository(db, logger)

	refreshStore := auth.NewPGRefreshStore(db, logger)
	authService, err := auth.NewService(userRepo, refreshStore, cfg, logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	files := filestore.NewLocalStore(cfg.StorageBaseDir, cfg.StorageBaseURL)

	srv := &server{
		cfg:           cfg,
		log:           logger,
		db:            db,
		rdb:           rdb,
		userRepo:      userRepo,
		workspaceRepo: workspaceRepo,
		chatRepo:      chatRepo,
		messageRepo:   messageRepo,
		authService:   authService,
		publisher:     publisher,
		cacheAdapt:    cache.NewAdapter(rdb, cfg.CacheDefaultTTL, logger),
		invalidator:   cache.NewInvalidator(rdb, cfg.CacheLockTTL),
		files:         files,
	}

	thumbWorker := filestore.NewThumbnailWorker(rdb, files, logger)
	thumbCtx, thumbCancel := context.WithCancel(context.Background())
	thumbWorker.EnsureStream(thumbCtx)
	go func() {
		if err := thumbWorker.Run(thumbCtx); err != nil && thumbCtx.Err() == nil {
			logger.Error().Err(err).Msg("thumbnail worker stopped unexpectedly")
		}
	}()

	router := srv.routes()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down chatserver")
		thumbCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("chatserver shutdown error")
		}
		if c, ok := durable.(interface{ Close() }); ok {
			c.Close()
		}
	}()

	logger.Info().Str("addr", httpServer.Addr).Msg("chatserver listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// routes assembles the chat server's HTTP surface: health, authentication
// (the hard-core domain surface per the spec), and a compact message/chat
// surface that exercises the membership and cache-invalidation pipeline.
// Generic per-entity CRUD (categories, roles, invites, ...) is treated as
// external handler-shell plumbing and is intentionally not built here.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.RequestLogger(s.log))
	r.Use(corsMiddleware(s.cfg.CORSAllowOrigins))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/signin", s.handleSignin)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.cfg.JWTSecret, auth.TokenIssuer))
			r.Use(auth.RequireWorkspace())

			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogout)
			r.Get("/me", s.handleMe)

			r.Post("/chat", s.handleCreateChat)
			r.Get("/chat", s.handleListSidebar)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireChatMembership(chatMembershipAdapter{s.chatRepo}, auth.ParseInt64Param(chi.URLParam, "chatID")))

				r.Get("/chat/{chatID}/messages", s.handleListMessages)
				r.Post("/chat/{chatID}/messages", s.handleCreateMessage)
				r.Post("/chat/{chatID}/messages/{messageID}/read", s.handleMarkRead)
			})
		})
	})

	return r
}

// chatMembershipAdapter satisfies auth.ChatMembershipChecker with the chat
// repository's ValidateChatAndMembership method.
type chatMembershipAdapter struct{ repo chat.Repository }

func (a chatMembershipAdapter) ValidateChatAndMembership(ctx context.Context, chatID, userID int64) (auth.ChatMembershipStatus, error) {
	status, err := a.repo.ValidateChatAndMembership(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	return auth.ChatMembershipStatus(status), nil
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	if err := s.db.Ping(ctx); err != nil {
		status = "degraded"
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		status = "degraded"
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": status})
}
