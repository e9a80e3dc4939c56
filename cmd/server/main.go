package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/zagdebate/backend/docs"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/database"
	"github.com/zagdebate/backend/internal/handlers"
	"github.com/zagdebate/backend/internal/hub"
	"github.com/zagdebate/backend/internal/metrics"
	mW "github.com/zagdebate/backend/internal/middleware"
	"github.com/zagdebate/backend/internal/services"
	"github.com/zagdebate/backend/internal/store"
	"github.com/zagdebate/backend/internal/store/memory"
	"github.com/zagdebate/backend/internal/store/postgres"
)

// @title Debate Platform API
// @version 1.0
// @description Debate rooms, paid joins and creator earnings
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	docs.SwaggerInfo.Host = hostOf(cfg.PublicURL)

	ctx := context.Background()

	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Str("module", "main").Msg("using in-memory storage, data is lost on restart")
		st = memory.New(cfg.Ledger.LockTimeout)
	default:
		db := database.InitDatabase(ctx, cfg.Database)
		st = postgres.New(db, cfg.Ledger.LockTimeout)
	}
	defer st.Close()

	rdb := database.InitRedis(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	auditLog := audit.NewLogger(os.Stdout)

	authService := services.NewAuthService(cfg.JWT, st, rdb)
	roomService := services.NewRoomService(st)
	joinService := services.NewJoinService(st, cfg.Ledger.Rate(), auditLog)
	withdrawService := services.NewWithdrawalService(st, cfg.Ledger.Threshold(), auditLog)
	paymentService := services.NewPaymentService(st, cfg.Payments, auditLog)
	webhookService := services.NewWebhookService(cfg.Payments.WebhookSecret, paymentService)
	inviteService := services.NewInviteService(roomService, rdb, cfg.PublicURL, cfg.InviteTTL)

	live := hub.New(cfg.Hub, authService, roomService, st, newBroadcaster(cfg.Hub, rdb))

	api := &handlers.API{
		Auth:     authService,
		Account:  handlers.NewAuthHandler(authService),
		Debates:  handlers.NewDebateHandler(roomService, joinService, withdrawService, live),
		Invites:  handlers.NewInviteHandler(inviteService),
		Payments: handlers.NewPaymentHandler(paymentService),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(mW.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Sockets are long-lived and stay outside the request timeout.
	r.Get("/ws/debates/{room_id}", live.ServeWS)
	r.Get("/ws/debates/{room_id}/", live.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		})
		r.Handle("/metrics", metrics.Handler())
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL(cfg.PublicURL+"/swagger/doc.json"),
		))

		r.Route("/api/v1", api.Routes)
		r.Post("/webhooks/payments", handlers.NewWebhookHandler(webhookService).Payments)

		r.Handle("/*", mW.StaticFileServer(cfg.StaticPath))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", server.Addr).Str("storage", cfg.Storage.Driver).
			Str("broadcaster", cfg.Hub.Broadcaster).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("module", "main").Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Str("module", "main").Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("http shutdown")
	}
	if err := live.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("hub shutdown")
	}

	log.Info().Str("module", "main").Msg("server stopped")
}

func newBroadcaster(cfg config.HubConfig, rdb *redis.Client) hub.Broadcaster {
	if cfg.Broadcaster == "redis" {
		if rdb != nil {
			return hub.NewRedisBroadcaster(rdb)
		}
		log.Warn().Str("module", "main").Msg("redis broadcaster requested but redis is unavailable, using memory")
	}
	return hub.NewMemoryBroadcaster()
}

func hostOf(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		return "localhost:8080"
	}
	return u.Host
}
