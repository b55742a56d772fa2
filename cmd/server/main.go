package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/cache"
	"github.com/klimadev/chamalead-sub000/internal/capability"
	"github.com/klimadev/chamalead-sub000/internal/config"
	"github.com/klimadev/chamalead-sub000/internal/deeplink"
	"github.com/klimadev/chamalead-sub000/internal/gateway"
	"github.com/klimadev/chamalead-sub000/internal/handler"
	"github.com/klimadev/chamalead-sub000/internal/jobs"
	"github.com/klimadev/chamalead-sub000/internal/middleware"
	"github.com/klimadev/chamalead-sub000/internal/pairing"
	"github.com/klimadev/chamalead-sub000/internal/redis"
	"github.com/klimadev/chamalead-sub000/internal/service"
	"github.com/klimadev/chamalead-sub000/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	secret, err := capability.LoadOrCreateSecret(cfg.HMACSecret, cfg.SecretFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load HMAC secret")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	store := cache.New(cfg.CacheDir, secret, cfg.CacheEnabled)
	gw := gateway.NewClient(cfg, store)

	signer := capability.NewSigner(secret)
	deepLinkService := deeplink.NewService(signer, cfg.PublicBaseURL, cfg.DeepLinkTTL())
	connectionService := service.NewConnectionService(gw)
	pairingService := service.NewPairingService(gw, cfg.PairingCodeTTL())
	instanceService := service.NewInstanceService(gw)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	sessions := pairing.NewManager(pairingService, sse.NewNotifier(broker))
	defer sessions.CloseAll()

	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, config.DeepLinkRateLimitPerMin)
	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	deepLinkHandler := handler.NewDeepLinkHandler(deepLinkService, connectionService)
	instanceHandler := handler.NewInstanceHandler(instanceService, pairingService, sessions, deepLinkService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/deep-link", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", deepLinkHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(csrfMiddleware.Handler)
		r.Mount("/", instanceHandler.Routes())
		r.Get("/pairing/events", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(store, config.CacheSweepInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
