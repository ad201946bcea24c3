package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/machine-treatments/internal/config"
	"github.com/iliyamo/machine-treatments/internal/database"
	"github.com/iliyamo/machine-treatments/internal/handler"
	"github.com/iliyamo/machine-treatments/internal/logger"
	"github.com/iliyamo/machine-treatments/internal/middleware"
	"github.com/iliyamo/machine-treatments/internal/queue"
	"github.com/iliyamo/machine-treatments/internal/repository"
	"github.com/iliyamo/machine-treatments/internal/router"
	"github.com/iliyamo/machine-treatments/internal/service"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the environment may be injected

	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})
	log.Info().Str("env", cfg.Env).Str("db", cfg.MongoDB).Msg("starting machine treatments api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	store, err := database.Open(openCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		cancelOpen()
		log.Fatal().Err(err).Msg("connect to mongodb")
	}
	if err := store.EnsureIndexes(openCtx); err != nil {
		cancelOpen()
		log.Fatal().Err(err).Msg("ensure indexes")
	}
	cancelOpen()

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn().Msg("redis unavailable; list cache and rate limiting disabled")
	}

	var events handler.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled {
		events = service.NewPublisher(cfg.Events.URL)
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	if cfg.Events.ConsumerEnabled {
		go func() {
			defer close(consumerDone)
			_ = queue.NewConsumer(cfg.Events.URL, log).Run(consumerCtx)
		}()
	} else {
		close(consumerDone)
	}

	cacheCfg := config.LoadCacheConfig()
	rateCfg := config.LoadRateLimitConfig()

	treatments := handler.NewTreatmentHandler(
		repository.NewTreatmentRepo(store.DB),
		events,
		middleware.NewCacheInvalidator(cacheCfg, rdb),
		log,
	)
	auth := handler.NewAuthHandler(
		cfg,
		repository.NewUserRepo(store.DB),
		repository.NewTokenRepo(store.DB),
		events,
		log,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(log.With("http")))

	router.RegisterRoutes(e)
	router.RegisterAuth(e, auth, cfg.JWTSecret, middleware.NewTokenBucket(rateCfg, rdb, log.With("ratelimit")))
	router.RegisterTreatments(e, treatments, cfg.JWTSecret, middleware.NewRedisCache(cacheCfg, rdb))

	addr := ":" + cfg.Port
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	flushed := make(chan struct{})
	go func() {
		treatments.Close()
		auth.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-shutdownCtx.Done():
		log.Warn().Msg("change events not flushed in time")
	}
	stopConsumer()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("event consumer did not stop in time")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mongo disconnect")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info().Msg("server stopped")
}
