package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-admin-api/internal/auth"
	"catalog-admin-api/internal/cache"
	"catalog-admin-api/internal/catalog"
	"catalog-admin-api/internal/config"
	"catalog-admin-api/internal/database"
	"catalog-admin-api/internal/handlers"
	"catalog-admin-api/internal/logging"
	"catalog-admin-api/internal/middleware"
	"catalog-admin-api/internal/realtime"
	"catalog-admin-api/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "console", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init database
	db, err := database.Open(cfg.Database.Path, logging.NewGormLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn().Err(err).Msg("closing database failed")
		}
	}()

	hash, err := auth.HashPassword(cfg.Auth.AdminPassword)
	if err != nil {
		return err
	}
	created, err := database.EnsureAdmin(db, cfg.Auth.AdminUsername, hash)
	if err != nil {
		return err
	}
	if created {
		logger.Info().Str("username", cfg.Auth.AdminUsername).Msg("bootstrap admin created")
	}

	// Init cache, with the shared Redis tier when configured
	cacheOpts := []cache.Option{cache.WithLogger(logging.Component(logger, "cache"))}
	if cfg.Cache.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		remote, err := cache.DialRedis(dialCtx, cfg.Cache.RedisAddr, cfg.Cache.RedisPrefix)
		cancel()
		if err != nil {
			return err
		}
		cacheOpts = append(cacheOpts, cache.WithRemote(remote))
	}
	responseCache := cache.New(cfg.CacheService(), cacheOpts...)
	responseCache.Init(ctx)
	defer responseCache.Shutdown()

	// Relay cache activity to connected admins
	hub := realtime.NewHub()
	responseCache.Invalidator().Subscribe(func(r cache.InvalidationReport) {
		hub.Publish(realtime.EventCacheInvalidated, "", map[string]any{
			"patterns": r.Patterns,
			"removed":  r.Removed,
		})
	})
	responseCache.OnClear(func(r cache.ClearResult) {
		hub.Publish(realtime.EventCacheCleared, "", r)
	})

	appLogger := logging.Component(logger, "http")
	svc := catalog.NewService(
		catalog.NewRepository(db, database.NewGormExecutor(db)),
		responseCache,
		hub,
		logging.Component(logger, "catalog"),
	)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Setup the routes (public and admin routes)
	router := routes.SetupRoutes(handlers.Deps{
		DB:      db,
		Catalog: svc,
		Cache:   responseCache,
		Tokens:  auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.TokenTTL),
		Hub:     hub,
		Logger:  appLogger,
	}, limiter)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Evict(); n > 0 {
					logger.Debug().Int("evicted", n).Msg("idle rate limit buckets dropped")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
