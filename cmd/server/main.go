package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"retailcore/backoffice/internal/cache"
	"retailcore/backoffice/internal/config"
	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/httpapi"
	"retailcore/backoffice/internal/logger"
	"retailcore/backoffice/internal/notify"
	"retailcore/backoffice/internal/service"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/store/memory"
	pgstore "retailcore/backoffice/internal/store/postgres"
	"retailcore/backoffice/internal/tax"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.New()
		log.Info().Msg("repository: in-memory")
		seedDevAdmin(ctx, repo, cfg.DefaultTenantID)
	}

	notifier := notify.NewRegistry()
	notifier.Register("log", notify.LogChannel{})

	productCache := cache.ProductCache(cache.Noop{})
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache and log-only notifications")
			_ = client.Close()
		} else {
			redisCache := cache.NewRedisProductCache(client)
			productCache = redisCache
			notifier.Register("redis", notify.NewRedisChannel(client))
			closers = append(closers, client.Close)
			log.Info().Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	svc := service.New(repo, tax.FlatRate{}, productCache, notifier, service.Options{
		AllowNegativeStock: cfg.AllowNegativeStock,
		AllowBackorder:     cfg.AllowBackorder,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("back office listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// seedDevAdmin makes the in-memory store usable without a database: when
// DEV_ADMIN_PASSWORD is set, an admin account is created under the default
// tenant so login works on a fresh process.
func seedDevAdmin(ctx context.Context, repo store.Repository, tenantID string) {
	password := os.Getenv("DEV_ADMIN_PASSWORD")
	if password == "" {
		return
	}
	hashed, err := httpapi.HashPassword(password)
	if err != nil {
		log.Warn().Err(err).Msg("dev admin seed failed")
		return
	}
	if err := repo.CreateUser(ctx, domain.UserAccount{
		Username: "admin",
		Password: hashed,
		TenantID: tenantID,
		Role:     "admin",
		Active:   true,
	}); err != nil {
		log.Warn().Err(err).Msg("dev admin seed failed")
	}
}
