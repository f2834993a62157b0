package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"news-admin/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "admin.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	shutdownTelemetry := core.SetupTelemetry(cfg.ServiceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	hashKey, blockKey, err := core.DeriveCookieKeys(cfg.SessionKey)
	if err != nil {
		log.Fatalf("invalid session key: %v", err)
	}
	cookies := sessions.NewCookieStore(hashKey, blockKey)

	deps := core.RouterDeps{
		Cookies:     cookies,
		Backend:     core.NewGraphQLClient(cfg.GraphQLURL, cfg.AuthHeaderScheme, cfg.BackendTimeout),
		Permissions: core.DefaultPermissions(),
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" || cfg.SessionBackend == "redis" {
		redisClient, err = core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	switch cfg.SessionBackend {
	case "redis":
		deps.Storage = core.RedisStorageFactory{
			Client: redisClient,
			TTL:    time.Duration(cfg.RememberMeMaxAge) * time.Second,
		}
		deps.Metrics = core.NewSessionMetrics(redisClient)
	case "cookie":
		deps.Storage = core.CookieStorageFactory{}
	default:
		log.Fatalf("unknown SESSION_BACKEND %q (want cookie or redis)", cfg.SessionBackend)
	}

	switch {
	case cfg.RevalidateInterval <= 0:
		deps.Cache = core.NoValidationCache{}
	case redisClient != nil:
		deps.Cache = core.NewRedisValidationCache(redisClient, cfg.RevalidateInterval)
	default:
		deps.Cache = core.NewLRUValidationCache(cfg.ValidationCacheSize, cfg.RevalidateInterval)
	}

	if cfg.DatabaseURL != "" {
		db, err := core.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect database: %v", err)
		}
		defer db.Close()
		repo := core.NewPgAuditRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to prepare audit schema: %v", err)
		}
		deps.Audit = repo
		deps.AuditLog = repo
	} else {
		deps.Audit = core.LogAuditRecorder{}
	}

	router := core.NewRouter(cfg, deps)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(router, cfg.ServiceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting admin gateway on %s (sessions=%s backend=%s)", server.Addr, cfg.SessionBackend, cfg.GraphQLURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
