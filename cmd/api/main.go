package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/alertclient"
	"qrattend/internal/api"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSigningKey == "dev-signing-secret-change" {
			log.Fatal("JWT_SIGNING_KEY must be set in production")
		}
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL, cfg.DBSlowThreshold)
	if err != nil {
		if db == nil {
			return err
		}
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Gorm)
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := repo.Migrate(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// single-process mode: forward alerts from here instead of cmd/worker
		mem := queue.NewInMemory(64)
		messages, _ := mem.Consume(ctx)
		go alertclient.New(cfg.AlertWebhookURL).Run(ctx, repo, messages)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:fraud_signals")
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisFixedWindow(redisClient.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	r := api.NewRouter(api.Deps{
		Config:  cfg,
		Service: attendance.NewService(repo, q),
		Repo:    repo,
		DB:      db,
		Redis:   redisClient,
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
