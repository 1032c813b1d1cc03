package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/alertclient"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes fraud signal messages and forwards them to the alert webhook.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL, cfg.DBSlowThreshold)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, consumer will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, "qrattend:fraud_signals")
	repo := attendance.NewRepository(db.Gorm)
	alerts := alertclient.New(cfg.AlertWebhookURL)
	if alerts.Skip {
		log.Println("ALERT_WEBHOOK_URL not set, signals will be consumed without delivery")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.WorkerMetricsAddr, mux); err != nil {
			log.Printf("worker metrics server: %v", err)
		}
	}()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	alerts.Run(ctx, repo, messages)
	log.Println("worker stopped")
}
