package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"connect-gateway/internal/audit"
	"connect-gateway/internal/jwttoken"
	"connect-gateway/internal/onboarding"
	"connect-gateway/internal/onboarding/lock"
	"connect-gateway/internal/platform/config"
	"connect-gateway/internal/platform/httpserver"
	"connect-gateway/internal/platform/logger"
	"connect-gateway/internal/platform/metrics"
	"connect-gateway/internal/platform/redis"
	"connect-gateway/internal/processor"
	httptransport "connect-gateway/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
// Every external resource is optional: without DATABASE_URL, REDIS_URL,
// KAFKA_BROKERS, or PROCESSOR_API_KEY the gateway runs self-contained for
// local development.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx := context.Background()

	var store onboarding.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := onboarding.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure ledger schema", "error", err)
			os.Exit(1)
		}
		store = pg
		log.Info("using postgres ledger store")
	} else {
		store = onboarding.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory ledger store")
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient.Client)
		log.Info("using redis provisioning lock")
	}

	var auditPublisher audit.Publisher = audit.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		auditPublisher = kafka
		log.Info("audit events publishing to kafka", "topic", cfg.AuditTopic)
	}
	defer auditPublisher.Close()

	var processorClient processor.Client
	if cfg.Processor.APIKey != "" {
		processorClient = processor.NewHTTPClient(cfg.Processor, m)
	} else {
		processorClient = &processor.MockClient{Complete: true}
		log.Warn("PROCESSOR_API_KEY not set, using mock processor client")
	}

	service := onboarding.NewService(store, processorClient, locker, auditPublisher, m, log)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "connect-gateway", "connect-gateway-api")
	verifier := processor.NewWebhookVerifier(cfg.Processor.WebhookSecret)

	router := httptransport.NewRouter(
		httptransport.NewAccountHandler(service, log),
		httptransport.NewWebhookHandler(verifier, service, m, log),
		jwtService,
		log,
	)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting connect-gateway", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("connect-gateway stopped")
}
