package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campverse/internal/audit"
	"campverse/internal/config"
	"campverse/internal/logging"
	"campverse/internal/observability"
	"campverse/internal/queue"
	"campverse/internal/retry"
	"campverse/internal/store"
)

var version = "dev"

// Worker drains audit entries from the Redis queue into Postgres.
func main() {
	cfg := config.Load()
	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Closer()
	logger := lg.Base.With(zap.String("component", "audit_worker"))

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, db.Client); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, "campverse:audit", logger)
	consumer := audit.NewConsumer(q, audit.NewRecorder(db.Client),
		retry.Policy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}, logger)
	if err := consumer.Run(ctx); err != nil {
		observability.CaptureErr(err)
		logger.Fatal("consumer stopped", zap.Error(err))
	}
}
