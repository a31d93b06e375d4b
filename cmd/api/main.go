package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campverse/internal/api"
	"campverse/internal/attendance"
	"campverse/internal/audit"
	"campverse/internal/clock"
	"campverse/internal/config"
	"campverse/internal/jobs"
	"campverse/internal/logging"
	"campverse/internal/observability"
	"campverse/internal/queue"
	"campverse/internal/realtime"
	"campverse/internal/retry"
	"campverse/internal/store"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		lg.Base.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, lg.Base); err != nil {
		observability.CaptureErr(err)
		lg.Base.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	health := map[string]api.HealthCheck{"redis": redisClient.Healthy}

	runner := jobs.New(ctx, jobs.WithLogger(logger))
	serverTime := clock.NewSynced(clock.NewRedisTime(redisClient.Client).Fetch, cfg.ClockStaleAfter, clock.WithLogger(logger))
	syncTask := serverTime.Start(ctx, runner, cfg.ClockSyncInterval)
	defer syncTask.Stop()

	var (
		st   attendance.Store
		sink audit.Sink = audit.LogSink{Log: logger}
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		st = attendance.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
		}
		st = attendance.NewRepository(db.Client)
		sink = audit.NewRecorder(db.Client)
		health["db"] = db.Healthy
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// no separate worker can see this queue, so drain it here
		mem := queue.NewInMemory(256)
		q = mem
		consumer := audit.NewConsumer(mem, sink, retry.Policy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("audit consumer", zap.Error(err))
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campverse:audit", logger)
	}

	bridge := realtime.NewRedisBridge(realtime.NewHub(), redisClient.Client, logger)
	go func() {
		if err := bridge.Serve(ctx, 5*time.Second); err != nil {
			logger.Error("snapshot bridge stopped", zap.Error(err))
		}
	}()

	svc := attendance.NewService(st, serverTime, policy,
		attendance.WithBroadcaster(bridge),
		attendance.WithAuditor(audit.NewPublisher(q, logger)),
		attendance.WithRetry(cfg.RetryAttempts, cfg.RetryBaseDelay),
		attendance.WithLogger(logger),
	)

	server := api.New(svc, runner, logger, api.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		WindowTick:      time.Second,
		Health:          health,
	})

	// WriteTimeout stays unset: event streams are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// requests end with the process context so open streams let Shutdown finish
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend), zap.String("timezone", policy.Location.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
