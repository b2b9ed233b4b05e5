package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/email"
	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/internal/metrics"
	"github.com/your-org/eventsphere/internal/notify"
	"github.com/your-org/eventsphere/internal/queue"
	"github.com/your-org/eventsphere/internal/recurring"
	mongostore "github.com/your-org/eventsphere/internal/store/mongo"
	"github.com/your-org/eventsphere/pkg/config"
	"github.com/your-org/eventsphere/pkg/logger"
	"github.com/your-org/eventsphere/pkg/tracing"
)

// sweepTimeout bounds one recurring sweep.
const sweepTimeout = 30 * time.Minute

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	logr = logr.With(zap.String("service", "worker"), zap.String("env", cfg.App.Environment))

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     config.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name + "-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	m := metrics.New()

	mongoClient, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Timeout)
	if err != nil {
		logr.Fatal("connect mongo", zap.Error(err))
	}
	db := mongostore.New(mongoClient.Database(cfg.Mongo.Database))

	transport, err := queue.New(cfg, queue.RoleConsumer, logr)
	if err != nil {
		logr.Fatal("init job queue", zap.Error(err))
	}
	jobClient := jobs.NewClient(transport, m, logr)

	renderer, err := email.NewRenderer(cfg.Mail.AppName, cfg.Mail.ClientURL)
	if err != nil {
		logr.Fatal("parse email templates", zap.Error(err))
	}
	var sender email.Sender
	if cfg.Mail.MockMode() {
		logr.Warn("SMTP credentials missing, emails will be logged")
		sender = email.NewLogSender(logr)
	} else {
		smtp, err := email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, logr)
		if err != nil {
			logr.Fatal("init smtp sender", zap.Error(err))
		}
		sender = smtp
	}
	mailer := email.NewMailer(renderer, sender, cfg.Mail.AppName, cfg.Mail.ClientURL)

	policy := jobs.Policy{
		MaxAttempts:    cfg.Worker.MaxAttempts,
		InitialBackoff: cfg.Worker.InitialBackoff,
		KeepFailed:     cfg.Worker.KeepFailed,
	}
	registry := jobs.NewRegistry(policy)
	notify.NewHandlers(notify.HandlerParams{
		Mailer:      mailer,
		Events:      db,
		Attendees:   db,
		Communities: db,
		Queue:       jobClient,
		BatchSize:   cfg.Worker.FanOutBatchSize,
		Metrics:     m,
		Logger:      logr,
	}).Register(registry, policy)
	if err := registry.Require(jobs.KnownTypes()...); err != nil {
		logr.Fatal("job registry incomplete", zap.Error(err))
	}

	pool := jobs.NewPool(jobs.PoolParams{
		Transport:   transport,
		Registry:    registry,
		Concurrency: cfg.Worker.Concurrency,
		Metrics:     m,
		Logger:      logr,
	})

	generator := recurring.New(recurring.Params{
		Events:   db,
		Users:    db,
		Notifier: notify.NewPublisher(jobClient),
		Metrics:  m,
		Logger:   logr,
	})
	scheduler, err := recurring.NewScheduler(cfg.Worker.RecurringSchedule, generator, sweepTimeout, logr)
	if err != nil {
		logr.Fatal("init recurring schedule", zap.Error(err))
	}

	ops := chi.NewRouter()
	ops.Use(middleware.Recoverer)
	ops.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := `{"status":"UP"}`
		if err := db.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body = `{"status":"DEGRADED"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	ops.Method(http.MethodGet, "/metrics", m.Handler())
	ops.Get("/jobs/failed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pool.Failures().Snapshot()); err != nil {
			logr.Error("encode failed jobs", zap.Error(err))
		}
	})
	opsServer := &http.Server{
		Addr:              cfg.Worker.OpsAddr,
		Handler:           ops,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logr.Info("ops listening", zap.String("addr", cfg.Worker.OpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("ops server failed", zap.Error(err))
		}
	}()

	scheduler.Start()

	logr.Info("worker starting",
		zap.String("queue", cfg.Queue.Provider),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Bool("mock_mail", cfg.Mail.MockMode()),
	)
	runErr := pool.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logr.Error("ops server shutdown failed", zap.Error(err))
	}
	if err := jobClient.Close(shutdownCtx); err != nil {
		logr.Error("job queue shutdown failed", zap.Error(err))
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logr.Error("mongo disconnect failed", zap.Error(err))
	}
	if runErr != nil {
		logr.Fatal("worker pool failed", zap.Error(runErr))
	}
	logr.Info("worker stopped")
}
