package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/gate"
	"github.com/your-org/eventsphere/internal/imagecheck"
	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/internal/metrics"
	"github.com/your-org/eventsphere/internal/queue"
	"github.com/your-org/eventsphere/internal/quota"
	"github.com/your-org/eventsphere/internal/scanner"
	mongostore "github.com/your-org/eventsphere/internal/store/mongo"
	"github.com/your-org/eventsphere/internal/upload"
	"github.com/your-org/eventsphere/pkg/config"
	"github.com/your-org/eventsphere/pkg/logger"
	"github.com/your-org/eventsphere/pkg/storage/objectstore"
	"github.com/your-org/eventsphere/pkg/tracing"
)

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
	logr = logr.With(zap.String("service", "api"), zap.String("env", cfg.App.Environment))

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     config.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name + "-api",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	m := metrics.New()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close() //nolint:errcheck

	tracker := quota.NewTracker(quota.Config{
		Limits: quota.Limits{
			domain.RoleAttendee:  cfg.Quota.AttendeeLimit,
			domain.RoleOrganizer: cfg.Quota.OrganizerLimit,
			domain.RoleAdmin:     cfg.Quota.AdminLimit,
		},
		Window:    cfg.Quota.Window,
		KeyPrefix: cfg.Quota.KeyPrefix,
	}, quota.NewRedisCounter(rdb), m, logr)

	mongoClient, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Timeout)
	if err != nil {
		logr.Fatal("connect mongo", zap.Error(err))
	}
	db := mongostore.New(mongoClient.Database(cfg.Mongo.Database))
	if err := db.EnsureIndexes(ctx); err != nil {
		logr.Fatal("ensure indexes", zap.Error(err))
	}

	virus := scanner.New(scanner.Config{
		Enabled:    cfg.Scanner.Enabled,
		Production: cfg.App.IsProduction(),
		Timeout:    cfg.Scanner.Timeout,
	}, scanner.NewClamd(cfg.Scanner.Address()), logr)
	if err := virus.Init(ctx); err != nil {
		logr.Fatal("init virus scanner", zap.Error(err))
	}

	g := gate.New(gate.Params{
		Config: gate.Config{
			MaxSizeBytes:      cfg.Upload.MaxSizeBytes,
			MaxFilenameLength: cfg.Upload.MaxFilenameLength,
		},
		Quota:   tracker,
		Scanner: virus,
		Integrity: imagecheck.New(imagecheck.Config{
			MinDimension:         cfg.Upload.MinDimension,
			MaxDimension:         cfg.Upload.MaxDimension,
			DecodeTimeout:        cfg.Upload.DecodeTimeout,
			MaxConcurrentDecodes: cfg.Upload.MaxConcurrentDecodes,
		}),
		Metrics: m,
		Logger:  logr,
	})

	store, err := objectstore.New(ctx, objectstore.Config{
		Provider:      cfg.Storage.Provider,
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	transport, err := queue.New(cfg, queue.RoleProducer, logr)
	if err != nil {
		logr.Fatal("init job queue", zap.Error(err))
	}
	jobClient := jobs.NewClient(transport, m, logr)

	service := upload.NewService(upload.Params{
		Gate:   g,
		Store:  store,
		Events: db,
		Logger: logr,
	})

	health := upload.NewHealth(cfg.App.Environment, virus, map[string]upload.Check{
		"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"mongo":   db.Ping,
		"storage": store.Ping,
	})

	handler := upload.NewHTTPHandler(upload.HandlerParams{
		Config: upload.HandlerConfig{
			MaxSizeBytes:      cfg.Upload.MaxSizeBytes,
			MultipartMemBytes: cfg.Upload.MultipartMemBytes,
			AllowedOrigins:    cfg.CORS.AllowedOrigins,
			RateLimitRequests: cfg.RateLimit.Requests,
			RateLimitWindow:   cfg.RateLimit.Window,
			ServiceName:       cfg.App.Name + "-api",
		},
		Service: service,
		Auth:    upload.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logr),
		Quota:   tracker,
		Jobs:    jobClient,
		Health:  health,
		Logger:  logr,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("metrics server failed", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logr.Error("metrics server shutdown failed", zap.Error(err))
		}
		if err := jobClient.Close(shutdownCtx); err != nil {
			logr.Error("job queue shutdown failed", zap.Error(err))
		}
		if err := service.Close(); err != nil {
			logr.Error("object store shutdown failed", zap.Error(err))
		}
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logr.Error("mongo disconnect failed", zap.Error(err))
		}
	}()

	logr.Info("api starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("scanner", virus.State().String()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-done
	logr.Info("api stopped")
}
