package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arashpm/karigar/libs/config"
	"github.com/arashpm/karigar/libs/db"
	"github.com/arashpm/karigar/libs/httpx"
	"github.com/arashpm/karigar/libs/kafkax"
	otelx "github.com/arashpm/karigar/libs/otel"
	"github.com/arashpm/karigar/libs/runtime"
	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/consumer"
	"github.com/arashpm/karigar/services/dispatch-service/internal/handlers"
	"github.com/arashpm/karigar/services/dispatch-service/internal/inbox"
	"github.com/arashpm/karigar/services/dispatch-service/internal/outbox"
	"github.com/arashpm/karigar/services/dispatch-service/internal/scheduling"
	"github.com/arashpm/karigar/services/dispatch-service/internal/storage"
	"github.com/arashpm/karigar/services/dispatch-service/internal/workerdir"
)

func main() {
	service := config.String("SERVICE_NAME", "dispatch-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewDispatchRepository(pool, outboxRepo)
	inboxRepo := inbox.NewRepository(pool)

	clock := calendar.SystemClock{}
	registry := scheduling.NewRegistry()
	warmDays := config.Int("REGISTRY_WARM_DAYS", 14)
	if err := warmRegistry(ctx, repo, registry, clock, warmDays); err != nil {
		logger.Error("registry warm load failed", "err", err)
		panic(err)
	}
	committer := scheduling.NewCommitter(registry, repo)

	directory, err := workerdir.NewRemoteDirectory(config.String("WORKER_DIRECTORY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("remote worker directory init failed; using local cache", "err", err)
		directory = nil
	}
	if directory == nil {
		directory = workerdir.NewCacheDirectory(repo)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	startConsumer := func(topic string, handler consumer.Handler) {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "dispatch-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}
	startConsumer(consumer.TopicWorkerUpserted, consumer.WorkerUpsertedHandler(repo, logger))
	startConsumer(consumer.TopicTimeOffRecorded, consumer.TimeOffRecordedHandler(repo, registry, logger))

	dispatchHandler := handlers.NewDispatchHandler(repo, registry, committer, directory, clock, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/public/hours", dispatchHandler.Hours)
	mux.HandleFunc("/api/v1/public/book", dispatchHandler.Book)
	mux.HandleFunc("/api/v1/orders/reassign", dispatchHandler.Reassign)
	mux.HandleFunc("/api/v1/orders/cancel", dispatchHandler.Cancel)
	mux.HandleFunc("/api/v1/assignments", dispatchHandler.List)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimitMiddleware(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "dispatch")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// warmRegistry seeds the in-process registry with every committed off
// over the booking horizon starting today.
func warmRegistry(ctx context.Context, repo *storage.DispatchRepository, registry *scheduling.Registry, clock calendar.Clock, horizonDays int) error {
	if horizonDays <= 0 {
		horizonDays = 14
	}
	today := calendar.Today(clock)
	days := make([]calendar.Date, 0, horizonDays)
	for i := 0; i < horizonDays; i++ {
		days = append(days, calendar.AddDays(today, i))
	}
	offs, err := repo.OffsForDays(ctx, days)
	if err != nil {
		return err
	}
	for _, off := range offs {
		registry.AddOff(off.WorkerID, off.Interval)
	}
	return nil
}

// rateLimitMiddleware prefers the shared Redis fixed-window limiter
// and falls back to the per-process one when Redis is not configured.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err == nil {
			rdb := redis.NewClient(opts)
			return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "dispatch:rl").Middleware(logger, true)
		}
		logger.Error("invalid REDIS_URL; using in-process rate limiter", "err", err)
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}
