package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/apptdesk/libs/auth"
	"github.com/md-rashed-zaman/apptdesk/libs/config"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptdesk/libs/otel"
	"github.com/md-rashed-zaman/apptdesk/libs/runtime"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/coordinator"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/handlers"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
)

// workdayFromEnv returns nil unless both bounds are configured.
func workdayFromEnv() (availability.Schedule, error) {
	startRaw := config.String("WORKDAY_START", "")
	endRaw := config.String("WORKDAY_END", "")
	if startRaw == "" || endRaw == "" {
		return nil, nil
	}
	start, err := model.ParseClock(startRaw)
	if err != nil {
		return nil, fmt.Errorf("WORKDAY_START: %w", err)
	}
	end, err := model.ParseClock(endRaw)
	if err != nil {
		return nil, fmt.Errorf("WORKDAY_END: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("WORKDAY_END must be after WORKDAY_START")
	}
	return availability.Workday{Start: start, End: end}, nil
}

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "desk-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext(context.Background())
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
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	loc, err := config.Location("DEFAULT_TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}
	idleTTL, err := config.Duration("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		panic(err)
	}
	backendTimeout, err := config.Duration("BACKEND_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	slotStep, err := config.Int("SLOT_STEP_MINUTES", 15, 5, 120)
	if err != nil {
		panic(err)
	}
	ratePerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1, 100000)
	if err != nil {
		panic(err)
	}
	schedule, err := workdayFromEnv()
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	pg := backend.NewPostgres(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	var publisher events.Publisher = events.Discard{}
	if config.Bool("EVENTS_ENABLED", true) && brokers != "" {
		kp, err := events.NewKafkaPublisher(logger, events.PublisherConfig{Brokers: brokers})
		if err != nil {
			logger.Error("event publisher init failed; events disabled", "err", err)
		} else {
			defer func() { _ = kp.Close() }()
			publisher = kp
		}
	}
	dispatcher := reminder.NewDispatcher(publisher)

	coordCfg := coordinator.Config{
		BackendTimeout:  backendTimeout,
		BusinessName:    config.String("REMINDER_BUSINESS_NAME", ""),
		SlotStepMinutes: slotStep,
	}
	if wd, ok := schedule.(availability.Workday); ok {
		coordCfg.SlotWindow = availability.Range{Start: wd.Start, End: wd.End}
	}

	registry := handlers.NewRegistry(func(sess model.Session) *coordinator.Coordinator {
		sessLogger := logger.With("org_id", sess.OrgID, "user_id", sess.UserID)
		return coordinator.New(coordinator.Deps{
			Backend:   pg,
			Checker:   availability.NewChecker(pg, schedule, sessLogger),
			Events:    publisher,
			Reminders: dispatcher,
			Logger:    sessLogger,
		}, coordCfg)
	}, idleTTL, logger)
	go registry.Run(ctx, time.Minute)

	if brokers != "" {
		// Each instance holds its own session caches, so each needs every event.
		groupID := config.String("KAFKA_GROUP_ID", service) + "-" + uuid.NewString()
		consumer := events.NewConsumer(logger, events.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topics:  config.List("KAFKA_CONSUME_TOPICS"),
		}, registry)
		go consumer.Run(ctx)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	limit := httpx.NewRateLimiter(ratePerMinute, time.Minute, handlers.OrgKey).Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0, 0, 15)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, ratePerMinute, time.Minute, "desk:rl", handlers.OrgKey)
		limit = rl.Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: rl.Ping})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	handlers.NewAPI(registry, logger).Register(mux,
		handlers.RequireSession(auth.NewVerifier(jwtSecret, 30*time.Second), loc),
		limit,
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithPanicRecovery(func(r *http.Request, v any) {
			logger.Error("handler panic", "path", r.URL.Path, "panic", v, "request_id", httpx.RequestIDFromContext(r.Context()))
		}),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "desk")
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
