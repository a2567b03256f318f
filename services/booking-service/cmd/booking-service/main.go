package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/serenemind/mindsession/libs/auth"
	"github.com/serenemind/mindsession/libs/config"
	"github.com/serenemind/mindsession/libs/db"
	"github.com/serenemind/mindsession/libs/httpx"
	"github.com/serenemind/mindsession/libs/kafkax"
	otelx "github.com/serenemind/mindsession/libs/otel"
	"github.com/serenemind/mindsession/libs/runtime"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/handlers"
	"github.com/serenemind/mindsession/services/booking-service/internal/lifecycle"
	"github.com/serenemind/mindsession/services/booking-service/internal/outbox"
	"github.com/serenemind/mindsession/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8081")
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
	store := storage.NewStore(pool, outboxRepo)
	svc := booking.NewService(store, logger)
	sweeper := lifecycle.NewSweeper(store, logger, lifecycle.Config{
		Interval:       time.Duration(config.Int("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		ReconcileEvery: time.Duration(config.Int("RECONCILE_INTERVAL_SECONDS", 3600)) * time.Second,
	})
	go sweeper.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	var jwksClient *auth.JWKSClient
	if jwksURL := strings.TrimSpace(config.String("JWKS_URL", "")); jwksURL != "" {
		ttl := config.Int("JWKS_CACHE_SECONDS", 300)
		if ttl <= 0 {
			ttl = 300
		}
		jwksClient = auth.NewJWKSClient(jwksURL, time.Duration(ttl)*time.Second)
	}
	authn := handlers.NewAuthenticator(jwtSecret, jwksClient)

	bookingHandler := handlers.NewBookingHandler(svc, sweeper, logger)
	therapistHandler := handlers.NewTherapistHandler(store, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if strings.TrimSpace(brokers) != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	mux.HandleFunc("/api/v1/public/therapists", therapistHandler.List)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.Handle("/api/v1/appointments", authn.RequireRole(appointmentsMux(bookingHandler), auth.RoleUser))
	mux.Handle("/api/v1/appointments/cancel", authn.RequireRole(http.HandlerFunc(bookingHandler.Cancel), auth.RoleUser))
	mux.Handle("/api/v1/profile", authn.RequireRole(http.HandlerFunc(therapistHandler.UpsertProfile), auth.RoleUser))
	mux.Handle("/api/v1/admin/appointments", authn.RequireRole(http.HandlerFunc(bookingHandler.AdminList), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/therapists", authn.RequireRole(http.HandlerFunc(therapistHandler.Create), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/therapists/availability", authn.RequireRole(http.HandlerFunc(therapistHandler.SetAvailability), auth.RoleAdmin))

	bodyLimit := int64(1 << 20) // 1MB
	if v := config.Int("REQUEST_BODY_LIMIT_BYTES", 1048576); v > 0 {
		bodyLimit = int64(v)
	}
	requestTimeout := 10 * time.Second
	if v := config.Int("REQUEST_TIMEOUT_SECONDS", 10); v > 0 {
		requestTimeout = time.Duration(v) * time.Second
	}
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if limitPerMinute <= 0 {
		limitPerMinute = 120
	}

	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

// appointmentsMux routes GET to the listing and POST to booking on the shared
// /api/v1/appointments path.
func appointmentsMux(h *handlers.BookingHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
		case http.MethodPost:
			h.Book(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
