package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"admin-serverless/internal/admin"
	"admin-serverless/internal/audit"
	"admin-serverless/internal/db"
	"admin-serverless/internal/gateway"
	"admin-serverless/internal/maintenance"
	"admin-serverless/internal/observability"
	"admin-serverless/internal/ratelimit"
	"admin-serverless/internal/trust"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	sessionSecret, err := mustEnv("SESSION_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	trustSecret, err := mustEnv("TRUST_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	maxAttempts := envIntOrDefault("TWOFA_MAX_ATTEMPTS", ratelimit.DefaultMaxAttempts)
	window := envMinutesOrDefault("TWOFA_WINDOW_MINUTES", 5)

	var limiter ratelimit.Limiter
	var redisClient *redis.Client
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		redisOptions, err := redis.ParseURL(redisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOptions)
		limiter = ratelimit.NewRedis(redisClient, maxAttempts, window)
	} else {
		// Single-instance fallback: attempt counters live in this process
		// only, so horizontally scaled deployments should set REDIS_URL.
		limiter = ratelimit.NewMemory(maxAttempts, window)
		logger.Info("ratelimit_memory_backend", map[string]any{"max_attempts": maxAttempts})
	}

	repo := admin.NewRepository(database)
	sink := audit.NewDBSink(database, logger)
	signer := trust.NewSigner(trustSecret, envDaysOrDefault("TRUST_TTL_DAYS", 30))
	sessions := gateway.NewSessions(sessionSecret)
	service := gateway.NewService(repo, limiter, sink, signer, os.Getenv("TOTP_ISSUER"))
	gatewayHandler := gateway.NewHandler(service, sessions, logger)

	cleanup := maintenance.NewCleanupHandler(
		repo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUDIT_RETENTION_DAYS", 90),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/2fa", gatewayHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.HandleFunc("/maintenance/cleanup", cleanup.Handle)

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			logger.Sync()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
