// Command server starts the video splitter HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/api"
	"github.com/codegoblin4122/video-splitter/internal/artifact"
	"github.com/codegoblin4122/video-splitter/internal/auth"
	"github.com/codegoblin4122/video-splitter/internal/observability/logging"
	"github.com/codegoblin4122/video-splitter/internal/runner"
	"github.com/codegoblin4122/video-splitter/internal/server"
	"github.com/codegoblin4122/video-splitter/internal/storage"
	"github.com/codegoblin4122/video-splitter/internal/transcode"
)

const version = "1.2.0"

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	dataDir := flag.String("data-dir", "", "directory for uploaded inputs and segment files")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "job queue driver (memory or redis)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the job queue")
	redisPassword := flag.String("redis-password", "", "Redis password for the job queue")
	redisDB := flag.Int("redis-db", 0, "Redis database index for the job queue")
	redisQueueKey := flag.String("redis-queue-key", "", "Redis list key holding queued job IDs")
	workers := flag.Int("workers", 0, "number of concurrent split workers")
	queueSize := flag.Int("queue-size", 0, "in-memory job queue capacity")
	transcodeTimeout := flag.Duration("transcode-timeout", 0, "maximum duration for a single ffmpeg run")
	staleAfter := flag.Duration("stale-after", 0, "age after which a running job is considered orphaned on startup")
	jobRetention := flag.Duration("job-retention", 0, "how long terminal jobs and their segments are kept (0 keeps them forever)")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	jwtSecret := flag.String("jwt-secret", "", "HS256 secret for API tokens")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of issued API tokens")
	adminPassword := flag.String("admin-password", "", "password for the admin account")
	userPassword := flag.String("user-password", "", "password for the user account")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed by CORS")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VIDEO_SPLITTER_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VIDEO_SPLITTER_LOG_FORMAT")),
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("VIDEO_SPLITTER_ADDR"), ":8080")
	artifactRoot := firstNonEmpty(*dataDir, os.Getenv("VIDEO_SPLITTER_DATA_DIR"), "data/artifacts")

	artifacts, err := artifact.NewStore(artifactRoot)
	if err != nil {
		logger.Error("failed to initialise artifact store", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("VIDEO_SPLITTER_STORAGE_DRIVER"), "json"))
	var store storage.Repository
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("VIDEO_SPLITTER_DATA"), "data/store.json")
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("VIDEO_SPLITTER_POSTGRES_DSN"))
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "VIDEO_SPLITTER_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "VIDEO_SPLITTER_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "VIDEO_SPLITTER_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime: resolveDuration(*postgresMaxConnIdle, "VIDEO_SPLITTER_POSTGRES_MAX_CONN_IDLE", 0),
			ConnectTimeout:  resolveDuration(*postgresConnectTimeout, "VIDEO_SPLITTER_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("VIDEO_SPLITTER_POSTGRES_APP_NAME")),
		})
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("datastore close failed", "error", err)
		}
	}()

	var queue runner.Queue
	switch strings.ToLower(firstNonEmpty(*queueDriver, os.Getenv("VIDEO_SPLITTER_QUEUE_DRIVER"), "memory")) {
	case "memory":
		queue = runner.NewMemoryQueue(resolveInt(*queueSize, "VIDEO_SPLITTER_QUEUE_SIZE"))
	case "redis":
		queue, err = runner.NewRedisQueue(ctx, runner.RedisQueueConfig{
			Addr:     firstNonEmpty(*redisAddr, os.Getenv("VIDEO_SPLITTER_REDIS_ADDR")),
			Password: firstNonEmpty(*redisPassword, os.Getenv("VIDEO_SPLITTER_REDIS_PASSWORD")),
			DB:       resolveInt(*redisDB, "VIDEO_SPLITTER_REDIS_DB"),
			Key:      firstNonEmpty(*redisQueueKey, os.Getenv("VIDEO_SPLITTER_REDIS_QUEUE_KEY")),
		})
		if err != nil {
			logger.Error("failed to connect job queue", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unsupported queue driver", "driver", *queueDriver)
		os.Exit(1)
	}

	executor := &transcode.FFmpegExecutor{
		FFmpegPath:  firstNonEmpty(*ffmpegPath, os.Getenv("VIDEO_SPLITTER_FFMPEG_PATH")),
		FFprobePath: firstNonEmpty(*ffprobePath, os.Getenv("VIDEO_SPLITTER_FFPROBE_PATH")),
		Logger:      logging.WithComponent(logger, "transcode"),
	}

	jobRunner, err := runner.New(runner.Config{
		Store:      store,
		Artifacts:  artifacts,
		Executor:   executor,
		Queue:      queue,
		Workers:    resolveInt(*workers, "VIDEO_SPLITTER_WORKERS"),
		QueueSize:  resolveInt(*queueSize, "VIDEO_SPLITTER_QUEUE_SIZE"),
		Timeout:    resolveDuration(*transcodeTimeout, "VIDEO_SPLITTER_TRANSCODE_TIMEOUT", 0),
		StaleAfter: resolveDuration(*staleAfter, "VIDEO_SPLITTER_STALE_AFTER", 0),
		Retention:  resolveDuration(*jobRetention, "VIDEO_SPLITTER_JOB_RETENTION", 0),
		Logger:     logging.WithComponent(logger, "runner"),
	})
	if err != nil {
		logger.Error("failed to initialise job runner", "error", err)
		os.Exit(1)
	}
	jobRunner.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := jobRunner.Shutdown(shutdownCtx); err != nil {
			logger.Error("runner shutdown incomplete", "error", err)
		}
	}()

	adminPass := firstNonEmpty(*adminPassword, os.Getenv("VIDEO_SPLITTER_ADMIN_PASSWORD"))
	userPass := firstNonEmpty(*userPassword, os.Getenv("VIDEO_SPLITTER_USER_PASSWORD"))
	if adminPass == "" {
		adminPass = "admin123"
		logger.Warn("admin password not configured, using insecure default")
	}
	if userPass == "" {
		userPass = "user123"
		logger.Warn("user password not configured, using insecure default")
	}
	creds, err := auth.NewStaticCredentials(
		map[string]string{"admin": adminPass},
		map[string]string{"user": userPass},
	)
	if err != nil {
		logger.Error("failed to configure credentials", "error", err)
		os.Exit(1)
	}

	secret := firstNonEmpty(*jwtSecret, os.Getenv("VIDEO_SPLITTER_JWT_SECRET"))
	if secret == "" {
		secret = "change-me-please"
		logger.Warn("JWT secret not configured, using insecure default")
	}
	tokens, err := auth.NewIssuer(secret, resolveDuration(*tokenTTL, "VIDEO_SPLITTER_TOKEN_TTL", 0))
	if err != nil {
		logger.Error("failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	handler := &api.Handler{
		Store:       store,
		Artifacts:   artifacts,
		Runner:      jobRunner,
		Prober:      executor,
		Credentials: creds,
		Tokens:      tokens,
		Logger:      logging.WithComponent(logger, "api"),
		Version:     version,
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VIDEO_SPLITTER_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VIDEO_SPLITTER_TLS_KEY")),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("VIDEO_SPLITTER_CORS_ORIGINS"))),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to configure server", "error", err)
		os.Exit(1)
	}

	logger.Info("server starting",
		"addr", listenAddr,
		"storage_driver", driver,
		"artifact_root", artifactRoot,
		"version", version)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
