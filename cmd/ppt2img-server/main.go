// Command ppt2img-server runs the PPT-to-image conversion service: an
// HTTP/WebSocket API in front of the conversion engine. Configuration is
// taken from the environment; with no environment set it runs on :8080
// with an in-memory store and local-disk artifacts only.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/convert"
	"github.com/pengcunfu/YushuRobotPPT2IMG/engine"
	"github.com/pengcunfu/YushuRobotPPT2IMG/server"
	"github.com/pengcunfu/YushuRobotPPT2IMG/storage"
	"github.com/pengcunfu/YushuRobotPPT2IMG/store/memory"
	redisstore "github.com/pengcunfu/YushuRobotPPT2IMG/store/redis"
)

func main() {
	logger := newLogger()

	if err := run(logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := loadConfig()

	st, closeStore, err := openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := ppt2img.New(
		ppt2img.WithStore(st),
		ppt2img.WithConfig(cfg),
		ppt2img.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	pipeline := convert.NewRenderer(
		convert.WithLogger(logger),
		convert.WithSofficePath(envStr("SOFFICE_PATH", "soffice")),
		convert.WithPdftoppmPath(envStr("PDFTOPPM_PATH", "pdftoppm")),
	)

	engOpts := []engine.Option{}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		uploader, err := storage.NewMinioUploader(storage.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		}, storage.WithMinioLogger(logger))
		if err != nil {
			return err
		}
		engOpts = append(engOpts, engine.WithUploader(uploader))
		logger.Info("object storage enabled", slog.String("endpoint", endpoint))
	}

	eng, err := engine.Build(svc, pipeline, engOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := server.New(eng, logger)
	addr := envStr("LISTEN_ADDR", ":8080")
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		shutdownEngine(eng, cfg.ShutdownTimeout, logger)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	shutdownEngine(eng, cfg.ShutdownTimeout, logger)
	return nil
}

func shutdownEngine(eng *engine.Engine, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		logger.Warn("engine shutdown", slog.String("error", err.Error()))
	}
}

// openStore picks the job store from the environment: REDIS_ADDR selects
// the Redis store, otherwise jobs are kept in memory and recovered from
// the output tree on restart.
func openStore(logger *slog.Logger) (ppt2img.Storer, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Info("using in-memory job store")
		return memory.New(), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("using redis job store", slog.String("addr", addr))
	return redisstore.New(client, redisstore.WithLogger(logger)), func() { client.Close() }, nil
}

func loadConfig() ppt2img.Config {
	cfg := ppt2img.DefaultConfig()
	cfg.Concurrency = envInt("CONCURRENCY", cfg.Concurrency)
	cfg.MaxActiveJobs = envInt("MAX_ACTIVE_JOBS", cfg.MaxActiveJobs)
	cfg.OutputRoot = envStr("OUTPUT_ROOT", cfg.OutputRoot)
	cfg.UploadRoot = envStr("UPLOAD_ROOT", cfg.UploadRoot)
	cfg.Bucket = envStr("MINIO_BUCKET", cfg.Bucket)
	cfg.DefaultWidth = envInt("DEFAULT_WIDTH", cfg.DefaultWidth)
	cfg.DefaultHeight = envInt("DEFAULT_HEIGHT", cfg.DefaultHeight)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.CallbackTimeout = envDuration("CALLBACK_TIMEOUT", cfg.CallbackTimeout)
	cfg.CallbackRetries = envInt("CALLBACK_RETRIES", cfg.CallbackRetries)
	cfg.CallbackDelay = envDuration("CALLBACK_DELAY", cfg.CallbackDelay)
	cfg.CleanupInterval = envDuration("CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.RetainFor = envDuration("RETAIN_FOR", cfg.RetainFor)
	return cfg
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// ── Environment helpers ─────────────────────────────────────────────

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
