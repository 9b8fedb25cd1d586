// Package main runs the video worker: queue consumer, VOD transcoding
// pipeline and live stream supervisor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamforge/worker/config"
	"github.com/streamforge/worker/internal/health"
	"github.com/streamforge/worker/internal/livestream"
	"github.com/streamforge/worker/internal/notify"
	"github.com/streamforge/worker/internal/transcoder"
	"github.com/streamforge/worker/internal/videos"
	"github.com/streamforge/worker/internal/worker"
	"github.com/streamforge/worker/pkg/database"
	"github.com/streamforge/worker/pkg/redis"
	"github.com/streamforge/worker/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	notifier := notify.NewPublisher(nil, logger)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis unavailable, status notifications disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			notifier = notify.NewPublisher(rdb.Client, logger)
		}
	}

	gateway, err := storage.NewGateway(ctx, storage.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Bucket:          cfg.S3.Bucket,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	}, logger)
	if err != nil {
		logger.Fatal("object store", zap.Error(err))
	}
	if err := gateway.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket", zap.Error(err))
	}

	repo := videos.NewRepository(pool)
	prober := transcoder.NewProber(cfg.FFmpeg.FFprobePath)
	encoder := transcoder.NewEncoder(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.Preset, cfg.FFmpeg.VODSegmentSec, logger)
	pipeline := transcoder.NewPipeline(repo, gateway, prober, encoder, notifier, cfg.Worker.TmpDir, logger)

	supervisor := livestream.NewSupervisor(repo, gateway, notifier, livestream.Options{
		FFmpegPath: cfg.FFmpeg.FFmpegPath,
		Preset:     cfg.FFmpeg.Preset,
		SegmentSec: cfg.FFmpeg.LiveSegmentSec,
		WindowSize: cfg.FFmpeg.LiveWindowSize,
		TmpDir:     cfg.Worker.TmpDir,
	}, logger)

	recorder := health.NewRecorder()
	consumer := worker.NewConsumer(worker.Config{
		URL:             cfg.Broker.URL,
		Queue:           cfg.Broker.QueueName,
		Concurrency:     cfg.Worker.Concurrency,
		ConnectAttempts: cfg.Broker.ConnectAttempts,
		ReconnectDelay:  time.Duration(cfg.Broker.ReconnectDelaySec) * time.Second,
	}, pipeline, supervisor, recorder, logger)

	if err := consumer.Connect(ctx); err != nil {
		logger.Fatal("broker", zap.Error(err))
	}

	healthSrv := health.NewServer(recorder, consumer.Connected, supervisor.Count, logger)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Health.Port,
		Handler: healthSrv.Router(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(runCtx); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()
	logger.Info("worker started",
		zap.String("queue", cfg.Broker.QueueName),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	// Live sessions drain first so their last segments still upload, then the
	// consumer stops taking work.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	supervisor.StopAll(shutdownCtx)
	cancel()
	consumer.Close()
	<-done
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}
