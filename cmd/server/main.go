package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mp3forge/backend/internal/api"
	"github.com/mp3forge/backend/internal/config"
	"github.com/mp3forge/backend/internal/convert"
	"github.com/mp3forge/backend/internal/db"
	"github.com/mp3forge/backend/internal/files"
	"github.com/mp3forge/backend/internal/health"
	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/logger"
	"github.com/mp3forge/backend/internal/media"
	"github.com/mp3forge/backend/internal/metrics"
	"github.com/mp3forge/backend/internal/progress"
	"github.com/mp3forge/backend/internal/retention"
	"github.com/mp3forge/backend/internal/storage"
	"github.com/mp3forge/backend/internal/websocket"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.New(&logger.Config{
		Level:     logger.ParseLevel(cfg.LogLevel),
		Component: "server",
	}))
	appLog := logger.Default()

	database, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	jobRepo := db.NewJobRepository(database)

	mediaCfg := media.DefaultConfig()
	mediaCfg.FFmpegPath = cfg.FFmpegPath
	mediaCfg.FFprobePath = cfg.FFprobePath
	extractor, err := media.New(mediaCfg)
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg: %v", err)
	}

	fm, err := files.NewManager(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis mirrors progress events across instances. The server still
	// works without it, subscribers just lose the cross-instance feed.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	var relay *progress.Relay
	var sink convert.EventSink
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		appLog.Warn(ctx, "redis unavailable, progress relay disabled", map[string]interface{}{"addr": cfg.RedisAddr})
	} else {
		relay = progress.NewRelay(redisClient)
		sink = relay
	}
	pingCancel()

	// Object storage mirrors converted artifacts. Optional in the same
	// way: uploads are skipped when the bucket is unreachable.
	var store *storage.Client
	if s, err := storage.New(&storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}); err != nil {
		appLog.Warn(ctx, "storage client init failed, artifact mirroring disabled", map[string]interface{}{"error": err.Error()})
	} else {
		bucketCtx, bucketCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.EnsureBucket(bucketCtx); err != nil {
			appLog.Warn(ctx, "storage unreachable, artifact mirroring disabled", map[string]interface{}{"endpoint": cfg.MinioEndpoint, "error": err.Error()})
		} else {
			store = s
		}
		bucketCancel()
	}

	pub := progress.NewPublisher()
	scheduler := convert.NewScheduler(extractor, jobRepo, pub, sink, cfg.WorkerCount)
	scheduler.SetTaskTimeout(time.Duration(cfg.ConversionTimeoutMinutes) * time.Minute)
	if store != nil {
		scheduler.SetArchiver(convert.NewArtifactArchiver(store))
	}

	registry := job.NewRegistry()
	svc := convert.NewService(jobRepo, scheduler, registry, time.Duration(cfg.JobTimeoutMinutes)*time.Minute)

	// Mirror feeds relayed from other instances into the local
	// publisher; events for jobs running here are filtered out.
	if relay != nil {
		go relay.Mirror(ctx, pub, registry.IsActive)
	}

	hub := websocket.NewHub()
	go hub.Run()
	wsHandler := websocket.NewHandler(hub, pub, jobRepo)

	var artifacts retention.ArtifactRemover
	if store != nil {
		artifacts = store
	}
	sweeper := retention.NewSweeper(jobRepo, fm, artifacts, time.Duration(cfg.RetentionDays)*24*time.Hour)
	go sweeper.Run(ctx)

	checkerCfg := &health.CheckerConfig{
		DB:         database.DB,
		Redis:      redisClient,
		FFmpegPath: cfg.FFmpegPath,
		Version:    version,
	}
	if store != nil {
		checkerCfg.StorageCheck = store.Ping
	}
	healthHandler := health.NewHandler(health.NewChecker(checkerCfg))

	m := metrics.Default()

	conversionHandlers := api.NewConversionHandlers(jobRepo, svc, fm, cfg.MaxFilesPerJob)
	fileHandlers := api.NewFileHandlers(jobRepo, fm, store)
	progressHandlers := api.NewProgressHandlers(jobRepo, pub)

	router := api.NewRouter(conversionHandlers, fileHandlers, progressHandlers, wsHandler, healthHandler, m)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s (workers=%d)", cfg.ServerAddr, cfg.WorkerCount)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		log.Fatalf("Server failed to start: %v", err)
	case <-ctx.Done():
	}

	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(shutdownCtx, "server shutdown failed", err)
	}

	svc.Shutdown()
	hub.Stop()
	pub.Close()
	redisClient.Close()
}
