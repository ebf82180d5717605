package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/video-service/internal/blob"
	"github.com/richardliu001/video-service/internal/config"
	"github.com/richardliu001/video-service/internal/logger"
	"github.com/richardliu001/video-service/internal/repo"
	"github.com/richardliu001/video-service/internal/service"
	httptransport "github.com/richardliu001/video-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
)

func main() {
	// 1. load config
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. metadata store
	gdb, err := repo.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis (optional read cache)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
	}

	// 5. blob store
	store, err := blob.NewStore(cfg.Storage.VideosPath, cfg.Storage.CopyBufferBytes)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// 6. repo & services
	repository := repo.NewRepository(gdb, rdb, log)
	uploads := service.NewUploadService(repository, store, service.UploadLimits{
		MaxTitleLength: cfg.Upload.MaxTitleLength,
		MaxBytes:       cfg.Upload.MaxBytes,
		CommitTimeout:  cfg.Upload.CommitTimeout,
	}, log)
	streams := service.NewStreamService(repository, store, cfg.Stream.ChunkSize, log)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Deps{
		Uploads: uploads,
		Streams: streams,
		Health: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		PreviewDir:     cfg.Storage.PreviewPath,
		DefaultVideoID: cfg.Stream.DefaultVideoID,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	}, cfg.RateLimit, log)

	// 8. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		log.Infof("video-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Info("video-server stopped")
}
