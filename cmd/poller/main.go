package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/video-service/internal/blob"
	"github.com/richardliu001/video-service/internal/config"
	"github.com/richardliu001/video-service/internal/logger"
	"github.com/richardliu001/video-service/internal/relay"
	"github.com/richardliu001/video-service/internal/repo"
	"github.com/richardliu001/video-service/internal/service"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := repo.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	kw := relay.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer kw.Close()

	store, err := blob.NewStore(cfg.Storage.VideosPath, cfg.Storage.CopyBufferBytes)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	repository := repo.NewRepository(gdb, nil, log)
	r := relay.New(repository, relay.NewKafkaPublisher(kw), cfg.Relay.Interval, cfg.Relay.BatchSize, log)
	janitor := service.NewJanitor(repository, store, cfg.Relay.OrphanGrace, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(cfg.Relay.SweepEvery)
		defer ticker.Stop()
		for {
			res, err := janitor.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("sweep blobs: %v", err)
			} else if res.Staging+res.Orphans > 0 {
				log.Infow("swept blobs", "staging", res.Staging, "orphans", res.Orphans)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	log.Info("video-poller started")
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("relay: %v", err)
	}
}
