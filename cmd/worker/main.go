package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"campustrack/internal/config"
	"campustrack/internal/directory"
	"campustrack/internal/queue"
	"campustrack/internal/store"
)

// The worker drains face enrollment writes published by the API. It only
// makes sense with the Redis queue; the in-memory queue is consumed inside
// the API process.
func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Error("mongo connect failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close(context.Background()) }()
	repo := directory.NewMongoRepository(db.DB)

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	q := queue.NewRedisQueue(redisClient.Client, "campustrack:facesaves")

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "err", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for messages")
	for msg := range messages {
		if err := directory.ApplyFaceSave(ctx, repo, msg); err != nil {
			logger.Error("face save failed", "type", msg.Type, "err", err)
			continue
		}
		logger.Info("face save applied", "type", msg.Type)
	}
	logger.Info("worker stopped")
}
