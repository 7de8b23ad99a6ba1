package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/database"
	"github.com/insightflow/backend/internal/knowledge"
	"github.com/insightflow/backend/internal/llm"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/queue"
	"github.com/insightflow/backend/internal/queue/workers"
	"github.com/insightflow/backend/internal/status"
	"github.com/insightflow/backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Schema is owned by the API process; the worker only connects.
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		slog.Error("failed to init storage", "error", err)
		os.Exit(1)
	}

	meta := metadata.NewPostgres(db)
	statuses := status.NewStore(rdb, cfg.Knowledge.StatusTTL)
	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	gateway := llm.NewGateway(cfg.LLM)
	gen := knowledge.NewGenerator(gateway, knowledge.GeneratorConfig{
		Provider:        cfg.LLM.DefaultProvider,
		Model:           cfg.LLM.DefaultModel,
		Tags:            cfg.Knowledge.QuestionTags,
		QuestionDensity: cfg.Knowledge.QuestionDensity,
		DropMarkPercent: cfg.Knowledge.DropMarkPercent,
	})
	pipe := knowledge.NewPipeline(statuses, meta, blobs, queueClient, gen, cfg.Knowledge, logger)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry(logger)

	knowledgeWorker := workers.NewKnowledgeWorker(pipe, logger)
	registry.Register(queue.TypeKnowledgeGenerate, asynq.HandlerFunc(knowledgeWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Queue.Concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
