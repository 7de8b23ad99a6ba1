package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/insightflow/backend/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueGenerate schedules a question-generation run for a document.
// Retries are disabled: the pipeline records its own Failed status, and a
// replayed task would be skipped by the Pending re-check anyway.
func (c *Client) EnqueueGenerate(ctx context.Context, userID, fileID string) error {
	return c.enqueue(ctx, TypeKnowledgeGenerate, KnowledgeGeneratePayload{
		UserID: userID,
		FileID: fileID,
	}, asynq.MaxRetry(0), asynq.Timeout(30*time.Minute))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
