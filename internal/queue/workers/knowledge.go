// Package workers holds the asynq task handlers run by cmd/worker.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/insightflow/backend/internal/knowledge"
	"github.com/insightflow/backend/internal/queue"
)

// KnowledgeWorker runs the question-generation pipeline for queued documents.
type KnowledgeWorker struct {
	pipeline knowledge.Pipeline
	logger   *slog.Logger
}

func NewKnowledgeWorker(p knowledge.Pipeline, logger *slog.Logger) *KnowledgeWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeWorker{pipeline: p, logger: logger}
}

func (w *KnowledgeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.KnowledgeGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	w.logger.Info("generation task received",
		"file_id", payload.FileID,
		"user_id", payload.UserID)
	return w.pipeline.Run(ctx, payload.FileID)
}
