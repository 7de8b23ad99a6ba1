package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// HandlersRegistry wraps the asynq mux and attaches task-level logging so
// every handler reports its outcome and duration the same way.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry(logger *slog.Logger) *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(taskLogging(logger))
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func taskLogging(logger *slog.Logger) asynq.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			if err := next.ProcessTask(ctx, t); err != nil {
				logger.Error("task failed",
					"type", t.Type(),
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return err
			}
			logger.Info("task completed",
				"type", t.Type(),
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		})
	}
}
