package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insightflow/backend/internal/knowledge"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/models"
	"github.com/insightflow/backend/internal/status"
)

type QuestionsHandler struct {
	pipeline knowledge.Pipeline
	meta     metadata.Store
}

func NewQuestionsHandler(p knowledge.Pipeline, meta metadata.Store) *QuestionsHandler {
	return &QuestionsHandler{pipeline: p, meta: meta}
}

// Generate starts question generation for a document. Triggering twice is a
// no-op: the second call reports the current status instead of starting a
// second run.
func (h *QuestionsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	fileID := chi.URLParam(r, "file_id")

	st, started, err := h.pipeline.Trigger(r.Context(), userID, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start processing"})
		return
	}

	if started {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": fmt.Sprintf("Started processing for file_id: %s", fileID),
			"status":  st,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Processing already started for file_id: %s", fileID),
		"status":  st,
	})
}

// FileStatus reports the pipeline status. An unknown file is a 404, never
// Pending.
func (h *QuestionsHandler) FileStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	st, err := h.pipeline.Status(r.Context(), fileID)
	if errors.Is(err, status.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read status"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"file_id": fileID, "status": st})
}

// ListByFile returns the generated questions once processing has completed.
// Before that it answers 409 with the current status so clients keep polling.
func (h *QuestionsHandler) ListByFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	st, err := h.pipeline.Status(r.Context(), fileID)
	if errors.Is(err, status.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read status"})
		return
	}
	if st != models.StatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  fmt.Sprintf("file processing not completed, current status: %s", st),
			"status": st,
		})
		return
	}

	questions, err := h.meta.ListQuestionsByFile(r.Context(), fileID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list questions"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":   fileID,
		"questions": questions,
	})
}
