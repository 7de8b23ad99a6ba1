package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/insightflow/backend/internal/answers"
	"github.com/insightflow/backend/internal/metadata"
)

type AnswersHandler struct {
	svc *answers.Service
}

func NewAnswersHandler(svc *answers.Service) *AnswersHandler {
	return &AnswersHandler{svc: svc}
}

func (h *AnswersHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ans, err := h.svc.Answer(r.Context(), req)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "question or chunk not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ans)
}

// QueryStream streams the answer as SSE data frames, closing with a [DONE]
// marker the way OpenAI-style streams do.
func (h *AnswersHandler) QueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ch, err := h.svc.AnswerStream(r.Context(), req)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "question or chunk not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range ch {
		if chunk.Error != nil {
			fmt.Fprintf(w, "data: {\"error\":%q}\n\n", chunk.Error.Error())
			flusher.Flush()
			return
		}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		if chunk.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (answers.QueryRequest, bool) {
	var req answers.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	if req.QuestionID == "" || req.ChunkID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question_id and chunk_id required"})
		return req, false
	}
	return req, true
}
