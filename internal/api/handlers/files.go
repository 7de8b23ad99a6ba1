package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/models"
	"github.com/insightflow/backend/internal/status"
	"github.com/insightflow/backend/internal/storage"
	"github.com/insightflow/backend/pkg/textextract"
)

const defaultListLimit = 100

type FilesHandler struct {
	meta     metadata.Store
	blobs    storage.Storage
	statuses *status.Store
	maxSize  int64
}

func NewFilesHandler(meta metadata.Store, blobs storage.Storage, statuses *status.Store, cfg config.UploadConfig) *FilesHandler {
	return &FilesHandler{
		meta:     meta,
		blobs:    blobs,
		statuses: statuses,
		maxSize:  cfg.MaxFileSize,
	}
}

type uploadResponse struct {
	models.Document
	Status string `json:"status"`
}

// Upload stores a document and marks it Pending. Identity is derived from
// the content hash and user, so the same bytes uploaded twice resolve to the
// same file_id and the second call returns "File Already exists".
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	// Headroom over maxSize covers multipart framing; the size check below
	// enforces the real cap with a clear error.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+(1<<20))
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	if !textextract.Supported(header.Filename) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported file type, expected one of %v", textextract.SupportedTypes()),
		})
		return
	}
	if header.Size > h.maxSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("file exceeds %d bytes", h.maxSize),
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read upload"})
		return
	}

	contentHash := hashHex(data)
	fileID := hashHex([]byte(contentHash + "-" + userID))
	storedName := fmt.Sprintf("%s_%s_%s", userID, fileID, header.Filename)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	doc := &models.Document{
		FileID:      fileID,
		UserID:      userID,
		Filename:    header.Filename,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		ContentHash: contentHash,
		StoredName:  storedName,
		UploadedAt:  time.Now().UTC(),
	}

	created, err := h.meta.CreateDocument(r.Context(), doc)
	if errors.Is(err, metadata.ErrDuplicate) {
		writeJSON(w, http.StatusOK, uploadResponse{Document: *created, Status: "File Already exists"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save metadata"})
		return
	}

	if err := h.blobs.Upload(r.Context(), storedName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		h.cleanupUpload(r.Context(), created)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store file"})
		return
	}

	if err := h.statuses.Set(r.Context(), fileID, models.StatusPending); err != nil {
		h.cleanupUpload(r.Context(), created)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set status"})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Document: *created, Status: "Upload Completed"})
}

// cleanupUpload removes whatever the failed upload left behind so a retry
// starts clean.
func (h *FilesHandler) cleanupUpload(ctx context.Context, doc *models.Document) {
	if err := h.blobs.Delete(ctx, doc.StoredName); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Error("upload cleanup: delete blob", "file_id", doc.FileID, "error", err)
	}
	if err := h.meta.DeleteDocument(ctx, doc.UserID, doc.FileID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		slog.Error("upload cleanup: delete metadata", "file_id", doc.FileID, "error", err)
	}
	if err := h.statuses.Delete(ctx, doc.FileID); err != nil {
		slog.Error("upload cleanup: delete status", "file_id", doc.FileID, "error", err)
	}
}

func (h *FilesHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	docs, err := h.meta.ListAllDocuments(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list files"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": docs, "count": len(docs)})
}

func (h *FilesHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	docs, err := h.meta.ListDocuments(r.Context(), userID, skip, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list files"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": docs, "count": len(docs)})
}

func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	fileID := chi.URLParam(r, "file_id")

	doc, err := h.meta.GetUserDocument(r.Context(), userID, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get file"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Delete removes the document's blob, its rows (chunks and questions cascade
// with the document), and the status key.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	fileID := chi.URLParam(r, "file_id")

	doc, err := h.meta.GetUserDocument(r.Context(), userID, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get file"})
		return
	}

	if err := h.blobs.Delete(r.Context(), doc.StoredName); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete stored file"})
		return
	}
	if err := h.meta.DeleteDocument(r.Context(), userID, fileID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete metadata"})
		return
	}
	if err := h.statuses.Delete(r.Context(), fileID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete status"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("File %s deleted successfully", doc.Filename),
	})
}

func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	fileID := chi.URLParam(r, "file_id")

	doc, err := h.meta.GetUserDocument(r.Context(), userID, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get file"})
		return
	}

	rc, err := h.blobs.Download(r.Context(), doc.StoredName)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "stored file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read stored file"})
		return
	}
	defer rc.Close()

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(doc.Filename)))
	w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))

	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("download interrupted", "file_id", fileID, "error", err)
	}
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
