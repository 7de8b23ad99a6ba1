package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflow/backend/internal/answers"
	"github.com/insightflow/backend/internal/cache"
	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/knowledge"
	"github.com/insightflow/backend/internal/llm"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/models"
	"github.com/insightflow/backend/internal/status"
	"github.com/insightflow/backend/internal/storage"
)

const testMaxFileSize = 1 << 20

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []string
}

func (f *fakeEnqueuer) EnqueueGenerate(_ context.Context, _, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, fileID)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeGateway struct {
	mu      sync.Mutex
	respond func(req llm.ChatRequest) (*llm.ChatResponse, error)
	stream  func(req llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

func (g *fakeGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	respond := g.respond
	g.mu.Unlock()
	if respond == nil {
		return nil, errors.New("chat not scripted")
	}
	return respond(req)
}

func (g *fakeGateway) ChatStream(_ context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.mu.Lock()
	stream := g.stream
	g.mu.Unlock()
	if stream == nil {
		return nil, errors.New("stream not scripted")
	}
	return stream(req)
}

func (g *fakeGateway) Provider(string) (llm.Provider, error) {
	return nil, errors.New("no providers")
}

func (g *fakeGateway) ListModels() []llm.ModelInfo { return nil }

// apiFixture assembles the real route tree against in-memory backends.
type apiFixture struct {
	router   *chi.Mux
	meta     *metadata.Memory
	blobs    storage.Storage
	statuses *status.Store
	enq      *fakeEnqueuer
	gw       *fakeGateway
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	meta := metadata.NewMemory()
	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	statuses := status.NewStore(client, time.Hour)
	enq := &fakeEnqueuer{}
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gen := knowledge.NewGenerator(gw, knowledge.GeneratorConfig{})
	pipe := knowledge.NewPipeline(statuses, meta, blobs, enq, gen, config.KnowledgeConfig{
		ChunkMinSize: 1000,
		ChunkMaxSize: 3000,
	}, logger)
	answerSvc := answers.NewService(gw, meta, cache.NewRedis(client), config.LLMConfig{}, logger)

	files := NewFilesHandler(meta, blobs, statuses, config.UploadConfig{MaxFileSize: testMaxFileSize})
	questions := NewQuestionsHandler(pipe, meta)
	answersH := NewAnswersHandler(answerSvc)

	r := chi.NewRouter()
	r.Post("/upload/{user_id}", files.Upload)
	r.Get("/files/", files.ListAll)
	r.Get("/files/{user_id}", files.ListByUser)
	r.Get("/files/{user_id}/{file_id}", files.Get)
	r.Get("/download/{user_id}/{file_id}", files.Download)
	r.Delete("/delete/{user_id}/{file_id}", files.Delete)
	r.Post("/questions/generate/{user_id}/{file_id}", questions.Generate)
	r.Get("/questions/{file_id}", questions.ListByFile)
	r.Get("/file_status/{file_id}", questions.FileStatus)
	r.Post("/llm/query", answersH.Query)
	r.Post("/llm/query/stream", answersH.QueryStream)

	return &apiFixture{router: r, meta: meta, blobs: blobs, statuses: statuses, enq: enq, gw: gw}
}

func (f *apiFixture) upload(t *testing.T, userID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/"+userID, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest))
}

// uploadedID uploads a small markdown file and returns its file_id.
func (f *apiFixture) uploadedID(t *testing.T, userID string) string {
	t.Helper()
	w := f.upload(t, userID, "notes.md", []byte("# Notes\n\nSample body text."))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		FileID string `json:"file_id"`
	}
	decodeBody(t, w, &resp)
	require.NotEmpty(t, resp.FileID)
	return resp.FileID
}

func TestUploadCreatesDocument(t *testing.T) {
	f := newAPIFixture(t)
	content := []byte("# Notes\n\nSample body text.")

	w := f.upload(t, "u1", "notes.md", content)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		FileID     string `json:"file_id"`
		Filename   string `json:"filename"`
		Size       int64  `json:"size"`
		StoredName string `json:"stored_filename"`
		Status     string `json:"status"`
	}
	decodeBody(t, w, &resp)
	assert.Len(t, resp.FileID, 64)
	assert.Equal(t, "notes.md", resp.Filename)
	assert.Equal(t, int64(len(content)), resp.Size)
	assert.Equal(t, "u1_"+resp.FileID+"_notes.md", resp.StoredName)
	assert.Equal(t, "Upload Completed", resp.Status)

	st, err := f.statuses.Get(context.Background(), resp.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st)

	rc, err := f.blobs.Download(context.Background(), resp.StoredName)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, stored)
}

func TestUploadDuplicateReturnsExisting(t *testing.T) {
	f := newAPIFixture(t)
	content := []byte("# Notes\n\nSame bytes twice.")

	first := f.upload(t, "u1", "notes.md", content)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp struct {
		FileID string `json:"file_id"`
		Status string `json:"status"`
	}
	decodeBody(t, first, &firstResp)

	second := f.upload(t, "u1", "renamed.md", content)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp struct {
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	decodeBody(t, second, &secondResp)

	assert.Equal(t, firstResp.FileID, secondResp.FileID)
	assert.Equal(t, "File Already exists", secondResp.Status)
	assert.Equal(t, "notes.md", secondResp.Filename, "duplicate reports the original metadata")

	docs, err := f.meta.ListAllDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestUploadSameContentDifferentUsers(t *testing.T) {
	f := newAPIFixture(t)
	content := []byte("# Shared\n\nIdentical bytes, different owners.")

	first := f.upload(t, "u1", "shared.md", content)
	second := f.upload(t, "u2", "shared.md", content)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b struct {
		FileID string `json:"file_id"`
		Status string `json:"status"`
	}
	decodeBody(t, first, &a)
	decodeBody(t, second, &b)
	assert.NotEqual(t, a.FileID, b.FileID)
	assert.Equal(t, "Upload Completed", b.Status)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newAPIFixture(t)
	w := f.upload(t, "u1", "payload.exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file type")
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newAPIFixture(t)
	big := bytes.Repeat([]byte("a"), testMaxFileSize+1)
	w := f.upload(t, "u1", "big.md", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	f := newAPIFixture(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/u1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file required")
}

func TestTriggerLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	fileID := f.uploadedID(t, "u1")

	w := f.do(t, http.MethodPost, "/questions/generate/u1/"+fileID, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "Started processing for file_id: "+fileID)
	assert.Equal(t, 1, f.enq.count())

	w = f.do(t, http.MethodPost, "/questions/generate/u1/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Processing already started for file_id: "+fileID)
	assert.Equal(t, 1, f.enq.count(), "second trigger must not enqueue again")
}

func TestTriggerUnknownFile(t *testing.T) {
	f := newAPIFixture(t)
	fileID := f.uploadedID(t, "u1")

	w := f.do(t, http.MethodPost, "/questions/generate/u1/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A different user cannot trigger someone else's document.
	w = f.do(t, http.MethodPost, "/questions/generate/u2/"+fileID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, f.enq.count())
}

func TestFileStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/file_status/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	fileID := f.uploadedID(t, "u1")
	w = f.do(t, http.MethodGet, "/file_status/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		FileID string `json:"file_id"`
		Status string `json:"status"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, fileID, resp.FileID)
	assert.Equal(t, "Pending", resp.Status)

	// A lost status key is rebuilt from the metadata store.
	require.NoError(t, f.statuses.Delete(context.Background(), fileID))
	w = f.do(t, http.MethodGet, "/file_status/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &resp)
	assert.Equal(t, "Pending", resp.Status)
}

// completeDocument fakes a finished pipeline run: chunk rows, question rows,
// Completed status.
func (f *apiFixture) completeDocument(t *testing.T, fileID string) []models.Chunk {
	t.Helper()
	chunks, err := f.meta.CreateChunks(context.Background(), []models.Chunk{
		{FileID: fileID, ChunkIndex: 0, Content: "First section.", Label: "Intro"},
		{FileID: fileID, ChunkIndex: 1, Content: "Second section.", Label: "Detail"},
	})
	require.NoError(t, err)
	require.NoError(t, f.meta.CreateQuestions(context.Background(), []models.Question{
		{ID: "q-1", ChunkID: chunks[0].ID, Question: "What comes first?", Label: "Concept"},
		{ID: "q-2", ChunkID: chunks[1].ID, Question: "What follows?", Label: "Fact"},
	}))
	require.NoError(t, f.statuses.Set(context.Background(), fileID, models.StatusCompleted))
	return chunks
}

func TestQuestionsBeforeCompletionConflicts(t *testing.T) {
	f := newAPIFixture(t)
	fileID := f.uploadedID(t, "u1")

	w := f.do(t, http.MethodGet, "/questions/"+fileID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Pending")
}

func TestQuestionsAfterCompletion(t *testing.T) {
	f := newAPIFixture(t)
	fileID := f.uploadedID(t, "u1")
	f.completeDocument(t, fileID)

	w := f.do(t, http.MethodGet, "/questions/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		FileID    string `json:"file_id"`
		Questions []struct {
			QuestionID string `json:"question_id"`
			Question   string `json:"question"`
			Label      string `json:"label"`
			ChunkID    int64  `json:"chunk_id"`
		} `json:"questions"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, fileID, resp.FileID)
	require.Len(t, resp.Questions, 2)
	for _, q := range resp.Questions {
		assert.NotEmpty(t, q.QuestionID)
		assert.NotEmpty(t, q.Question)
		assert.NotEmpty(t, q.Label)
		assert.NotZero(t, q.ChunkID)
	}
}

func TestQuestionsUnknownFile(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/questions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCascades(t *testing.T) {
	f := newAPIFixture(t)
	fileID := f.uploadedID(t, "u1")
	f.completeDocument(t, fileID)

	doc, err := f.meta.GetDocument(context.Background(), fileID)
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/delete/u1/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "File notes.md deleted successfully")

	_, err = f.meta.GetDocument(context.Background(), fileID)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	chunks, err := f.meta.ListChunks(context.Background(), fileID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = f.blobs.Download(context.Background(), doc.StoredName)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.statuses.Get(context.Background(), fileID)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestDeleteUnknownFile(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodDelete, "/delete/u1/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadReturnsOriginal(t *testing.T) {
	f := newAPIFixture(t)
	content := []byte("# Notes\n\nDownload me.")
	w := f.upload(t, "u1", "notes.md", content)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		FileID string `json:"file_id"`
	}
	decodeBody(t, w, &resp)

	dl := f.do(t, http.MethodGet, "/download/u1/"+resp.FileID, nil)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, content, dl.Body.Bytes())
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "notes.md")

	missing := f.do(t, http.MethodGet, "/download/u1/missing", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	first := f.uploadedID(t, "u1")
	f.upload(t, "u1", "other.md", []byte("# Other\n\nDifferent content."))
	f.upload(t, "u2", "notes.md", []byte("# Notes\n\nSample body text."))

	var listResp struct {
		Count int `json:"count"`
	}

	w := f.do(t, http.MethodGet, "/files/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &listResp)
	assert.Equal(t, 3, listResp.Count)

	w = f.do(t, http.MethodGet, "/files/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &listResp)
	assert.Equal(t, 2, listResp.Count)

	w = f.do(t, http.MethodGet, "/files/u1?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &listResp)
	assert.Equal(t, 1, listResp.Count)

	w = f.do(t, http.MethodGet, "/files/u1/"+first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		FileID string `json:"file_id"`
	}
	decodeBody(t, w, &doc)
	assert.Equal(t, first, doc.FileID)

	w = f.do(t, http.MethodGet, "/files/u2/"+first, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (f *apiFixture) seedQuestion(t *testing.T) (int64, string) {
	t.Helper()
	chunks, err := f.meta.CreateChunks(context.Background(), []models.Chunk{{
		FileID:     "file-1",
		ChunkIndex: 0,
		Content:    "Context for the question.",
		Label:      "Context",
	}})
	require.NoError(t, err)
	require.NoError(t, f.meta.CreateQuestions(context.Background(), []models.Question{{
		ID:       "q-1",
		ChunkID:  chunks[0].ID,
		Question: "What is this about?",
		Label:    "Concept",
	}}))
	return chunks[0].ID, "q-1"
}

func queryBody(questionID string, chunkID int64) io.Reader {
	return strings.NewReader(fmt.Sprintf(`{"question_id":%q,"chunk_id":%d}`, questionID, chunkID))
}

func TestLLMQueryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	chunkID, questionID := f.seedQuestion(t)
	f.gw.respond = func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "It is about context."}, nil
	}

	w := f.do(t, http.MethodPost, "/llm/query", queryBody(questionID, chunkID))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		QuestionID string `json:"question_id"`
		Answer     string `json:"answer"`
		Cached     bool   `json:"cached"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, questionID, resp.QuestionID)
	assert.Equal(t, "It is about context.", resp.Answer)
	assert.False(t, resp.Cached)

	// Second query is served from the Redis-backed cache.
	w = f.do(t, http.MethodPost, "/llm/query", queryBody(questionID, chunkID))
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &resp)
	assert.True(t, resp.Cached)
}

func TestLLMQueryValidation(t *testing.T) {
	f := newAPIFixture(t)
	_, questionID := f.seedQuestion(t)

	w := f.do(t, http.MethodPost, "/llm/query", strings.NewReader(`{"chunk_id":1}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/llm/query", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/llm/query", queryBody(questionID, 999))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLLMQueryStreamEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	chunkID, questionID := f.seedQuestion(t)
	f.gw.stream = func(llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 3)
		ch <- llm.StreamChunk{Content: "It is "}
		ch <- llm.StreamChunk{Content: "about context."}
		ch <- llm.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}

	w := f.do(t, http.MethodPost, "/llm/query/stream", queryBody(questionID, chunkID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, `"content":"It is "`)
	assert.Contains(t, out, `"content":"about context."`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"), "stream must close with the DONE marker: %q", out)
}
