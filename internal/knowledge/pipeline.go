package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/metrics"
	"github.com/insightflow/backend/internal/models"
	"github.com/insightflow/backend/internal/status"
	"github.com/insightflow/backend/internal/storage"
	"github.com/insightflow/backend/pkg/chunker"
	"github.com/insightflow/backend/pkg/textextract"
)

// Enqueuer hands a generation task to the background worker.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, userID, fileID string) error
}

// Pipeline owns the document processing state machine:
// Pending -> Processing -> Completed | Failed.
type Pipeline interface {
	// Trigger dispatches background generation for a Pending document.
	// A duplicate trigger is an idempotent no-op: started is false and
	// the current status is returned unchanged.
	Trigger(ctx context.Context, userID, fileID string) (st models.Status, started bool, err error)

	// Run executes processing for one document. Chunk-level generation
	// failures are skipped; load, chunk, and persistence errors fail the
	// whole document.
	Run(ctx context.Context, fileID string) error

	// Status reports the document's processing status. A lost cache
	// entry is rebuilt from the metadata store; an unknown file_id
	// returns status.ErrNotFound.
	Status(ctx context.Context, fileID string) (models.Status, error)
}

type pipeline struct {
	statuses *status.Store
	meta     metadata.Store
	blobs    storage.Storage
	enqueue  Enqueuer
	gen      *Generator
	splitter *chunker.Splitter

	concurrency int
	genTimeout  time.Duration
	logger      *slog.Logger
}

func NewPipeline(
	statuses *status.Store,
	meta metadata.Store,
	blobs storage.Storage,
	enq Enqueuer,
	gen *Generator,
	cfg config.KnowledgeConfig,
	logger *slog.Logger,
) Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	genTimeout := cfg.GenTimeout
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pipeline{
		statuses:    statuses,
		meta:        meta,
		blobs:       blobs,
		enqueue:     enq,
		gen:         gen,
		splitter:    chunker.NewSplitter(cfg.ChunkMinSize, cfg.ChunkMaxSize),
		concurrency: concurrency,
		genTimeout:  genTimeout,
		logger:      logger,
	}
}

func (p *pipeline) Trigger(ctx context.Context, userID, fileID string) (models.Status, bool, error) {
	if _, err := p.meta.GetUserDocument(ctx, userID, fileID); err != nil {
		return "", false, err
	}

	st, err := p.Status(ctx, fileID)
	if err != nil {
		return "", false, err
	}
	if st != models.StatusPending {
		return st, false, nil
	}

	// SETNX guard: of two racing triggers only one enqueues.
	ok, err := p.statuses.AcquireDispatch(ctx, fileID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return st, false, nil
	}

	if err := p.enqueue.EnqueueGenerate(ctx, userID, fileID); err != nil {
		_ = p.statuses.ReleaseDispatch(ctx, fileID)
		return "", false, fmt.Errorf("enqueue generation: %w", err)
	}

	p.logger.Info("generation dispatched", "user_id", userID, "file_id", fileID)
	return st, true, nil
}

func (p *pipeline) Status(ctx context.Context, fileID string) (models.Status, error) {
	st, err := p.statuses.Get(ctx, fileID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, status.ErrNotFound) {
		return "", err
	}

	// Status entries expire; rebuild from the durable stores. A document
	// with persisted chunks has been processed.
	if _, err := p.meta.GetDocument(ctx, fileID); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return "", status.ErrNotFound
		}
		return "", err
	}
	chunks, err := p.meta.ListChunks(ctx, fileID)
	if err != nil {
		return "", err
	}
	st = models.StatusPending
	if len(chunks) > 0 {
		st = models.StatusCompleted
	}
	if err := p.statuses.Set(ctx, fileID, st); err != nil {
		return "", err
	}
	return st, nil
}

func (p *pipeline) Run(ctx context.Context, fileID string) error {
	start := time.Now()

	doc, err := p.meta.GetDocument(ctx, fileID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			// Deleted between trigger and run; nothing to fail.
			p.logger.Warn("document vanished before processing", "file_id", fileID)
			return nil
		}
		return p.fail(ctx, fileID, start, fmt.Errorf("load document: %w", err))
	}

	st, err := p.statuses.Get(ctx, fileID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return fmt.Errorf("read status: %w", err)
	}
	if err == nil && st != models.StatusPending {
		p.logger.Info("skipping document not in Pending", "file_id", fileID, "status", st)
		return nil
	}

	if err := p.statuses.Set(ctx, fileID, models.StatusProcessing); err != nil {
		return fmt.Errorf("set Processing status: %w", err)
	}

	text, err := p.loadText(ctx, doc)
	if err != nil {
		return p.fail(ctx, fileID, start, err)
	}

	sections := p.splitter.Split(text)
	if len(sections) == 0 {
		// Empty document: nothing to generate, but processing succeeded.
		return p.complete(ctx, fileID, start, 0, 0)
	}

	rows := make([]models.Chunk, len(sections))
	for i, sec := range sections {
		rows[i] = models.Chunk{
			FileID:     fileID,
			ChunkIndex: sec.Index,
			Content:    sec.Content,
			Label:      sec.Label,
			StartPos:   sec.Start,
			EndPos:     sec.End,
		}
	}
	chunks, err := p.meta.CreateChunks(ctx, rows)
	if err != nil {
		return p.fail(ctx, fileID, start, fmt.Errorf("save chunks: %w", err))
	}
	metrics.ChunksCreated.Add(float64(len(chunks)))
	p.logger.Info("document chunked", "file_id", fileID, "filename", doc.Filename, "chunks", len(chunks))

	var succeeded atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(p.concurrency)
	for _, ch := range chunks {
		ch := ch
		eg.Go(func() error {
			if err := p.processChunk(ctx, ch); err != nil {
				metrics.GenerationFailures.Inc()
				p.logger.Error("chunk generation failed",
					"file_id", fileID, "chunk_index", ch.ChunkIndex, "error", err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	if succeeded.Load() == 0 {
		return p.fail(ctx, fileID, start, fmt.Errorf("all %d chunks failed generation", len(chunks)))
	}
	return p.complete(ctx, fileID, start, len(chunks), int(succeeded.Load()))
}

// loadText downloads the stored blob and extracts its plain text.
func (p *pipeline) loadText(ctx context.Context, doc *models.Document) (string, error) {
	rc, err := p.blobs.Download(ctx, doc.StoredName)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", doc.StoredName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", doc.StoredName, err)
	}

	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), filepath.Ext(doc.Filename))
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return extracted.Content, nil
}

// processChunk generates questions for one chunk and persists them. The
// generation call is bounded by genTimeout; persistence is not.
func (p *pipeline) processChunk(ctx context.Context, ch models.Chunk) error {
	genCtx, cancel := context.WithTimeout(ctx, p.genTimeout)
	questions, err := p.gen.Generate(genCtx, ch.Content, p.gen.Target(ch.Content))
	cancel()
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return nil
	}

	rows := make([]models.Question, len(questions))
	for i, q := range questions {
		label := q.Label
		if label == "" {
			label = ch.Label
		}
		rows[i] = models.Question{
			ID:       uuid.NewString(),
			ChunkID:  ch.ID,
			Question: q.Question,
			Label:    label,
		}
	}
	if err := p.meta.CreateQuestions(ctx, rows); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	metrics.QuestionsGenerated.Add(float64(len(rows)))
	return nil
}

func (p *pipeline) complete(ctx context.Context, fileID string, start time.Time, chunks, succeeded int) error {
	if err := p.statuses.Set(ctx, fileID, models.StatusCompleted); err != nil {
		return fmt.Errorf("set Completed status: %w", err)
	}
	metrics.DocumentsProcessed.WithLabelValues("completed").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("document processing completed",
		"file_id", fileID, "chunks", chunks, "chunks_with_questions", succeeded,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

func (p *pipeline) fail(ctx context.Context, fileID string, start time.Time, err error) error {
	if serr := p.statuses.Set(ctx, fileID, models.StatusFailed); serr != nil {
		p.logger.Error("set Failed status", "file_id", fileID, "error", serr)
	}
	metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	p.logger.Error("document processing failed", "file_id", fileID, "error", err)
	return err
}
