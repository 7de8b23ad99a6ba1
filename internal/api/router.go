package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/insightflow/backend/internal/answers"
	"github.com/insightflow/backend/internal/api/handlers"
	"github.com/insightflow/backend/internal/api/middleware"
	"github.com/insightflow/backend/internal/cache"
	"github.com/insightflow/backend/internal/config"
	"github.com/insightflow/backend/internal/knowledge"
	"github.com/insightflow/backend/internal/llm"
	"github.com/insightflow/backend/internal/metadata"
	"github.com/insightflow/backend/internal/queue"
	"github.com/insightflow/backend/internal/status"
	"github.com/insightflow/backend/internal/storage"
)

type Router struct {
	mux     *chi.Mux
	db      *pgxpool.Pool
	rdb     *redis.Client
	cfg     *config.Config
	gateway llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:     chi.NewRouter(),
		db:      db,
		rdb:     rdb,
		cfg:     cfg,
		gateway: llm.NewGateway(cfg.LLM),
	}
}

func (rt *Router) Setup() (http.Handler, error) {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health and metrics (no business dependencies)
	health := handlers.NewHealthHandler(rt.db, rt.rdb)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	// Initialize services
	blobs, err := storage.New(rt.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	meta := metadata.NewPostgres(rt.db)
	statuses := status.NewStore(rt.rdb, rt.cfg.Knowledge.StatusTTL)
	queueClient := queue.NewClient(rt.cfg.Redis)

	gen := knowledge.NewGenerator(rt.gateway, knowledge.GeneratorConfig{
		Provider:        rt.cfg.LLM.DefaultProvider,
		Model:           rt.cfg.LLM.DefaultModel,
		Tags:            rt.cfg.Knowledge.QuestionTags,
		QuestionDensity: rt.cfg.Knowledge.QuestionDensity,
		DropMarkPercent: rt.cfg.Knowledge.DropMarkPercent,
	})
	pipe := knowledge.NewPipeline(statuses, meta, blobs, queueClient, gen, rt.cfg.Knowledge, slog.Default())

	answerSvc := answers.NewService(rt.gateway, meta, cache.NewRedis(rt.rdb), rt.cfg.LLM, slog.Default())

	files := handlers.NewFilesHandler(meta, blobs, statuses, rt.cfg.Upload)
	questions := handlers.NewQuestionsHandler(pipe, meta)
	answersH := handlers.NewAnswersHandler(answerSvc)

	// Document routes
	r.Post("/upload/{user_id}", files.Upload)
	r.Get("/files/", files.ListAll)
	r.Get("/files/{user_id}", files.ListByUser)
	r.Get("/files/{user_id}/{file_id}", files.Get)
	r.Get("/download/{user_id}/{file_id}", files.Download)
	r.Delete("/delete/{user_id}/{file_id}", files.Delete)

	// Generation routes
	r.Post("/questions/generate/{user_id}/{file_id}", questions.Generate)
	r.Get("/questions/{file_id}", questions.ListByFile)
	r.Get("/file_status/{file_id}", questions.FileStatus)

	// Answer routes
	r.Route("/llm", func(r chi.Router) {
		r.Post("/query", answersH.Query)
		r.Post("/query/stream", answersH.QueryStream)
	})

	return r, nil
}
