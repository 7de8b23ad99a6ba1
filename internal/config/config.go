package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Knowledge KnowledgeConfig
	LLM       LLMConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Concurrency int
}

type StorageConfig struct {
	Backend  string // "local" or "minio"
	LocalDir string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	Bucket         string
}

type UploadConfig struct {
	MaxFileSize int64 // bytes
}

type KnowledgeConfig struct {
	ChunkMinSize    int
	ChunkMaxSize    int
	Concurrency     int
	GenTimeout      time.Duration
	QuestionDensity int // one question per this many characters
	QuestionTags    []string
	DropMarkPercent int // chance of stripping a trailing question mark
	StatusTTL       time.Duration
}

type LLMConfig struct {
	OpenAIKey       string
	AnthropicKey    string
	CompatibleURL   string
	DefaultProvider string
	DefaultModel    string
	AnswerCacheTTL  time.Duration
}

type LogConfig struct {
	Level string // debug, info, warn, error
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	queueConcurrency, err := getEnvInt("QUEUE_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_CONCURRENCY: %w", err)
	}

	maxFileSize, err := getEnvInt64("UPLOAD_MAX_FILE_SIZE", 64<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_FILE_SIZE: %w", err)
	}

	chunkMin, err := getEnvInt("CHUNK_MIN_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_MIN_SIZE: %w", err)
	}

	chunkMax, err := getEnvInt("CHUNK_MAX_SIZE", 3000)
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_MAX_SIZE: %w", err)
	}

	genConcurrency, err := getEnvInt("GENERATION_CONCURRENCY", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_CONCURRENCY: %w", err)
	}

	genTimeout, err := getEnvInt("GENERATION_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_TIMEOUT_SECONDS: %w", err)
	}

	questionDensity, err := getEnvInt("QUESTION_DENSITY", 500)
	if err != nil {
		return nil, fmt.Errorf("invalid QUESTION_DENSITY: %w", err)
	}

	dropMarkPercent, err := getEnvInt("QUESTION_DROP_MARK_PERCENT", 60)
	if err != nil {
		return nil, fmt.Errorf("invalid QUESTION_DROP_MARK_PERCENT: %w", err)
	}

	answerCacheTTL, err := getEnvInt("ANSWER_CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return nil, fmt.Errorf("invalid ANSWER_CACHE_TTL_SECONDS: %w", err)
	}

	statusTTL, err := getEnvInt("STATUS_TTL_SECONDS", 604800)
	if err != nil {
		return nil, fmt.Errorf("invalid STATUS_TTL_SECONDS: %w", err)
	}

	minioSSL, err := getEnvBool("MINIO_USE_SSL", false)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Queue: QueueConfig{
			Concurrency: queueConcurrency,
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORAGE_BACKEND", "local"),
			LocalDir:       getEnv("STORAGE_LOCAL_DIR", "data/uploads"),
			MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
			MinIOUseSSL:    minioSSL,
			Bucket:         getEnv("STORAGE_BUCKET", "documents"),
		},
		Upload: UploadConfig{
			MaxFileSize: maxFileSize,
		},
		Knowledge: KnowledgeConfig{
			ChunkMinSize:    chunkMin,
			ChunkMaxSize:    chunkMax,
			Concurrency:     genConcurrency,
			GenTimeout:      time.Duration(genTimeout) * time.Second,
			QuestionDensity: questionDensity,
			QuestionTags:    getEnvList("QUESTION_TAGS", []string{"Concept", "Fact", "Application", "Analysis"}),
			DropMarkPercent: dropMarkPercent,
			StatusTTL:       time.Duration(statusTTL) * time.Second,
		},
		LLM: LLMConfig{
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			CompatibleURL:   getEnv("LLM_COMPATIBLE_URL", ""),
			DefaultProvider: getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:    getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			AnswerCacheTTL:  time.Duration(answerCacheTTL) * time.Second,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to
// Info for anything unrecognized.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Storage.Backend == "minio" && c.Storage.MinIOAccessKey == "" {
		missing = append(missing, "MINIO_ACCESS_KEY")
	}
	if c.Storage.Backend == "minio" && c.Storage.MinIOSecretKey == "" {
		missing = append(missing, "MINIO_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Knowledge.ChunkMinSize >= c.Knowledge.ChunkMaxSize {
		return fmt.Errorf("CHUNK_MIN_SIZE must be smaller than CHUNK_MAX_SIZE")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
