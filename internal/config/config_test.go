package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, int64(64<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, 1000, cfg.Knowledge.ChunkMinSize)
	assert.Equal(t, 3000, cfg.Knowledge.ChunkMaxSize)
	assert.Equal(t, 3, cfg.Knowledge.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Knowledge.GenTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Knowledge.StatusTTL)
	assert.Equal(t, []string{"Concept", "Fact", "Application", "Analysis"}, cfg.Knowledge.QuestionTags)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CHUNK_MAX_SIZE", "2000")
	t.Setenv("GENERATION_CONCURRENCY", "5")
	t.Setenv("QUESTION_TAGS", "Definition, Example ,")
	t.Setenv("STORAGE_BACKEND", "minio")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Knowledge.ChunkMaxSize)
	assert.Equal(t, 5, cfg.Knowledge.Concurrency)
	assert.Equal(t, []string{"Definition", "Example"}, cfg.Knowledge.QuestionTags)
	assert.Equal(t, "minio", cfg.Storage.Backend)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: ""}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "verbose"}.SlogLevel())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name: "minio without credentials",
			mutate: func(c *Config) {
				c.Storage.Backend = "minio"
				c.Storage.MinIOAccessKey = ""
			},
			wantErr: "MINIO_ACCESS_KEY",
		},
		{
			name: "chunk sizes inverted",
			mutate: func(c *Config) {
				c.Knowledge.ChunkMinSize = 3000
				c.Knowledge.ChunkMaxSize = 1000
			},
			wantErr: "CHUNK_MIN_SIZE",
		},
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			cfg.Database.URL = "postgres://localhost/test"
			cfg.Storage.MinIOAccessKey = "key"
			cfg.Storage.MinIOSecretKey = "secret"
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
