// Package storage persists uploaded document blobs. Two backends exist:
// MinIO for deployments and a local-filesystem store for development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/insightflow/backend/internal/config"
)

var ErrNotFound = errors.New("storage: object not found")

type Storage interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "minio":
		return NewMinIO(cfg)
	case "local", "":
		return NewLocal(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
