// Package storage holds the object storage adapters for original and final
// PDFs. Every backend satisfies ObjectStore; failures surface as external
// dependency errors.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/config"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the contract shared by the memory, MinIO and S3 backends.
type ObjectStore interface {
	// Upload stores data under key and returns a stable, unsigned locator.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited download URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// OriginalKey is where an uploaded PDF lives.
func OriginalKey(taskID, fileID string) string {
	return fmt.Sprintf("original/%s/%s.pdf", taskID, fileID)
}

// FinalKey is where the composed PDF for a file lives.
func FinalKey(taskID, fileID string) string {
	return fmt.Sprintf("final/%s/%s.pdf", taskID, fileID)
}

// New builds the backend selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageDriver {
	case config.StorageMinio:
		m, err := NewMinio(cfg)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case config.StorageS3:
		return NewS3(ctx, cfg)
	default:
		return NewMemory(NewSigner(cfg.SigningSecret), cfg.PublicBaseURL), nil
	}
}

func external(op string, err error) error {
	return apperr.External(op, err)
}
