// Package storage uploads merged APKs to object storage.
package storage

import (
	"context"
	"io"
	"path"

	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile downloads data from the specified key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// ObjectKey returns the key a merged APK of task is uploaded under.
func ObjectKey(taskUUID, fileName string) string {
	return path.Join("merged", taskUUID, path.Base(fileName))
}

// NewStorage creates the configured backend. Uploads are retried when
// cfg.Retries is positive.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var (
		s   Storage
		err error
	)
	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		s, err = NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		s, err = NewLocalStorage(cfg.LocalPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Retries > 0 {
		s = NewRetryStorage(s, RetryConfig{MaxRetries: uint64(cfg.Retries)})
	}
	return s, nil
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeConfigError, format, args...)
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return invalid("storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return invalid("COS bucket is required")
		}
		if cfg.Region == "" {
			return invalid("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return invalid("COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return invalid("local storage path is required")
		}
	default:
		return invalid("unsupported storage type: %s", cfg.Type)
	}
	return nil
}
