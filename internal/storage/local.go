package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/antisplit/pkg/errors"
)

// LocalStorage stores objects below a base directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "./storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, apperrors.IO(err, "create storage directory %s", basePath)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrapf(apperrors.CodeCanceled, err, "storage")
	}
	return nil
}

func notFound(key string) error {
	return apperrors.Newf(apperrors.CodeNotFound, "object %s not found", key)
}

// writeFile copies reader into dst, creating parent directories.
func writeFile(dst string, reader io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.IO(err, "create directory for %s", dst)
	}
	f, err := os.Create(dst)
	if err != nil {
		return apperrors.IO(err, "create %s", dst)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return apperrors.IO(err, "write %s", dst)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(err, "close %s", dst)
	}
	return nil
}

// Upload uploads data from reader to the specified key.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	return writeFile(s.getFullPath(key), reader)
}

// UploadFile uploads a local file to the specified key.
func (s *LocalStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return apperrors.IO(err, "open %s", localPath)
	}
	defer src.Close()
	return writeFile(s.getFullPath(key), src)
}

func (s *LocalStorage) open(key string) (*os.File, error) {
	f, err := os.Open(s.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, apperrors.IO(err, "open object %s", key)
	}
	return f, nil
}

// Download downloads data from the specified key.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	return s.open(key)
}

// DownloadFile downloads data from the specified key to a local file.
func (s *LocalStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	src, err := s.open(key)
	if err != nil {
		return err
	}
	defer src.Close()
	return writeFile(localPath, src)
}

// Delete deletes the object at the specified key. Deleting a missing
// object succeeds.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.getFullPath(key)); err != nil && !os.IsNotExist(err) {
		return apperrors.IO(err, "delete object %s", key)
	}
	return nil
}

// Exists checks if an object exists at the specified key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := canceled(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(s.getFullPath(key))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, apperrors.IO(err, "stat object %s", key)
	}
}

// GetURL returns the file path for local storage.
func (s *LocalStorage) GetURL(key string) string {
	return s.getFullPath(key)
}

func (s *LocalStorage) getFullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// GetBasePath returns the base path for the local storage.
func (s *LocalStorage) GetBasePath() string {
	return s.basePath
}
