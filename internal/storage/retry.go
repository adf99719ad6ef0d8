package storage

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/utils"
)

// RetryConfig tunes RetryStorage.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	Logger          utils.Logger
}

// RetryStorage retries failed operations of an inner Storage with
// exponential backoff. Errors that cannot succeed on a second attempt,
// such as not-found or cancellation, are returned at once. Upload from a
// reader is retried only when the reader can seek.
type RetryStorage struct {
	Storage
	cfg RetryConfig
}

// NewRetryStorage wraps s.
func NewRetryStorage(s Storage, cfg RetryConfig) *RetryStorage {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxElapsedTime == 0 {
		cfg.MaxElapsedTime = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = &utils.NullLogger{}
	}
	return &RetryStorage{Storage: s, cfg: cfg}
}

func permanent(err error) bool {
	switch apperrors.GetErrorCode(err) {
	case apperrors.CodeNotFound, apperrors.CodeConfigError, apperrors.CodeCanceled, apperrors.CodeInvalidInput:
		return true
	}
	return false
}

func (r *RetryStorage) retry(ctx context.Context, op string, key string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx), func(err error, d time.Duration) {
		r.cfg.Logger.WithFields(map[string]interface{}{"op": op, "key": key, "attempt": attempt}).
			Warn("storage %s failed, retrying in %s: %v", op, d.Round(time.Millisecond), err)
	})
}

// Upload retries when reader is an io.Seeker.
func (r *RetryStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return r.Storage.Upload(ctx, key, reader)
	}
	return r.retry(ctx, "upload", key, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return apperrors.Wrapf(apperrors.CodeInvalidInput, err, "rewind upload of %s", key)
		}
		return r.Storage.Upload(ctx, key, reader)
	})
}

// UploadFile uploads with retries.
func (r *RetryStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	return r.retry(ctx, "upload", key, func() error {
		return r.Storage.UploadFile(ctx, key, localPath)
	})
}

// DownloadFile downloads with retries.
func (r *RetryStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	return r.retry(ctx, "download", key, func() error {
		return r.Storage.DownloadFile(ctx, key, localPath)
	})
}

// Delete deletes with retries.
func (r *RetryStorage) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, "delete", key, func() error {
		return r.Storage.Delete(ctx, key)
	})
}

// Exists checks with retries.
func (r *RetryStorage) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.retry(ctx, "exists", key, func() error {
		var err error
		ok, err = r.Storage.Exists(ctx, key)
		return err
	})
	return ok, err
}
