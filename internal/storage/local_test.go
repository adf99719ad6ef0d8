package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "storage")

		s, err := NewLocalStorage(base)
		require.NoError(t, err)
		assert.Equal(t, base, s.GetBasePath())

		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BlockedByFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		_, err := NewLocalStorage(filepath.Join(file, "storage"))
		assert.True(t, apperrors.IsIOError(err))
	})
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := ObjectKey("task-1", "/out/app_antisplit.apk")
	assert.Equal(t, "merged/task-1/app_antisplit.apk", key)

	require.NoError(t, s.Upload(ctx, key, bytes.NewReader([]byte("PK\x03\x04"))))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), data)

	local := filepath.Join(t.TempDir(), "nested", "copy.apk")
	require.NoError(t, s.DownloadFile(ctx, key, local))
	copied, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, copied)

	assert.Equal(t, filepath.Join(s.GetBasePath(), "merged", "task-1", "app_antisplit.apk"), s.GetURL(key))

	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, key), "deleting a missing object succeeds")
}

func TestLocalStorage_UploadFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(src, []byte("apk"), 0o644))

	require.NoError(t, s.UploadFile(ctx, "a/b/app.apk", src))
	data, err := os.ReadFile(s.GetURL("a/b/app.apk"))
	require.NoError(t, err)
	assert.Equal(t, "apk", string(data))

	err = s.UploadFile(ctx, "missing", filepath.Join(t.TempDir(), "missing.apk"))
	assert.True(t, apperrors.IsIOError(err))
}

func TestLocalStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Download(ctx, "nope")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))

	err = s.DownloadFile(ctx, "nope", filepath.Join(t.TempDir(), "x"))
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))
}

func TestLocalStorage_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	assert.True(t, apperrors.IsCanceled(s.Upload(ctx, "k", bytes.NewReader(nil))))
	_, err = s.Exists(ctx, "k")
	assert.True(t, apperrors.IsCanceled(err))
}

func TestNewStorage(t *testing.T) {
	t.Run("LocalWithRetries", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir(), Retries: 2})
		require.NoError(t, err)
		r, ok := s.(*RetryStorage)
		require.True(t, ok)
		assert.IsType(t, &LocalStorage{}, r.Storage)
	})

	t.Run("LocalWithoutRetries", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := NewStorage(&config.StorageConfig{Type: "s3"})
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}
