package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
)

func TestNewCOSStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     COSConfig
		wantErr string
	}{
		{"missing bucket", COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"missing region", COSConfig{Bucket: "apks", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"missing credentials", COSConfig{Bucket: "apks", Region: "ap-guangzhou"}, "credentials are required"},
		{"valid", COSConfig{Bucket: "apks", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewCOSStorage(&tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, s)
				return
			}
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
		})
	}
}

func TestCOSStorage_GetURL(t *testing.T) {
	s, err := NewCOSStorage(&COSConfig{
		Bucket:    "apks",
		Region:    "ap-guangzhou",
		SecretID:  "id",
		SecretKey: "key",
	})
	require.NoError(t, err)

	key := ObjectKey("tid-1", "/tmp/app_antisplit.apk")
	assert.Equal(t, "https://apks.cos.ap-guangzhou.myqcloud.com/merged/tid-1/app_antisplit.apk", s.GetURL(key))
}

// newTestCOS points a COSStorage at an in-process bucket server.
func newTestCOS(t *testing.T, handler http.HandlerFunc) *COSStorage {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, srv.Client())
	client.Conf.EnableCRC = false
	return &COSStorage{
		client: client,
		bucket: "apks",
		region: "test",
		domain: "local",
		scheme: "http",
	}
}

func TestCOSStorage_Upload(t *testing.T) {
	var gotPath, gotType, gotBody string
	s := newTestCOS(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotPath, gotType, gotBody = r.URL.Path, r.Header.Get("Content-Type"), string(data)
		w.WriteHeader(http.StatusOK)
	})

	local := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(local, []byte("PK"), 0o644))

	require.NoError(t, s.UploadFile(context.Background(), "merged/t/app.apk", local))
	assert.Equal(t, "/merged/t/app.apk", gotPath)
	assert.Equal(t, "application/vnd.android.package-archive", gotType)
	assert.Equal(t, "PK", gotBody)

	require.NoError(t, s.Upload(context.Background(), "merged/t/raw", strings.NewReader("raw")))
	assert.Equal(t, "raw", gotBody)
}

func TestCOSStorage_Errors(t *testing.T) {
	notFound := newTestCOS(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
	})
	_, err := notFound.Download(context.Background(), "merged/none")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))

	broken := newTestCOS(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Equal(t, apperrors.CodeUploadError, apperrors.GetErrorCode(broken.Upload(context.Background(), "k", strings.NewReader("x"))))
	assert.True(t, apperrors.IsIOError(broken.Delete(context.Background(), "k")))
}

func TestNewStorage_COS(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{
		Type:      "cos",
		Bucket:    "apks",
		Region:    "ap-guangzhou",
		SecretID:  "id",
		SecretKey: "key",
	})
	require.NoError(t, err)
	assert.IsType(t, &COSStorage{}, s)
}

func TestValidateConfig(t *testing.T) {
	withCOS := func(mod func(c *config.StorageConfig)) *config.StorageConfig {
		c := &config.StorageConfig{Type: "cos", Bucket: "apks", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"}
		mod(c)
		return c
	}

	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{"nil config", nil, "storage config is nil"},
		{"unsupported type", &config.StorageConfig{Type: "s3"}, "unsupported storage type"},
		{"cos missing bucket", withCOS(func(c *config.StorageConfig) { c.Bucket = "" }), "COS bucket is required"},
		{"cos missing region", withCOS(func(c *config.StorageConfig) { c.Region = "" }), "COS region is required"},
		{"cos missing credentials", withCOS(func(c *config.StorageConfig) { c.SecretKey = "" }), "COS credentials are required"},
		{"local missing path", &config.StorageConfig{Type: "local"}, "local storage path is required"},
		{"valid cos", withCOS(func(*config.StorageConfig) {}), ""},
		{"valid local", &config.StorageConfig{Type: "local", LocalPath: "/tmp/storage"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
