package signer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/testutil"
	"github.com/antisplit/pkg/compression"
	apperrors "github.com/antisplit/pkg/errors"
)

var (
	keysOnce sync.Once
	rsaKey   *Key
	ecKey    *Key
)

func testKeys(t *testing.T) (*Key, *Key) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		rsaKey, err = GenerateKey(RSA)
		if err != nil {
			panic(err)
		}
		ecKey, err = GenerateKey(ECDSA)
		if err != nil {
			panic(err)
		}
	})
	return rsaKey, ecKey
}

func unsignedAPK(t *testing.T, dir string) string {
	t.Helper()
	data := testutil.Zip(t,
		testutil.File{Name: "AndroidManifest.xml", Method: compression.Deflate, Data: bytes.Repeat([]byte("manifest"), 100)},
		testutil.File{Name: "resources.arsc", Method: compression.Store, Data: []byte("table")},
		testutil.File{Name: "lib/arm64-v8a/libx.so", Method: compression.Store, Data: bytes.Repeat([]byte{1}, 3*chunkSize/2)},
	)
	return testutil.WriteBytes(t, dir, "app.apk", data)
}

func TestSignFile_Verify(t *testing.T) {
	rk, ek := testKeys(t)
	tests := []struct {
		name string
		key  *Key
		alg  uint32
	}{
		{"rsa", rk, AlgRSAPKCS1SHA256},
		{"ecdsa", ek, AlgECDSASHA256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := unsignedAPK(t, t.TempDir())
			require.NoError(t, SignFile(context.Background(), path, tt.key, nil))

			signers, err := VerifyFile(context.Background(), path)
			require.NoError(t, err)
			require.Len(t, signers, 1)
			assert.Equal(t, tt.alg, signers[0].Algorithm)
			assert.Equal(t, tt.key.Certificate.Raw, signers[0].Certificate.Raw)

			r, err := archive.Open(path)
			require.NoError(t, err)
			defer r.Close()
			block, err := r.SigningBlock()
			require.NoError(t, err)
			require.NotNil(t, block)
			assert.Zero(t, block.CountBytes()%4096)
			data, err := r.ReadFile("resources.arsc")
			require.NoError(t, err)
			assert.Equal(t, []byte("table"), data)
		})
	}
}

func TestSignFile_Resign(t *testing.T) {
	rk, ek := testKeys(t)
	path := unsignedAPK(t, t.TempDir())
	require.NoError(t, SignFile(context.Background(), path, rk, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := archive.OpenBytes(data)
	require.NoError(t, err)
	block, err := r.SigningBlock()
	require.NoError(t, err)
	block.Put(archive.SignatureV3ID, []byte("stale"))
	block.UpdatePadding()
	var buf bytes.Buffer
	require.NoError(t, archive.Splice(bytes.NewReader(data), r.Layout, block, &buf))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	require.NoError(t, SignFile(context.Background(), path, ek, nil))
	signers, err := VerifyFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, AlgECDSASHA256, signers[0].Algorithm)

	r2, err := archive.Open(path)
	require.NoError(t, err)
	defer r2.Close()
	block, err = r2.SigningBlock()
	require.NoError(t, err)
	_, ok := block.Get(archive.SignatureV3ID)
	assert.False(t, ok)
}

func TestVerify_Tampered(t *testing.T) {
	rk, _ := testKeys(t)
	path := unsignedAPK(t, t.TempDir())
	require.NoError(t, SignFile(context.Background(), path, rk, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[40] ^= 0xff

	_, err = Verify(context.Background(), bytes.NewReader(data), int64(len(data)))
	testutil.AssertErrorCode(t, err, apperrors.CodeSigningError)
	assert.Contains(t, err.Error(), "content digest mismatch")
}

func TestVerify_Unsigned(t *testing.T) {
	path := unsignedAPK(t, t.TempDir())
	_, err := VerifyFile(context.Background(), path)
	testutil.AssertErrorCode(t, err, apperrors.CodeSigningError)
}

func TestContentDigest_Deterministic(t *testing.T) {
	path := unsignedAPK(t, t.TempDir())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	l, err := archive.ReadLayout(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	a, err := ContentDigest(context.Background(), bytes.NewReader(data), l)
	require.NoError(t, err)
	b, err := ContentDigest(context.Background(), bytes.NewReader(data), l)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ContentDigest(ctx, bytes.NewReader(data), l)
	assert.True(t, apperrors.IsCanceled(err))
}

func TestLoadPEM(t *testing.T) {
	_, ek := testKeys(t)
	dir := t.TempDir()
	certPEM, keyPEM, err := ek.EncodePEM()
	require.NoError(t, err)
	certPath := testutil.WriteBytes(t, dir, "cert.pem", certPEM)
	keyPath := testutil.WriteBytes(t, dir, "key.pem", keyPEM)

	key, err := LoadPEM(certPath, keyPath)
	require.NoError(t, err)
	assert.False(t, key.Ephemeral)
	assert.Equal(t, ek.Certificate.Raw, key.Certificate.Raw)

	_, err = LoadPEM(keyPath, keyPath)
	testutil.AssertErrorCode(t, err, apperrors.CodeSigningError)
}

func TestLoadPKCS12_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadPKCS12(filepath.Join(dir, "missing.p12"), "pw")
	testutil.AssertErrorCode(t, err, apperrors.CodeIOError)

	p := testutil.WriteBytes(t, dir, "bad.p12", []byte("not a keystore"))
	_, err = LoadPKCS12(p, "pw")
	testutil.AssertErrorCode(t, err, apperrors.CodeSigningError)
}
