package pprof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/antisplit/pkg/errors"
)

func TestParseProfileTypes(t *testing.T) {
	tests := []struct {
		input   string
		want    []ProfileType
		wantErr bool
	}{
		{"", DefaultProfileTypes(), false},
		{"cpu", []ProfileType{ProfileCPU}, false},
		{" Heap , goroutine,heap", []ProfileType{ProfileHeap, ProfileGoroutine}, false},
		{"cpu,threads", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProfileTypes(tt.input)
			if tt.wantErr {
				assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "cpu,heap", String(DefaultProfileTypes()))
	assert.Equal(t, "", String(nil))
}

func TestSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pprof")
	types := []ProfileType{ProfileHeap, ProfileGoroutine, ProfileMutex}

	s, err := Start(dir, types)
	require.NoError(t, err)

	files, err := s.Stop()
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, pt := range types {
		assert.Equal(t, filepath.Join(dir, FileName(pt)), files[i])
		info, err := os.Stat(files[i])
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	files, err = s.Stop()
	assert.NoError(t, err)
	assert.Empty(t, files)
}

func TestSession_CPU(t *testing.T) {
	dir := t.TempDir()
	s, err := Start(dir, []ProfileType{ProfileCPU})
	require.NoError(t, err)

	files, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "cpu.pprof")}, files)
}
