package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		typ  string
		name string
	}{
		{"sqlite", "sqlite"},
		{"", "sqlite"},
		{"mysql", "mysql"},
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			d, err := Dialector(&config.DatabaseConfig{
				Type: tt.typ,
				Path: filepath.Join(t.TempDir(), "db", "h.db"),
				Host: "localhost",
				Port: 5432,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}

	_, err := Dialector(&config.DatabaseConfig{Type: "oracle"})
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestOpen(t *testing.T) {
	repos, err := Open(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "nested", "history.db"),
	})
	require.NoError(t, err)
	require.NotNil(t, repos.Task)

	assert.NoError(t, repos.HealthCheck(context.Background()))
	assert.NoError(t, repos.Close())
}

func TestRepositories_CloseWithoutDB(t *testing.T) {
	assert.NoError(t, (&Repositories{}).Close())
}
