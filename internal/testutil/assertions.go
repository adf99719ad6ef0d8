package testutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/archive"
	apperrors "github.com/antisplit/pkg/errors"
)

// AssertErrorCode asserts that err carries the AppError code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.GetErrorCode(err), "error: %v", err)
}

// EntryNames returns the sorted entry names of an archive.
func EntryNames(t testing.TB, data []byte) []string {
	t.Helper()
	r, err := archive.OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// AssertEntries asserts that the archive holds exactly the named entries.
func AssertEntries(t testing.TB, data []byte, names ...string) {
	t.Helper()
	want := append([]string(nil), names...)
	sort.Strings(want)
	assert.Equal(t, want, EntryNames(t, data))
}

// ReadEntry returns the uncompressed data of name inside the archive.
func ReadEntry(t testing.TB, data []byte, name string) []byte {
	t.Helper()
	r, err := archive.OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	out, err := r.ReadFile(name)
	require.NoError(t, err)
	return out
}
