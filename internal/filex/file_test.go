package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesNestedDirectory(t *testing.T) {
	tmp := t.TempDir()
	want := filepath.Join(tmp, "state", "ledger")

	got, err := EnsureDir(want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o660))

	_, err := EnsureDir(path)
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ledger.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0o600))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must be cleaned up")
}
