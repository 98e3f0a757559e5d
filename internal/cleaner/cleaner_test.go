package cleaner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *zerolog.Logger {
	l := zerolog.New(nil).Level(zerolog.Disabled)
	return &l
}

func TestRun_RemovesStaleFilesAndEmptyDirs(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	stale := filepath.Join(nested, "old.fits")
	fresh := filepath.Join(root, "new.fits")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	counts, err := Run(root, 24*time.Hour, silentLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.FilesRemoved)
	assert.Equal(t, 2, counts.DirsRemoved)
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.FileExists(t, fresh)
}

func TestRun_KeepsNonEmptyDirs(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	stale := filepath.Join(nested, "old.fits")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "keep.fits"), []byte("x"), 0o644))

	counts, err := Run(root, 24*time.Hour, silentLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.FilesRemoved)
	assert.Equal(t, 0, counts.DirsRemoved)
	assert.DirExists(t, nested)
}
