package discovery

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_YieldsRelativePaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.fits"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "nested.fits"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("x"), 0o644))

	exclude, err := CompileExcludes([]string{`\.tmp$`})
	require.NoError(t, err)

	var got []string
	for path := range Scan(root, exclude) {
		got = append(got, path)
	}
	slices.Sort(got)
	assert.Equal(t, []string{filepath.Join("a", "b", "nested.fits"), "top.fits"}, got)
}

func TestScan_StopsWhenYieldReturnsFalse(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, string(rune('a'+i))+".fits"), []byte("x"), 0o644))
	}

	count := 0
	for range Scan(root, nil) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestCompileExcludes_InvalidPattern(t *testing.T) {
	_, err := CompileExcludes([]string{"("})
	assert.Error(t, err)
}
