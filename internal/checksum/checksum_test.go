package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.dat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOf_Blake2bDefault(t *testing.T) {
	path := writeTemp(t, "hello archive")
	sum, err := Of(path, BLAKE2b)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	fallback, err := Of(path, Method("unknown"))
	require.NoError(t, err)
	assert.Equal(t, sum, fallback)
}

func TestOf_Deterministic(t *testing.T) {
	path := writeTemp(t, "same bytes every time")
	first, err := Of(path, BLAKE2b)
	require.NoError(t, err)
	second, err := Of(path, BLAKE2b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOf_MD5AndSHA1Differ(t *testing.T) {
	path := writeTemp(t, "distinguish algorithms")
	md5sum, err := Of(path, MD5)
	require.NoError(t, err)
	sha1sum, err := Of(path, SHA1)
	require.NoError(t, err)
	assert.NotEqual(t, md5sum, sha1sum)
	assert.Len(t, md5sum, 32)
	assert.Len(t, sha1sum, 40)
}

func TestOf_MissingFile(t *testing.T) {
	_, err := Of(filepath.Join(t.TempDir(), "missing.dat"), BLAKE2b)
	assert.Error(t, err)
}
