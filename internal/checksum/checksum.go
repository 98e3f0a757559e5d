// Package checksum computes the content hash the catalog uses to dedupe
// files (invariant I2). BLAKE2b is the default algorithm; MD5 and SHA-1 are
// kept available for sites migrating off an older archive's hash column.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Method names a supported hash algorithm.
type Method string

const (
	BLAKE2b Method = "blake2b"
	MD5     Method = "md5"
	SHA1    Method = "sha1"
)

const defaultBlockSize = 64 * 1024

func newHasher(method Method) (hash.Hash, error) {
	switch method {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case BLAKE2b, "":
		return blake2b.New256(nil)
	default:
		return blake2b.New256(nil)
	}
}

// Of streams the file at path through the named method and returns its
// hex-encoded digest. An unrecognized method falls back to BLAKE2b, mirroring
// the archive's historical default.
func Of(path string, method Method) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer f.Close()

	hasher, err := newHasher(method)
	if err != nil {
		return "", fmt.Errorf("checksum: init %s hasher: %w", method, err)
	}
	buf := make([]byte, defaultBlockSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", fmt.Errorf("checksum: read %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
