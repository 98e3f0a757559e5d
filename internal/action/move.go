package action

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Move relocates a file from Src to Dst, preserving its relative directory
// structure: a file at Src/foo/bar.fits ends up at Dst/foo/bar.fits.
type Move struct {
	Src string
	Dst string

	old string
	new string
}

// NewMove validates that src and dst are both existing directories and
// returns a Move configured to relocate files between them.
func NewMove(src, dst string) (*Move, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return nil, fmt.Errorf("action: resolve src %q: %w", src, err)
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return nil, fmt.Errorf("action: resolve dst %q: %w", dst, err)
	}
	for _, dir := range []string{absSrc, absDst} {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("action: directory %q: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("action: %q is not a directory", dir)
		}
	}
	return &Move{Src: absSrc, Dst: absDst}, nil
}

// Execute moves the file at path into m.Dst, mirroring its subdirectory
// path under m.Src. path must lie within m.Src.
func (m *Move) Execute(path string) error {
	old, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("action: resolve %q: %w", path, err)
	}
	if !withinDir(old, m.Src) {
		return fmt.Errorf("action: %q is not within %q", old, m.Src)
	}

	rel, err := filepath.Rel(m.Src, old)
	if err != nil {
		return fmt.Errorf("action: relativize %q: %w", old, err)
	}
	dest := filepath.Join(m.Dst, rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("action: mkdir %q: %w", filepath.Dir(dest), err)
	}
	if err := renameOrCopy(old, dest); err != nil {
		return fmt.Errorf("action: move %q to %q: %w", old, dest, err)
	}
	m.old, m.new = old, dest
	return nil
}

// Undo moves the file back to its original location and prunes any
// directories left empty by the relocation.
func (m *Move) Undo() error {
	if m.old == "" || m.new == "" {
		return errors.New("action: undo: not executed or already reverted")
	}
	if err := renameOrCopy(m.new, m.old); err != nil {
		return fmt.Errorf("action: undo move: %w", err)
	}
	pruneEmptyDirs(filepath.Dir(m.new), m.Dst)
	m.new, m.old = m.old, ""
	return nil
}

func (m *Move) Path() string { return m.new }

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// renameOrCopy attempts an atomic rename, falling back to copy-then-remove
// when src and dst straddle different filesystems (EXDEV).
func renameOrCopy(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) && !isCrossDevice(err) {
		return err
	}
	return copyThenRemove(src, dst)
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// pruneEmptyDirs removes dir and its ancestors, stopping at stop or the
// first non-empty directory, mirroring os.removedirs.
func pruneEmptyDirs(dir, stop string) {
	for dir != stop && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
