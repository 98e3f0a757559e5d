package action

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Delete removes a file outright. It cannot be undone; it is used for
// files discovered to be exact duplicates of something already cataloged.
type Delete struct{}

func NewDelete() *Delete { return &Delete{} }

func (d *Delete) Execute(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("action: resolve %q: %w", path, err)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("action: delete %q: %w", abs, err)
	}
	return nil
}

func (d *Delete) Undo() error {
	return errors.New("action: delete cannot be undone")
}

func (d *Delete) Path() string { return "" }
