// Package action implements the Finder's pluggable relocation step: what
// happens to a file once it has been discovered and checksummed. Every
// Action reports the file's current path and can be undone if the catalog
// insert that follows it fails.
package action

// Action moves, deletes, or otherwise disposes of a discovered file. Path
// reports where the file currently lives; it is empty once Execute has not
// yet run, or after Delete has removed the file for good.
type Action interface {
	Execute(path string) error
	Undo() error
	Path() string
}

// Noop performs no filesystem operation; Path simply echoes whatever was
// passed to Execute. Used as the standard action when the catalog has
// nothing to relocate files away from.
type Noop struct {
	path string
}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Execute(path string) error {
	n.path = path
	return nil
}

func (n *Noop) Undo() error { return nil }

func (n *Noop) Path() string { return n.path }
