// Package plugin defines the boundary between the Ingester and the
// external science-repository ingest routine. The actual LSST/Butler-style
// ingest task is out of scope for this module (see the Ingester design
// notes); what lives here is the fixed, non-reflective set of plugins a
// worker can be configured with, plus a composite for chaining them.
package plugin

import "context"

// Plugin attempts to ingest one file into the downstream repository.
// Execute returning a non-nil error fails the attempt; workers still
// record a Success/Failure event based solely on whether err is nil.
type Plugin interface {
	Execute(ctx context.Context, path string) error
	Version() string
}

// Factory constructs a Plugin, invoked once per worker goroutine so that
// plugins holding non-thread-safe state (an open repository handle, say)
// get their own instance.
type Factory func() (Plugin, error)

// Null performs no work and always reports success; it is used for
// pipeline smoke tests and for sites that only need the catalog, not an
// actual downstream repository.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (n *Null) Execute(ctx context.Context, path string) error { return nil }

func (n *Null) Version() string { return "" }

// Raw wraps an arbitrary function as a Plugin, letting callers (tests, or
// a site with a bespoke ingest routine) supply one without a full type.
type Raw struct {
	Fn  func(ctx context.Context, path string) error
	Ver string
}

func NewRaw(ver string, fn func(ctx context.Context, path string) error) *Raw {
	return &Raw{Fn: fn, Ver: ver}
}

func (r *Raw) Execute(ctx context.Context, path string) error { return r.Fn(ctx, path) }

func (r *Raw) Version() string { return r.Ver }

// Pipeline chains two plugins, running the second only if the first
// succeeds. Version reports the downstream (second) plugin's version,
// since that is the one actually responsible for the archival ingest.
type Pipeline struct {
	First, Second Plugin
}

func NewPipeline(first, second Plugin) *Pipeline {
	return &Pipeline{First: first, Second: second}
}

func (p *Pipeline) Execute(ctx context.Context, path string) error {
	if err := p.First.Execute(ctx, path); err != nil {
		return err
	}
	return p.Second.Execute(ctx, path)
}

func (p *Pipeline) Version() string { return p.Second.Version() }
