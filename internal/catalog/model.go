// Package catalog implements the durable, append-only event log that backs
// the Finder and the Ingester: the "files" and "events" tables, a
// transactional store interface, and the "latest event per file" projection
// that drives every scheduling decision in the system.
package catalog

import "time"

// Status is the closed set of dispositions a File can carry. It is the
// status of a File's most recent Event (see Store.FilesWithLatestStatus).
type Status string

const (
	StatusUntried  Status = "UNTRIED"
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
	StatusIgnored  Status = "IGNORED"
	StatusInvalid  Status = "INVALID"
	StatusUnknown  Status = "UNKNOWN"
	StatusBackfill Status = "BACKFILL"
	StatusRerun    Status = "RERUN"
)

// Valid reports whether s is one of the closed set of recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUntried, StatusPending, StatusSuccess, StatusFailure,
		StatusIgnored, StatusInvalid, StatusUnknown, StatusBackfill, StatusRerun:
		return true
	default:
		return false
	}
}

// File is one physical artifact tracked in the catalog. It is never updated
// or deleted by the core; external tools may prune it.
type File struct {
	ID        int64
	RelPath   string
	Filename  string
	Checksum  string
	SizeBytes int64
	AddedOn   time.Time
}

// Event is one append-only observation about a File at a point in time.
// Events are never updated in place.
type Event struct {
	FilesID    int64
	StartTime  time.Time
	Status     Status
	Duration   time.Duration
	IngestVer  *string
	ErrMessage *string
}

// NewEvent builds an Event with the given required fields; the optional
// fields default to their zero values.
func NewEvent(filesID int64, status Status, start time.Time) Event {
	return Event{FilesID: filesID, StartTime: start, Status: status}
}

// WithVersion attaches an ingest-plugin version string to the event.
func (e Event) WithVersion(v string) Event {
	e.IngestVer = &v
	return e
}

// WithMessage attaches a free-text message to the event.
func (e Event) WithMessage(m string) Event {
	e.ErrMessage = &m
	return e
}

// WithDuration attaches the elapsed time of the attempt represented.
func (e Event) WithDuration(d time.Duration) Event {
	e.Duration = d
	return e
}
