package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// pqUniqueViolation is the SQLSTATE Postgres reports for a unique-constraint
// violation; see https://www.postgresql.org/docs/current/errcodes-appendix.html.
const pqUniqueViolation = "23505"

// Store is the durable, transactional catalog of files and events. It wraps
// a *sql.DB (safe for concurrent use) and the configured table names.
type Store struct {
	db     *sql.DB
	tables TableNames
}

// sqlOpener is an indirection over sql.Open, overridden in tests.
var sqlOpener = sql.Open

// Open connects to Postgres using dsn and verifies connectivity.
func Open(dsn string, tables TableNames) (*Store, error) {
	db, err := sqlOpener("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	return &Store{db: db, tables: tables}, nil
}

// NewStore wraps an already-open database handle, e.g. one shared with
// other subsystems or supplied by a test harness.
func NewStore(db *sql.DB, tables TableNames) *Store {
	return &Store{db: db, tables: tables}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts one logical transaction, scoped to a single Finder
// iteration or Ingester batch phase per the store's contract.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyDBError("begin", err)
	}
	return tx, nil
}

// InsertFile inserts a new File row inside tx and returns its assigned id.
// It fails with *DuplicateFileError if relpath/filename or checksum already
// exist in the catalog (invariant I2); the caller must then roll back tx.
func (s *Store) InsertFile(ctx context.Context, tx *sql.Tx, relpath, filename, checksum string, size int64) (int64, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (relpath, filename, checksum, size_bytes, added_on)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.tables.File.Qualified(),
	)
	var id int64
	err := tx.QueryRowContext(ctx, query, relpath, filename, checksum, size, time.Now().UTC()).Scan(&id)
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return 0, dup
		}
		return 0, classifyDBError("insert_file", err)
	}
	return id, nil
}

// InsertEvent appends a new Event row inside tx. Events are never updated
// in place; this is the only write path onto the events table.
func (s *Store) InsertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (files_id, start_time, status, duration, ingest_ver, err_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.tables.Event.Qualified(),
	)
	_, err := tx.ExecContext(ctx, query,
		e.FilesID, e.StartTime, string(e.Status), durationMicros(e.Duration), e.IngestVer, e.ErrMessage)
	if err != nil {
		return classifyDBError("insert_event", err)
	}
	return nil
}

// FilesWithoutEvents returns the ids of File rows that have no Event at
// all — the repair case for invariant I1, and the source of new work for
// the Ingester's fetch-new phase.
func (s *Store) FilesWithoutEvents(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	query := fmt.Sprintf(
		`SELECT f.id FROM %s f
		 WHERE NOT EXISTS (SELECT 1 FROM %s e WHERE e.files_id = f.id)`,
		s.tables.File.Qualified(), s.tables.Event.Qualified(),
	)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyDBError("files_without_events", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classifyDBError("files_without_events", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("files_without_events", err)
	}
	return ids, nil
}

// FilesWithLatestStatus implements the projection underlying invariant I3:
// files whose most-recent event (by start_time) carries the given status,
// limited to n rows. Ordering of returned files is unspecified.
func (s *Store) FilesWithLatestStatus(ctx context.Context, tx *sql.Tx, status Status, limit int) ([]File, error) {
	query := fmt.Sprintf(`
		SELECT f.id, f.relpath, f.filename, f.checksum, f.size_bytes, f.added_on
		FROM %[1]s f
		JOIN (
			SELECT e.files_id, e.status
			FROM %[2]s e
			JOIN (
				SELECT files_id, MAX(start_time) AS last_start
				FROM %[2]s
				GROUP BY files_id
			) latest ON latest.files_id = e.files_id AND latest.last_start = e.start_time
		) recent ON recent.files_id = f.id
		WHERE recent.status = $1
		LIMIT $2`,
		s.tables.File.Qualified(), s.tables.Event.Qualified(),
	)
	rows, err := tx.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, classifyDBError("files_with_latest_status", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.RelPath, &f.Filename, &f.Checksum, &f.SizeBytes, &f.AddedOn); err != nil {
			return nil, classifyDBError("files_with_latest_status", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("files_with_latest_status", err)
	}
	return out, nil
}

// FileByRelPath looks up a File by its (relpath, filename) pair, used by
// the backfill and reconciliation tools to check whether a physically
// present file is already tracked.
func (s *Store) FileByRelPath(ctx context.Context, tx *sql.Tx, relpath, filename string) (*File, error) {
	query := fmt.Sprintf(
		`SELECT id, relpath, filename, checksum, size_bytes, added_on
		 FROM %s WHERE relpath = $1 AND filename = $2`,
		s.tables.File.Qualified(),
	)
	var f File
	err := tx.QueryRowContext(ctx, query, relpath, filename).
		Scan(&f.ID, &f.RelPath, &f.Filename, &f.Checksum, &f.SizeBytes, &f.AddedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyDBError("file_by_relpath", err)
	}
	return &f, nil
}

// FindDuplicate looks up a File whose filename or checksum already matches
// the given values — the pre-insert check the Finder uses to classify a
// discovered path as novel or duplicate (spec step 3 of the Finder loop).
// It returns nil, nil if neither matches.
func (s *Store) FindDuplicate(ctx context.Context, tx *sql.Tx, filename, checksum string) (*File, error) {
	query := fmt.Sprintf(
		`SELECT id, relpath, filename, checksum, size_bytes, added_on
		 FROM %s WHERE filename = $1 OR checksum = $2 LIMIT 1`,
		s.tables.File.Qualified(),
	)
	var f File
	err := tx.QueryRowContext(ctx, query, filename, checksum).
		Scan(&f.ID, &f.RelPath, &f.Filename, &f.Checksum, &f.SizeBytes, &f.AddedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyDBError("find_duplicate", err)
	}
	return &f, nil
}

// AllFiles returns every File row, used by the reconciliation tool to
// compare the catalog's view of storage against the filesystem's.
func (s *Store) AllFiles(ctx context.Context, tx *sql.Tx) ([]File, error) {
	query := fmt.Sprintf(
		`SELECT id, relpath, filename, checksum, size_bytes, added_on FROM %s`,
		s.tables.File.Qualified(),
	)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyDBError("all_files", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.RelPath, &f.Filename, &f.Checksum, &f.SizeBytes, &f.AddedOn); err != nil {
			return nil, classifyDBError("all_files", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// HasAnySuccessEvent reports whether the file has a SUCCESS event, used by
// the reconciliation tool to flag invariant-I5 violations ("ghosts").
func (s *Store) HasAnySuccessEvent(ctx context.Context, tx *sql.Tx, filesID int64) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %s WHERE files_id = $1 AND status = $2)`,
		s.tables.Event.Qualified(),
	)
	var exists bool
	err := tx.QueryRowContext(ctx, query, filesID, string(StatusSuccess)).Scan(&exists)
	if err != nil {
		return false, classifyDBError("has_success_event", err)
	}
	return exists, nil
}

func durationMicros(d time.Duration) int64 { return d.Microseconds() }

func asDuplicate(err error) *DuplicateFileError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return nil
	}
	field := DuplicateUnknown
	constraint := strings.ToLower(pqErr.Constraint)
	switch {
	case strings.Contains(constraint, "checksum"):
		field = DuplicateChecksum
	case strings.Contains(constraint, "filename"):
		field = DuplicateFilename
	}
	return &DuplicateFileError{Field: field, Err: err}
}

// classifyDBError wraps err as *TransientError, unless it is recognized as
// non-retriable, in which case it is wrapped as *FatalError. The
// distinction keeps callers from retrying e.g. a malformed query forever.
func classifyDBError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57": // connection, transaction rollback, insufficient resources, operator intervention
			return &TransientError{Op: op, Err: err}
		}
		return &FatalError{Op: op, Err: err}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return &TransientError{Op: op, Err: err}
	}
	return &FatalError{Op: op, Err: err}
}
