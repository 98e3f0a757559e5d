package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obs-archive/endpointd/internal/catalog"
)

func TestRun_FindsOrphansAndGhosts(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storage, "orphan.fits"), []byte("x"), 0o644))

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := catalog.NewStore(db, catalog.DefaultTableNames())

	cols := []string{"id", "relpath", "filename", "checksum", "size_bytes", "added_on"}
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "files"`)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "", "ghost.fits", "sum1", int64(1), time.Now().UTC()))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "events"`)).
		WithArgs(int64(1), string(catalog.StatusSuccess)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	report, err := Run(context.Background(), store, storage, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan.fits"}, report.Orphans)
	require.Len(t, report.Ghosts, 1)
	assert.Equal(t, "ghost.fits", report.Ghosts[0].Filename)
	require.Len(t, report.GhostsWithSuccess, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
