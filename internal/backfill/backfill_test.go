package backfill

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/checksum"
)

func silentLogger() *zerolog.Logger {
	l := zerolog.New(nil).Level(zerolog.Disabled)
	return &l
}

func TestRun_BackfillsUntrackedFiles(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "a", "x.fits"), []byte("data"), 0o644))

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := catalog.NewStore(db, catalog.DefaultTableNames())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE relpath = $1 AND filename = $2`)).
		WithArgs("a", "x.fits").
		WillReturnRows(sqlmock.NewRows([]string{"id", "relpath", "filename", "checksum", "size_bytes", "added_on"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "files"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`)).
		WithArgs(int64(5), sqlmock.AnyArg(), string(catalog.StatusBackfill), sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	counts, err := Run(context.Background(), store, storage, nil, checksum.BLAKE2b, silentLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Success)
	assert.Equal(t, 0, counts.Tracked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SkipsAlreadyTracked(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storage, "x.fits"), []byte("data"), 0o644))

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := catalog.NewStore(db, catalog.DefaultTableNames())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE relpath = $1 AND filename = $2`)).
		WithArgs("", "x.fits").
		WillReturnRows(sqlmock.NewRows([]string{"id", "relpath", "filename", "checksum", "size_bytes", "added_on"}).
			AddRow(int64(1), "", "x.fits", "sum", int64(4), time.Now().UTC()))
	mock.ExpectCommit()

	counts, err := Run(context.Background(), store, storage, nil, checksum.BLAKE2b, silentLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Tracked)
	assert.Equal(t, 0, counts.Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}
