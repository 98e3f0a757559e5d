//go:build integration

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "endpointd",
			"POSTGRES_PASSWORD": "endpointd",
			"POSTGRES_DB":       "endpointd",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://endpointd:endpointd@%s:%s/endpointd?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.Eventually(t, func() bool { return db.Ping() == nil }, 30*time.Second, time.Second)
	require.NoError(t, Migrate(db))
	return db
}

func TestStore_Integration_FileEventLifecycle(t *testing.T) {
	db := startPostgres(t)
	store := NewStore(db, DefaultTableNames())
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	id, err := store.InsertFile(ctx, tx, "2026/07/31", "raw.fits", "checksum-1", 2048)
	require.NoError(t, err)
	require.NoError(t, store.InsertEvent(ctx, tx, NewEvent(id, StatusUntried, time.Now().UTC())))
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	untried, err := store.FilesWithLatestStatus(ctx, tx, StatusUntried, 10)
	require.NoError(t, err)
	require.Len(t, untried, 1)
	require.Equal(t, "raw.fits", untried[0].Filename)
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.InsertEvent(ctx, tx, NewEvent(id, StatusSuccess, time.Now().UTC())))
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	succeeded, err := store.FilesWithLatestStatus(ctx, tx, StatusSuccess, 10)
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	stillUntried, err := store.FilesWithLatestStatus(ctx, tx, StatusUntried, 10)
	require.NoError(t, err)
	require.Empty(t, stillUntried)
	require.NoError(t, tx.Commit())
}

func TestStore_Integration_DuplicateChecksumRejected(t *testing.T) {
	db := startPostgres(t)
	store := NewStore(db, DefaultTableNames())
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = store.InsertFile(ctx, tx, "2026/07/31", "a.fits", "dup-checksum", 10)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = store.InsertFile(ctx, tx, "2026/08/01", "b.fits", "dup-checksum", 10)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}
