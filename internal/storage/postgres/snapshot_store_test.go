package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/snapshot"
)

var snapshotColumns = []string{"strip_date", "image_url", "title", "archive_ts"}

func TestNewSnapshotStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSnapshotStore(nil, "snapshots")
	require.Error(t, err)
	_, err = NewSnapshotStore(mock, "snapshots; DROP TABLE x")
	require.Error(t, err)
	store, err := NewSnapshotStore(mock, "")
	require.NoError(t, err)
	require.Equal(t, "snapshots", store.table)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStore(mock, "dilbert_snapshots")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dilbert_snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadThenSaveWritesOnlyChangedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStore(mock, "snapshots")
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SELECT strip_date, image_url, title, archive_ts FROM snapshots").
		WillReturnRows(mock.NewRows(snapshotColumns).
			AddRow("2000-01-01", "https://a/1.gif", "One", "20000101000000").
			AddRow("2000-01-02", "https://a/2.gif", "Two", ""))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "20000101000000", loaded["2000-01-01"].Timestamp)

	loaded["2000-01-02"] = snapshot.Entry{ImageURL: "https://a/2b.gif", Title: "Two"}
	loaded["2000-01-03"] = snapshot.Entry{ImageURL: "https://a/3.gif", Title: "Three"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("2000-01-02", "https://a/2b.gif", "Two", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("2000-01-03", "https://a/3.gif", "Three", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(ctx, loaded))

	// nothing changed since: no transaction at all
	require.NoError(t, store.Save(ctx, loaded))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStore(mock, "snapshots")
	require.NoError(t, err)
	entries := map[string]snapshot.Entry{"2000-01-01": {ImageURL: "u", Title: "t"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("2000-01-01", "u", "t", "").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	require.Error(t, store.Save(context.Background(), entries))

	// the failed row is retried on the next save
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("2000-01-01", "u", "t", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStore(mock, "snapshots")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT strip_date").WillReturnError(errors.New("connection refused"))
	_, err = store.Load(context.Background())
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
