package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceWithMock(t *testing.T) (*SyncService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewSyncService(db, logger), mock, db
}

func stubNow(t *testing.T, now int64) {
	t.Helper()
	orig := nowFn
	nowFn = func() int64 { return now }
	t.Cleanup(func() { nowFn = orig })
}

func TestApplyBatch_CreateAssignsServerTimestamp(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()
	stubNow(t, 5000)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE server_clock`).
		WithArgs(int64(5000)).
		WillReturnRows(sqlmock.NewRows([]string{"last_timestamp"}).AddRow(int64(5000)))
	mock.ExpectExec(`INSERT INTO notes`).
		WithArgs("n1", false, []byte(`{"title":"x"}`), int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results, err := svc.ApplyBatch(context.Background(), []BatchOp{
		{NoteID: "n1", Op: "create", Payload: json.RawMessage(`{"title":"x"}`)},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Accepted)
	assert.Equal(t, int64(5000), results[0].UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_RejectsMalformedOps(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()

	results, err := svc.ApplyBatch(context.Background(), []BatchOp{
		{NoteID: "n1", Op: "create"},
		{NoteID: "n2", Op: "update", Payload: json.RawMessage(`{"broken`)},
		{NoteID: "n3", Op: "rename"},
		{NoteID: "", Op: "create", Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err, "per-op rejection is a successful call")
	require.Len(t, results, 4)
	for i, res := range results {
		assert.False(t, res.Accepted, "op %d", i)
		assert.NotEmpty(t, res.Reason, "op %d", i)
	}
	require.NoError(t, mock.ExpectationsWereMet(), "malformed ops never touch the database")
}

func TestApplyBatch_DeleteOfAbsentIsAcknowledged(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	results, err := svc.ApplyBatch(context.Background(), []BatchOp{
		{NoteID: "ghost", Op: "delete"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Accepted)
	assert.Zero(t, results[0].UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_DeleteTombstonesExisting(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()
	stubNow(t, 9000)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes WHERE id = \$1`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "deleted", "payload", "updated_at"}).
			AddRow("n1", false, []byte(`{"title":"x"}`), int64(100)))
	mock.ExpectQuery(`UPDATE server_clock`).
		WithArgs(int64(9000)).
		WillReturnRows(sqlmock.NewRows([]string{"last_timestamp"}).AddRow(int64(9001)))
	mock.ExpectExec(`INSERT INTO notes`).
		WithArgs("n1", true, []byte(`{}`), int64(9001)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results, err := svc.ApplyBatch(context.Background(), []BatchOp{
		{NoteID: "n1", Op: "delete"},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Accepted)
	assert.Equal(t, int64(9001), results[0].UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPull_ReturnsRecordsAndAdvancesCursor(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "deleted", "payload", "updated_at"}).
		AddRow("a", false, []byte(`{"title":"a"}`), int64(11)).
		AddRow("b", true, []byte(`{}`), int64(15))

	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes\s+WHERE updated_at > \$1`).
		WithArgs(int64(10), 100).
		WillReturnRows(rows)

	res, err := svc.Pull(context.Background(), 10, 100)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(15), res.NextCursor)
	assert.True(t, res.Records[1].Deleted)
}

func TestPull_EmptyKeepsCursor(t *testing.T) {
	svc, mock, db := newServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes\s+WHERE updated_at > \$1`).
		WithArgs(int64(42), 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "deleted", "payload", "updated_at"}))

	res, err := svc.Pull(context.Background(), 42, 100)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, int64(42), res.NextCursor)
}
