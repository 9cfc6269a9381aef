package notes

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestUpsert_InsertOrReplace(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// (?s) lets .* span the query's newlines
	q := regexp.MustCompile(`(?s)INSERT INTO notes.*ON CONFLICT \(id\).*DO UPDATE SET`)

	mock.ExpectExec(q.String()).
		WithArgs("n1", false, []byte(`{"title":"x"}`), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.Note{
		ID:        "n1",
		Payload:   []byte(`{"title":"x"}`),
		UpdatedAt: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notes`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Upsert(context.Background(), &models.Note{ID: "n1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByID_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "deleted", "payload", "updated_at"}).
		AddRow("n1", true, []byte(`{}`), int64(7))

	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes WHERE id = \$1`).
		WithArgs("n1").
		WillReturnRows(rows)

	n, err := repo.GetByID(context.Background(), "n1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ID != "n1" || !n.Deleted || n.UpdatedAt != 7 {
		t.Fatalf("unexpected note: %+v", n)
	}
}

func TestSelectUpdated_ReturnsOrderedBatch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "deleted", "payload", "updated_at"}).
		AddRow("a", false, []byte(`{"title":"a"}`), int64(11)).
		AddRow("b", true, []byte(`{}`), int64(12))

	mock.ExpectQuery(`SELECT id, deleted, payload, updated_at FROM notes\s+WHERE updated_at > \$1 ORDER BY updated_at ASC LIMIT \$2`).
		WithArgs(int64(10), 500).
		WillReturnRows(rows)

	result, err := repo.SelectUpdated(context.Background(), 10, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result))
	}
	if result[0].ID != "a" || result[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
