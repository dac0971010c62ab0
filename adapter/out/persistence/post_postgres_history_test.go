package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

func newMockHistory(t *testing.T) (*PostgresHistory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresHistory(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresHistoryWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("count and trimmed texts", func(t *testing.T) {
		h, mock := newMockHistory(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM post_history")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT text").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"text"}).AddRow("  newest ").AddRow("older"))

		w, err := h.Window(ctx, 2)
		if err != nil {
			t.Fatalf("Window() error = %v", err)
		}
		if w.Count != 3 || len(w.Recent) != 2 || w.Recent[0] != "newest" {
			t.Errorf("Window() = %+v", w)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("empty table skips the text query", func(t *testing.T) {
		h, mock := newMockHistory(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM post_history")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		w, err := h.Window(ctx, 10)
		if err != nil || w.Count != 0 || len(w.Recent) != 0 {
			t.Errorf("Window() = %+v, %v", w, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("driver errors are storage errors", func(t *testing.T) {
		h, mock := newMockHistory(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM post_history")).
			WillReturnError(errors.New("connection reset"))

		if _, err := h.Window(ctx, 10); !apperr.HasCode(err, apperr.CodeStorageError) {
			t.Errorf("expected STORAGE_ERROR, got %v", err)
		}
	})
}

func TestPostgresHistoryAppend(t *testing.T) {
	h, mock := newMockHistory(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []domain.HistoryRecord{
		{ID: 1, RunID: "r1", Category: "insight", Text: "one", CreatedAt: now},
		{ID: 2, RunID: "r1", Category: "educational", Text: "two", Tags: []string{"gate"}, CreatedAt: now},
	}

	mock.ExpectBegin()
	for _, rec := range records {
		mock.ExpectExec("INSERT INTO post_history").
			WithArgs(rec.ID, rec.RunID, rec.Category, "", rec.Text, "", sqlmock.AnyArg(), now).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := h.Append(context.Background(), records); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresHistoryAppendRollsBack(t *testing.T) {
	h, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO post_history").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := h.Append(context.Background(), []domain.HistoryRecord{{ID: 1, Text: "one"}})
	if !apperr.HasCode(err, apperr.CodeStorageError) {
		t.Errorf("expected STORAGE_ERROR, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresHistoryHealCategories(t *testing.T) {
	h, mock := newMockHistory(t)
	mock.ExpectExec("UPDATE post_history").
		WithArgs("educational", domain.UnknownCategory).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := h.HealCategories(context.Background(), "educational")
	if err != nil || n != 4 {
		t.Errorf("HealCategories() = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
