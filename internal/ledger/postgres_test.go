package ledger

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"name", "content_hash", "status", "passages", "error", "processed_at"}

func TestPostgresLedger_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, content_hash, status, passages, error, processed_at FROM documents WHERE name = $1`)).
		WithArgs("guide.pdf").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("guide.pdf", "abc", "processed", 4, "", at))

	l := NewPostgresLedger(db)
	rec, err := l.Get(context.Background(), "guide.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, rec.Status)
	assert.Equal(t, 4, rec.Passages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name").WithArgs("nope.pdf").WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresLedger(db).Get(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresLedger_PutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec("INSERT INTO documents .* ON CONFLICT \\(name\\) DO UPDATE").
		WithArgs("guide.pdf", "abc", "processed", 4, "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresLedger(db).Put(context.Background(), Record{Name: "guide.pdf", ContentHash: "abc", Status: StatusProcessed, Passages: 4, ProcessedAt: at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ListAndReset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, content_hash, status, passages, error, processed_at FROM documents ORDER BY name`)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a.pdf", "h1", "no_content", 0, "no text", at).
			AddRow("b.pdf", "h2", "processed", 2, "", at))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents`)).WillReturnResult(sqlmock.NewResult(0, 2))

	l := NewPostgresLedger(db)
	list, err := l.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StatusNoContent, list[0].Status)

	require.NoError(t, l.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name").WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresLedger(db).List(context.Background())
	assert.EqualError(t, err, "connection reset")
}
