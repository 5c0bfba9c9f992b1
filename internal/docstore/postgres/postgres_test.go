package pgstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"bibliopanel/internal/docstore"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "", opts...), mock
}

func docRows(data string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"data", "version", "updated_at"}).
		AddRow([]byte(data), version, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

var (
	selectRe = regexp.QuoteMeta(selectDoc)
	notifyRe = regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)
)

func TestGet(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(selectRe).
		WithArgs("BiblioBooks", "calc").
		WillReturnRows(docRows(`{"name":"Calculus","exemplaire":4}`, 2))

	snap, err := store.Get(context.Background(), "BiblioBooks", "calc")
	require.NoError(t, err)

	assert.Equal(t, "Calculus", docstore.String(snap.Data, "name"))
	n, ok := docstore.Int(snap.Data, "exemplaire")
	assert.True(t, ok)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(2), snap.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(selectRe).
		WithArgs("BiblioBooks", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version", "updated_at"}))

	_, err := store.Get(context.Background(), "BiblioBooks", "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestWhereEncodesValueAsJSON(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`data -> $2 = $3::jsonb`)).
		WithArgs("BiblioBooks", "name", `"Algebra"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "version", "updated_at"}).
			AddRow("alg", []byte(`{"name":"Algebra"}`), int64(1), time.Now()))

	snaps, err := store.Where(context.Background(), "BiblioBooks", "name", "Algebra")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "alg", snaps[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionUpdatesAtReadVersion(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectRe).
		WithArgs("BiblioBooks", "calc").
		WillReturnRows(docRows(`{"name":"Calculus","exemplaire":4}`, 3))
	mock.ExpectExec("UPDATE documents").
		WithArgs("BiblioBooks", "calc", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(notifyRe).
		WithArgs(Channel, "BiblioBooks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, "BiblioBooks", "calc")
		if err != nil {
			return err
		}
		n, _ := docstore.Int(snap.Data, "exemplaire")
		return tx.Set("BiblioBooks", "calc", map[string]any{"exemplaire": n - 1})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionStaleVersionIsConflict(t *testing.T) {
	store, mock := newMock(t, WithMaxAttempts(1))
	mock.ExpectBegin()
	mock.ExpectQuery(selectRe).WillReturnRows(docRows(`{"exemplaire":4}`, 3))
	mock.ExpectExec("UPDATE documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, "BiblioBooks", "calc"); err != nil {
			return err
		}
		return tx.Set("BiblioBooks", "calc", map[string]any{"exemplaire": 3})
	})
	assert.ErrorIs(t, err, docstore.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRetriesAfterConflict(t *testing.T) {
	store, mock := newMock(t, WithMaxAttempts(2))

	mock.ExpectBegin()
	mock.ExpectQuery(selectRe).WillReturnRows(docRows(`{"exemplaire":4}`, 3))
	mock.ExpectExec("UPDATE documents").WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(selectRe).WillReturnRows(docRows(`{"exemplaire":3}`, 4))
	mock.ExpectExec("UPDATE documents").
		WithArgs("BiblioBooks", "calc", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(notifyRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runs := 0
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		runs++
		snap, err := tx.Get(ctx, "BiblioBooks", "calc")
		if err != nil {
			return err
		}
		n, _ := docstore.Int(snap.Data, "exemplaire")
		return tx.Set("BiblioBooks", "calc", map[string]any{"exemplaire": n - 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlindWriteLocksAndInserts(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDoc + " FOR UPDATE")).
		WithArgs("ArchivesBiblio", "Arch").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version", "updated_at"}))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("ArchivesBiblio", "Arch", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(notifyRe).WithArgs(Channel, "ArchivesBiblio").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.ArrayUnion(context.Background(), "ArchivesBiblio", "Arch", "tableauArchives",
		map[string]any{"nomEtudiant": "Ada", "nomDoc": "Calculus"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationIsConflict(t *testing.T) {
	store, mock := newMock(t, WithMaxAttempts(1))
	mock.ExpectBegin()
	mock.ExpectQuery(selectRe).WillReturnRows(sqlmock.NewRows([]string{"data", "version", "updated_at"}))
	mock.ExpectExec("INSERT INTO documents").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	err := store.Set(context.Background(), "BiblioUser", "ada@example.com", map[string]any{"name": "Ada"})
	assert.ErrorIs(t, err, docstore.ErrConflict)
}

func TestTxFuncErrorIsNotRetried(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("slot is empty")
	runs := 0
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		runs++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("Departements", "x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "Departements", "x")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestSubscribeNeedsDSN(t *testing.T) {
	store, _ := newMock(t)
	_, err := store.Subscribe(context.Background(), "BiblioBooks", func([]*docstore.Snapshot) {})
	assert.Error(t, err)
}
