// Package pgstore stores documents as JSONB rows in PostgreSQL. Every row
// carries a version used for optimistic concurrency inside transactions, and
// changes are broadcast with LISTEN/NOTIFY.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Channel is the NOTIFY channel carrying the name of the changed collection.
const Channel = "documents_changed"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING GIN (data);
`

const selectDoc = `SELECT data, version, updated_at FROM documents WHERE collection = $1 AND id = $2`

// Store implements docstore.Store on a *sql.DB.
type Store struct {
	db          *sql.DB
	dsn         string
	tracer      trace.Tracer
	maxAttempts uint
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds how often a conflicting transaction is re-run.
func WithMaxAttempts(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New wraps an open database. dsn is only needed by Subscribe, which opens a
// dedicated listener connection.
func New(db *sql.DB, dsn string, opts ...Option) *Store {
	s := &Store{
		db:          db,
		dsn:         dsn,
		tracer:      otel.Tracer("bibliopanel/docstore/postgres"),
		maxAttempts: 5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(db, dsn, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the documents table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func getDoc(ctx context.Context, q queryer, collection, id string, lock bool) (*docstore.Snapshot, error) {
	query := selectDoc
	if lock {
		query += " FOR UPDATE"
	}
	var (
		raw  []byte
		snap = &docstore.Snapshot{Collection: collection, ID: id}
	)
	err := q.QueryRowContext(ctx, query, collection, id).Scan(&raw, &snap.Version, &snap.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	if snap.Data, err = decode(raw); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return snap, nil
}

func queryDocs(ctx context.Context, q queryer, collection, query string, args ...any) ([]*docstore.Snapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []*docstore.Snapshot
	for rows.Next() {
		var raw []byte
		snap := &docstore.Snapshot{Collection: collection}
		if err := rows.Scan(&snap.ID, &raw, &snap.Version, &snap.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if snap.Data, err = decode(raw); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, snap.ID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func whereDocs(ctx context.Context, q queryer, collection, field string, value any) ([]*docstore.Snapshot, error) {
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode query value: %w", err)
	}
	return queryDocs(ctx, q, collection, `
		SELECT id, data, version, updated_at
		FROM documents
		WHERE collection = $1 AND data -> $2 = $3::jsonb
		ORDER BY id ASC
	`, collection, field, string(want))
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.get", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("document.id", id),
	))
	defer span.End()
	return getDoc(ctx, s.db, collection, id, false)
}

func (s *Store) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.where", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("field", field),
	))
	defer span.End()

	out, err := whereDocs(ctx, s.db, collection, field, value)
	span.SetAttributes(attribute.Int("documents.matched", len(out)))
	return out, err
}

func (s *Store) All(ctx context.Context, collection string) ([]*docstore.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.all", trace.WithAttributes(
		attribute.String("collection", collection),
	))
	defer span.End()

	return queryDocs(ctx, s.db, collection, `
		SELECT id, data, version, updated_at
		FROM documents
		WHERE collection = $1
		ORDER BY id ASC
	`, collection)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(collection, id, fields)
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.ArrayUnion(collection, id, field, values...)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	ctx, span := s.tracer.Start(ctx, "docstore.delete", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("document.id", id),
	))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, collection); err != nil {
		logger.Warn("change notification failed", "collection", collection, "error", err)
	}
	return nil
}

// RunTransaction runs fn in a serializable transaction and re-runs it with
// exponential backoff when a version check or serialization failure reports
// a conflict. Other errors are returned after the first attempt.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	ctx, span := s.tracer.Start(ctx, "docstore.transaction")
	defer span.End()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.runOnce(ctx, fn)
		if err != nil && !errors.Is(err, docstore.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.maxAttempts))

	span.SetAttributes(attribute.Int("transaction.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &transaction{sqlTx: sqlTx, reads: make(map[docKey]*docstore.Snapshot)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.commit(ctx, s.now().UTC()); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapError turns unique violations and serialization failures into
// docstore.ErrConflict so the transaction is retried.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", docstore.ErrConflict, pqErr.Message)
		}
	}
	return err
}

// Subscribe opens a LISTEN connection and reloads the collection whenever a
// notification names it.
func (s *Store) Subscribe(ctx context.Context, collection string, fn func([]*docstore.Snapshot)) (func(), error) {
	if s.dsn == "" {
		return nil, errors.New("subscribe: store opened without a connection string")
	}
	initial, err := s.All(ctx, collection)
	if err != nil {
		return nil, err
	}

	listener := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", "collection", collection, "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}

	fn(initial)

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer listener.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case n := <-listener.Notify:
				// nil after a reconnect; changes may have been missed.
				if n != nil && n.Extra != collection {
					continue
				}
				snaps, err := s.All(subCtx, collection)
				if err != nil {
					logger.Warn("reload after notification failed", "collection", collection, "error", err)
					continue
				}
				fn(snaps)
			case <-time.After(90 * time.Second):
				if err := listener.Ping(); err != nil {
					logger.Warn("listener ping failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
