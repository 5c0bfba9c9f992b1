// Package docstore defines the document-store surface the panel is written
// against: schemaless records addressed by collection and id, equality
// queries, change subscriptions and multi-record transactions.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("concurrency conflict: version mismatch")
)

// Snapshot is a point-in-time copy of one document.
type Snapshot struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
	Version    int64          `json:"version"`
	UpdateTime time.Time      `json:"update_time"`
}

// Reader is the read half shared by stores and transactions.
type Reader interface {
	Get(ctx context.Context, collection, id string) (*Snapshot, error)
	Where(ctx context.Context, collection, field string, value any) ([]*Snapshot, error)
}

// Tx is a unit of work. All reads must happen before the first write, the
// same restriction Firestore places on transactions. Writes become visible
// only when the transaction function returns nil.
type Tx interface {
	Reader
	// Set merges fields into the document, creating it when absent.
	Set(collection, id string, fields map[string]any) error
	// ArrayUnion appends values to an array field, skipping values already present.
	ArrayUnion(collection, id, field string, values ...any) error
}

// TxFunc is the body of a transaction. It may be invoked more than once when
// the backend retries on contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by the memory, Firestore and Postgres backends.
type Store interface {
	Reader
	All(ctx context.Context, collection string) ([]*Snapshot, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Delete(ctx context.Context, collection, id string) error
	ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error
	// Subscribe calls fn with the full collection once immediately and again
	// after every change. The returned function stops the subscription.
	Subscribe(ctx context.Context, collection string, fn func([]*Snapshot)) (func(), error)
	RunTransaction(ctx context.Context, fn TxFunc) error
	Close() error
}
