package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bibliopanel/internal/docstore"
)

type docKey struct {
	collection string
	id         string
}

type mutation func(map[string]any) map[string]any

// transaction records the version of every document it reads and defers
// writes to commit, where each one is checked against that version.
type transaction struct {
	sqlTx *sql.Tx
	reads map[docKey]*docstore.Snapshot
	order []docKey
	muts  map[docKey][]mutation
}

func (t *transaction) remember(key docKey, snap *docstore.Snapshot) {
	if _, ok := t.reads[key]; !ok {
		t.reads[key] = snap
	}
}

func (t *transaction) apply(key docKey, base map[string]any) map[string]any {
	body := docstore.CloneMap(base)
	for _, m := range t.muts[key] {
		body = m(body)
	}
	return body
}

func (t *transaction) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	key := docKey{collection, id}
	snap, err := getDoc(ctx, t.sqlTx, collection, id, false)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		t.remember(key, nil)
		if len(t.muts[key]) == 0 {
			return nil, err
		}
		return &docstore.Snapshot{Collection: collection, ID: id, Data: t.apply(key, nil)}, nil
	case err != nil:
		return nil, err
	}
	t.remember(key, &docstore.Snapshot{Collection: collection, ID: id, Data: docstore.CloneMap(snap.Data), Version: snap.Version})
	if len(t.muts[key]) > 0 {
		snap.Data = t.apply(key, snap.Data)
	}
	return snap, nil
}

func (t *transaction) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	snaps, err := whereDocs(ctx, t.sqlTx, collection, field, value)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		key := docKey{collection, snap.ID}
		t.remember(key, &docstore.Snapshot{Collection: collection, ID: snap.ID, Data: docstore.CloneMap(snap.Data), Version: snap.Version})
		if len(t.muts[key]) > 0 {
			snap.Data = t.apply(key, snap.Data)
		}
	}
	return snaps, nil
}

func (t *transaction) stage(key docKey, m mutation) {
	if t.muts == nil {
		t.muts = make(map[docKey][]mutation)
	}
	if _, ok := t.muts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.muts[key] = append(t.muts[key], m)
}

func (t *transaction) Set(collection, id string, fields map[string]any) error {
	fields = docstore.CloneMap(fields)
	t.stage(docKey{collection, id}, func(body map[string]any) map[string]any {
		return docstore.Merge(body, fields)
	})
	return nil
}

func (t *transaction) ArrayUnion(collection, id, field string, values ...any) error {
	t.stage(docKey{collection, id}, func(body map[string]any) map[string]any {
		if body == nil {
			body = make(map[string]any)
		}
		body[field] = docstore.Union(docstore.Slice(body, field), values...)
		return body
	})
	return nil
}

func (t *transaction) commit(ctx context.Context, now time.Time) error {
	notified := make(map[string]bool)
	for _, key := range t.order {
		base, seen := t.reads[key]
		if !seen {
			snap, err := getDoc(ctx, t.sqlTx, key.collection, key.id, true)
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
			base = snap
		}

		var data map[string]any
		if base != nil {
			data = base.Data
		}
		raw, err := json.Marshal(t.apply(key, data))
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", key.collection, key.id, err)
		}

		if base == nil {
			_, err = t.sqlTx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, data, version, updated_at)
				VALUES ($1, $2, $3, 1, $4)
			`, key.collection, key.id, raw, now)
			if err != nil {
				return fmt.Errorf("insert %s/%s: %w", key.collection, key.id, err)
			}
		} else {
			res, err := t.sqlTx.ExecContext(ctx, `
				UPDATE documents
				SET data = $3, version = version + 1, updated_at = $4
				WHERE collection = $1 AND id = $2 AND version = $5
			`, key.collection, key.id, raw, now, base.Version)
			if err != nil {
				return fmt.Errorf("update %s/%s: %w", key.collection, key.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update %s/%s at version %d: %w", key.collection, key.id, base.Version, docstore.ErrConflict)
			}
		}

		if !notified[key.collection] {
			notified[key.collection] = true
			if _, err := t.sqlTx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, key.collection); err != nil {
				return fmt.Errorf("notify %s: %w", key.collection, err)
			}
		}
	}
	return nil
}
