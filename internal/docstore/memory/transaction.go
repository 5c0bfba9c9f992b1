package memory

import (
	"context"
	"fmt"

	"bibliopanel/internal/docstore"
)

type docKey struct {
	collection string
	id         string
}

// transaction stages merged document bodies and applies them in one step at
// commit. It runs with the store mutex held, so it reads store maps directly.
type transaction struct {
	store  *Store
	order  []docKey
	staged map[docKey]map[string]any
}

func (t *transaction) current(key docKey) (map[string]any, bool) {
	if body, ok := t.staged[key]; ok {
		return body, true
	}
	if rec, ok := t.store.collections[key.collection][key.id]; ok {
		return rec.data, true
	}
	return nil, false
}

func (t *transaction) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	key := docKey{collection, id}
	if body, ok := t.staged[key]; ok {
		return &docstore.Snapshot{Collection: collection, ID: id, Data: docstore.CloneMap(body)}, nil
	}
	return t.store.get(collection, id)
}

func (t *transaction) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	out := t.store.where(collection, field, value)
	for i, snap := range out {
		if body, ok := t.staged[docKey{collection, snap.ID}]; ok {
			out[i] = &docstore.Snapshot{Collection: collection, ID: snap.ID, Data: docstore.CloneMap(body), Version: snap.Version}
		}
	}
	return out, nil
}

func (t *transaction) stage(key docKey, body map[string]any) {
	if t.staged == nil {
		t.staged = make(map[docKey]map[string]any)
	}
	if _, ok := t.staged[key]; !ok {
		t.order = append(t.order, key)
	}
	t.staged[key] = body
}

func (t *transaction) Set(collection, id string, fields map[string]any) error {
	key := docKey{collection, id}
	base, _ := t.current(key)
	t.stage(key, docstore.Merge(base, fields))
	return nil
}

func (t *transaction) ArrayUnion(collection, id, field string, values ...any) error {
	key := docKey{collection, id}
	base, _ := t.current(key)
	body := docstore.CloneMap(base)
	if body == nil {
		body = make(map[string]any)
	}
	body[field] = docstore.Union(docstore.Slice(base, field), values...)
	t.stage(key, body)
	return nil
}

func (t *transaction) touched() map[string]struct{} {
	out := make(map[string]struct{}, len(t.order))
	for _, key := range t.order {
		out[key.collection] = struct{}{}
	}
	return out
}

// commit checks injected faults for every staged write before applying any of
// them, so a failing write leaves the whole transaction unapplied.
func (t *transaction) commit() error {
	for _, key := range t.order {
		if err := t.store.faults[key.collection]; err != nil {
			return fmt.Errorf("write %s/%s: %w", key.collection, key.id, err)
		}
	}
	for _, key := range t.order {
		t.store.put(key.collection, key.id, t.staged[key])
	}
	return nil
}
