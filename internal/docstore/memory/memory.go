// Package memory is an in-process docstore used by tests, the chaos runner
// and single-node development deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bibliopanel/internal/docstore"

	"github.com/google/uuid"
)

type record struct {
	data    map[string]any
	version int64
	updated time.Time
}

type subscriber struct {
	id uint64
	fn func([]*docstore.Snapshot)
}

// Store keeps every collection in memory behind one mutex. Transactions hold
// the mutex for their whole duration, so they are serializable.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*record
	faults      map[string]error
	subscribers map[string][]subscriber
	nextSubID   uint64
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*record),
		faults:      make(map[string]error),
		subscribers: make(map[string][]subscriber),
		now:         time.Now,
	}
}

// FailWrites makes every subsequent write touching collection fail with err.
// Passing a nil err clears the fault.
func (s *Store) FailWrites(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, collection)
		return
	}
	s.faults[collection] = err
}

// Seed writes a document without notifying subscribers or checking faults.
func (s *Store) Seed(collection, id string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, docstore.CloneMap(data))
}

func (s *Store) put(collection, id string, data map[string]any) {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*record)
		s.collections[collection] = docs
	}
	rec, ok := docs[id]
	if !ok {
		rec = &record{}
		docs[id] = rec
	}
	rec.data = data
	rec.version++
	rec.updated = s.now().UTC()
}

func (s *Store) snapshot(collection, id string, rec *record) *docstore.Snapshot {
	return &docstore.Snapshot{
		Collection: collection,
		ID:         id,
		Data:       docstore.CloneMap(rec.data),
		Version:    rec.version,
		UpdateTime: rec.updated,
	}
}

func (s *Store) get(collection, id string) (*docstore.Snapshot, error) {
	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return s.snapshot(collection, id, rec), nil
}

// sorted returns snapshots ordered by id so results are deterministic.
func (s *Store) sorted(collection string, keep func(map[string]any) bool) []*docstore.Snapshot {
	docs := s.collections[collection]
	ids := make([]string, 0, len(docs))
	for id, rec := range docs {
		if keep == nil || keep(rec.data) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*docstore.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.snapshot(collection, id, docs[id]))
	}
	return out
}

func (s *Store) where(collection, field string, value any) []*docstore.Snapshot {
	return s.sorted(collection, func(data map[string]any) bool {
		v, ok := data[field]
		return ok && docstore.Equal(v, value)
	})
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(collection, id)
}

func (s *Store) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.where(collection, field, value), nil
}

func (s *Store) All(ctx context.Context, collection string) ([]*docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(collection, nil), nil
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

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.faults[collection]; err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	delete(s.collections[collection], id)
	notify := s.pending(map[string]struct{}{collection: {}})
	s.mu.Unlock()

	notify()
	return nil
}

func (s *Store) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.ArrayUnion(collection, id, field, values...)
	})
}

func (s *Store) Subscribe(ctx context.Context, collection string, fn func([]*docstore.Snapshot)) (func(), error) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[collection] = append(s.subscribers[collection], subscriber{id: id, fn: fn})
	initial := s.sorted(collection, nil)
	s.mu.Unlock()

	fn(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subscribers[collection]
			for i, sub := range subs {
				if sub.id == id {
					s.subscribers[collection] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// pending captures the callbacks to run for the touched collections. It must
// be called with the mutex held; the returned function runs without it.
func (s *Store) pending(touched map[string]struct{}) func() {
	type delivery struct {
		fns  []func([]*docstore.Snapshot)
		snap []*docstore.Snapshot
	}
	var deliveries []delivery
	for collection := range touched {
		subs := s.subscribers[collection]
		if len(subs) == 0 {
			continue
		}
		d := delivery{snap: s.sorted(collection, nil)}
		for _, sub := range subs {
			d.fns = append(d.fns, sub.fn)
		}
		deliveries = append(deliveries, d)
	}
	return func() {
		for _, d := range deliveries {
			for _, fn := range d.fns {
				fn(d.snap)
			}
		}
	}
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := &transaction{store: s}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := tx.commit(); err != nil {
		s.mu.Unlock()
		return err
	}
	notify := s.pending(tx.touched())
	s.mu.Unlock()

	notify()
	return nil
}

func (s *Store) Close() error { return nil }
