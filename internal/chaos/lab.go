package chaos

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/catalog"
	"bibliopanel/internal/circulation"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/docstore/memory"
	"bibliopanel/internal/events"
)

const (
	labSlots    = 3
	labDocument = "Chaos Theory"
	labDocID    = "chaos-theory"
)

// Lab is an isolated library seeded in memory. Every student holds a
// reservation in slot 1, a loan in slot 2 and a free slot 3, all on the
// same document.
type Lab struct {
	Store       *memory.Store
	Circulation circulation.Service
	Catalog     catalog.Service
	Students    []string

	slow *latencyStore
}

func NewLab(students int) *Lab {
	store := memory.New()
	slow := &latencyStore{Store: store}
	l := &Lab{
		Store:       store,
		Circulation: circulation.NewService(slow, circulation.FixedLimits(labSlots), events.Nop{}),
		Catalog:     catalog.NewService(store, events.Nop{}),
		slow:        slow,
	}

	store.Seed(catalog.BooksCollection, labDocID, map[string]any{
		"name":              labDocument,
		"cathegorie":        "Physics",
		"exemplaire":        students,
		"initialExemplaire": 2 * students,
	})
	for i := 0; i < students; i++ {
		email := fmt.Sprintf("student%02d@lab.local", i)
		l.Students = append(l.Students, email)
		store.Seed(circulation.UserCollection, email, l.userDoc(i))
	}
	return l
}

func labRef() circulation.DocumentRef {
	return circulation.DocumentRef{
		Name:       labDocument,
		Category:   "Physics",
		Collection: catalog.BooksCollection,
		Timestamp:  time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
	}
}

func (l *Lab) userDoc(i int) map[string]any {
	u := &circulation.User{Slots: []circulation.Slot{
		{Status: circulation.StatusReserved, Document: labRef()},
		{Status: circulation.StatusBorrowed, Document: labRef()},
		{Status: circulation.StatusFree},
	}}
	doc := circulation.EncodeSlots(u)
	doc["name"] = fmt.Sprintf("Student %02d", i)
	doc["etat"] = "ras"
	return doc
}

// ResetReservation puts slot 1 of email back to reserved, bypassing the engine.
func (l *Lab) ResetReservation(ctx context.Context, email string) error {
	slot := circulation.Slot{Status: circulation.StatusReserved, Document: labRef()}
	return l.Store.Set(ctx, circulation.UserCollection, email, circulation.EncodeSlot(1, slot))
}

// SetLatency delays every read and transaction the circulation engine issues.
func (l *Lab) SetLatency(d time.Duration) { l.slow.delay.Store(int64(d)) }

// StockViolations counts documents whose available copies left [0, initialExemplaire].
func (l *Lab) StockViolations(ctx context.Context) (float64, error) {
	snaps, err := l.Store.All(ctx, catalog.BooksCollection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range snaps {
		ex, _ := docstore.Int(s.Data, "exemplaire")
		initial, ok := docstore.Int(s.Data, "initialExemplaire")
		if ex < 0 || (ok && ex > initial) {
			n++
		}
	}
	return float64(n), nil
}

// Stock returns the available copies of the lab document.
func (l *Lab) Stock(ctx context.Context) (int, error) {
	snap, err := l.Store.Get(ctx, catalog.BooksCollection, labDocID)
	if err != nil {
		return 0, err
	}
	n, _ := docstore.Int(snap.Data, "exemplaire")
	return n, nil
}

// Borrowed counts borrowed slots across all students.
func (l *Lab) Borrowed(ctx context.Context) (int, error) {
	snaps, err := l.Store.All(ctx, circulation.UserCollection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range snaps {
		u := circulation.DecodeUser(s.ID, s.Data, labSlots)
		for _, slot := range u.Slots {
			if slot.Status == circulation.StatusBorrowed {
				n++
			}
		}
	}
	return n, nil
}

// UnarchivedReturns counts loans that were closed without an archive entry,
// assuming only returns ran since the lab was seeded.
func (l *Lab) UnarchivedReturns(ctx context.Context) (float64, error) {
	borrowed, err := l.Borrowed(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := archive.NewLog(l.Store).List(ctx)
	if err != nil {
		return 0, err
	}
	return float64(len(l.Students) - borrowed - len(entries)), nil
}

type latencyStore struct {
	docstore.Store
	delay atomic.Int64
}

func (s *latencyStore) wait(ctx context.Context) error {
	d := time.Duration(s.delay.Load())
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *latencyStore) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *latencyStore) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.Store.Where(ctx, collection, field, value)
}

func (s *latencyStore) All(ctx context.Context, collection string) ([]*docstore.Snapshot, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.Store.All(ctx, collection)
}

func (s *latencyStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.Store.RunTransaction(ctx, fn)
}
