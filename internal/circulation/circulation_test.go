package circulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/docstore/memory"
	"bibliopanel/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	alice   = "alice@enspy.cm"
	cover   = "https://res.cloudinary.com/demo/calculus.png"
	seededT = "2024-03-01T09:00:00.000Z"
)

var fixedNow = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

func tuple(name string, copies int) []any {
	return []any{name, "Math", cover, copies, DefaultDocumentCollection, seededT}
}

func emptyTuple() []any { return []any{"", "", "", 0, "", ""} }

type fixture struct {
	store    *memory.Store
	recorder *events.Recorder
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &events.Recorder{}
	svc := NewService(store, FixedLimits(3), rec, WithClock(func() time.Time { return fixedNow }))

	store.Seed(DefaultDocumentCollection, "calculus", map[string]any{
		"name": "Calculus", "cathegorie": "Math", "exemplaire": 4, "initialExemplaire": 5,
	})
	store.Seed(UserCollection, alice, map[string]any{
		"name": "Alice Ngo", "niveau": "L2", "matricule": "21P001", "etat": "ras",
		"etat1": "reserv", "tabEtat1": tuple("Calculus", 4),
		"etat2": "emprunt", "tabEtat2": tuple("Calculus", 4),
		"etat3": "ras", "tabEtat3": emptyTuple(),
	})
	return &fixture{store: store, recorder: rec, svc: svc}
}

func (f *fixture) copies(t *testing.T) int {
	t.Helper()
	snap, err := f.store.Get(context.Background(), DefaultDocumentCollection, "calculus")
	require.NoError(t, err)
	n, ok := docstore.Int(snap.Data, "exemplaire")
	require.True(t, ok)
	return n
}

func (f *fixture) archived(t *testing.T) []archive.Entry {
	t.Helper()
	entries, err := archive.NewLog(f.store).List(context.Background())
	require.NoError(t, err)
	return entries
}

func (f *fixture) user(t *testing.T) *User {
	t.Helper()
	u, err := f.svc.GetUser(context.Background(), alice)
	require.NoError(t, err)
	return u
}

func TestDecodeUserReadsLegacyFields(t *testing.T) {
	u := DecodeUser(alice, map[string]any{
		"name": "Alice", "image": "a.png", "etat": "bloc",
		"etat1": "emprunt", "tabEtat1": tuple("Calculus", 4),
	}, 3)

	require.Len(t, u.Slots, 3)
	assert.Equal(t, "a.png", u.Image)
	assert.True(t, u.Blocked)
	assert.Equal(t, StatusBorrowed, u.Slots[0].Status)
	assert.Equal(t, "Calculus", u.Slots[0].Document.Name)
	assert.Equal(t, 4, u.Slots[0].Document.Exemplaires)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), u.Slots[0].Document.Timestamp)
	assert.Equal(t, StatusFree, u.Slots[1].Status)
	assert.True(t, u.Slots[2].Document.IsEmpty())
}

func TestEncodeSlotRoundTripsThroughDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := rapid.SampledFrom([]Status{StatusFree, StatusReserved, StatusBorrowed}).Draw(t, "status")
		ref := DocumentRef{
			Name:        rapid.String().Draw(t, "name"),
			Category:    rapid.String().Draw(t, "category"),
			Exemplaires: rapid.IntRange(0, 1000).Draw(t, "copies"),
			Collection:  rapid.SampledFrom([]string{"BiblioBooks", "BiblioThesis"}).Draw(t, "collection"),
			Timestamp:   time.UnixMilli(rapid.Int64Range(0, 4102444800000).Draw(t, "ms")).UTC(),
		}
		i := rapid.IntRange(1, 5).Draw(t, "slot")

		u := DecodeUser("x", EncodeSlot(i, Slot{Status: st, Document: ref}), 5)
		got := u.Slots[i-1]
		if !got.Document.Timestamp.Equal(ref.Timestamp) {
			t.Fatalf("timestamp %v, want %v", got.Document.Timestamp, ref.Timestamp)
		}
		got.Document.Timestamp = ref.Timestamp
		if got.Status != st || got.Document != ref {
			t.Fatalf("round trip mismatch: got %+v, want %v %+v", got, st, ref)
		}
	})
}

func TestSlotAccessors(t *testing.T) {
	u := &User{Slots: []Slot{{Status: StatusBorrowed}, {Status: StatusFree}, {Status: StatusReserved}}}

	_, err := GetSlot(u, 0)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
	_, err = GetSlot(u, 4)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	i, ok := FindFreeSlot(u)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, 2, CountActive(u))

	u.Slots[1].Status = StatusReserved
	_, ok = FindFreeSlot(u)
	assert.False(t, ok)
}

func TestValidateReservation(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.ValidateReservation(context.Background(), alice, 1)
	require.NoError(t, err)

	want := DocumentRef{
		Name: "Calculus", Category: "Math", ImageURL: cover, Exemplaires: 4,
		Collection: DefaultDocumentCollection, Timestamp: fixedNow,
	}
	assert.Equal(t, Slot{Status: StatusBorrowed, Document: want}, u.Slots[0])
	assert.Equal(t, 3, f.copies(t))
	assert.Equal(t, u.Slots[0], f.user(t).Slots[0])

	published := f.recorder.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeReservationValidated, published[0].Type)
	assert.Equal(t, alice, published[0].Key)
}

func TestValidateReservationClampsAtZero(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(DefaultDocumentCollection, "calculus", map[string]any{"name": "Calculus", "exemplaire": 0})

	_, err := f.svc.ValidateReservation(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, f.copies(t))
}

func TestValidateReservationRejectsWrongState(t *testing.T) {
	tests := []struct {
		name string
		slot int
		want []error
	}{
		{"borrowed slot", 2, []error{ErrInvalidState}},
		{"free empty slot", 3, []error{ErrInvalidState, ErrSlotEmpty}},
		{"out of range", 4, []error{ErrSlotOutOfRange}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.ValidateReservation(context.Background(), alice, tt.slot)
			for _, target := range tt.want {
				assert.ErrorIs(t, err, target)
			}
			assert.Equal(t, 4, f.copies(t))
			assert.Empty(t, f.recorder.Events())
		})
	}
}

func TestValidateReservationEmptyReservedSlot(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(UserCollection, "bob@enspy.cm", map[string]any{"name": "Bob", "etat1": "reserv", "tabEtat1": emptyTuple()})

	_, err := f.svc.ValidateReservation(context.Background(), "bob@enspy.cm", 1)
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.NotErrorIs(t, err, ErrInvalidState)
}

func TestValidateReservationMissingDocument(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(UserCollection, "bob@enspy.cm", map[string]any{"name": "Bob", "etat1": "reserv", "tabEtat1": tuple("Topology", 2)})

	_, err := f.svc.ValidateReservation(context.Background(), "bob@enspy.cm", 1)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestValidateReservationUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ValidateReservation(context.Background(), "nobody@enspy.cm", 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateReservationFindsDocumentByID(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(DefaultDocumentCollection, "Algebra", map[string]any{"exemplaire": 2})
	f.store.Seed(UserCollection, "bob@enspy.cm", map[string]any{"name": "Bob", "etat1": "reserv", "tabEtat1": tuple("Algebra", 2)})

	_, err := f.svc.ValidateReservation(context.Background(), "bob@enspy.cm", 1)
	require.NoError(t, err)

	snap, err := f.store.Get(context.Background(), DefaultDocumentCollection, "Algebra")
	require.NoError(t, err)
	n, _ := docstore.Int(snap.Data, "exemplaire")
	assert.Equal(t, 1, n)
}

func TestConcurrentValidationsTakeStockOnce(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ValidateReservation(context.Background(), alice, 1)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, f.copies(t))
}

func TestReturnDocument(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.ReturnDocument(context.Background(), alice, 2)
	require.NoError(t, err)

	assert.Equal(t, StatusFree, u.Slots[1].Status)
	assert.True(t, u.Slots[1].Document.IsEmpty())
	assert.Equal(t, 5, f.copies(t))

	entries := f.archived(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice Ngo", entries[0].StudentName)
	assert.Equal(t, "Calculus", entries[0].DocumentName)
	assert.Equal(t, fixedNow, entries[0].Timestamp)

	snap, err := f.store.Get(context.Background(), UserCollection, alice)
	require.NoError(t, err)
	assert.Equal(t, "ras", snap.Data["etat2"])
	assert.Equal(t, []any{"", "", "", 0, "", ""}, snap.Data["tabEtat2"])

	published := f.recorder.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeDocumentReturned, published[0].Type)
}

func TestReturnDocumentTwiceFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReturnDocument(context.Background(), alice, 2)
	require.NoError(t, err)

	_, err = f.svc.ReturnDocument(context.Background(), alice, 2)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.Equal(t, 5, f.copies(t))
	assert.Len(t, f.archived(t), 1)
}

func TestReturnDocumentCapsAtInitialStock(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(DefaultDocumentCollection, "calculus", map[string]any{
		"name": "Calculus", "exemplaire": 5, "initialExemplaire": 5,
	})

	_, err := f.svc.ReturnDocument(context.Background(), alice, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, f.copies(t))
}

func TestReturnDocumentArchiveFailureAppliesNothing(t *testing.T) {
	f := newFixture(t)
	unavailable := errors.New("archive unavailable")
	f.store.FailWrites(archive.Collection, unavailable)

	_, err := f.svc.ReturnDocument(context.Background(), alice, 2)

	var rwe *RemoteWriteError
	require.ErrorAs(t, err, &rwe)
	assert.Equal(t, "return", rwe.Op)
	assert.ErrorIs(t, err, unavailable)

	assert.Equal(t, 4, f.copies(t))
	assert.Equal(t, StatusBorrowed, f.user(t).Slots[1].Status)
	assert.Empty(t, f.archived(t))
	assert.Empty(t, f.recorder.Events())

	f.store.FailWrites(archive.Collection, nil)
	_, err = f.svc.ReturnDocument(context.Background(), alice, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, f.copies(t))
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.recorder.Err = errors.New("broker down")

	_, err := f.svc.ValidateReservation(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, f.copies(t))
}

func TestActiveLoansAndReservations(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(UserCollection, "bob@enspy.cm", map[string]any{
		"name": "Bob", "etat1": "emprunt", "tabEtat1": tuple("Algebra", 1),
		"etat3": "emprunt", "tabEtat3": tuple("Physics", 1),
	})
	f.store.Seed(UserCollection, "carol@enspy.cm", map[string]any{"name": "Carol"})
	ctx := context.Background()

	loans, err := f.svc.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, alice, loans[0].Email)
	assert.Equal(t, 1, loans[0].Total)
	assert.Equal(t, 2, loans[0].Slots[0].Number)
	assert.Equal(t, 2, loans[1].Total)
	assert.Equal(t, []int{1, 3}, []int{loans[1].Slots[0].Number, loans[1].Slots[1].Number})

	reservations, err := f.svc.ActiveReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, 1, reservations[0].Slots[0].Number)

	stats, err := f.svc.LoanStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 3, Users: 2, AveragePerUser: 1.5, MaxAllowed: 3}, stats)

	stats, err = f.svc.ReservationStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 1, Users: 1, AveragePerUser: 1, MaxAllowed: 3}, stats)
}

func TestCanBorrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	check, err := f.svc.CanBorrow(ctx, alice)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 2, check.Active)

	f.store.Seed(UserCollection, "full@enspy.cm", map[string]any{
		"etat1": "emprunt", "etat2": "reserv", "etat3": "emprunt",
	})
	check, err = f.svc.CanBorrow(ctx, "full@enspy.cm")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "3/3")

	f.store.Seed(UserCollection, "blocked@enspy.cm", map[string]any{"etat": "bloc"})
	check, err = f.svc.CanBorrow(ctx, "blocked@enspy.cm")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "account is blocked", check.Reason)

	check, err = f.svc.CanBorrow(ctx, "nobody@enspy.cm")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "user not found", check.Reason)
}

func TestFindNextAvailableSlot(t *testing.T) {
	f := newFixture(t)

	slot, ok, err := f.svc.FindNextAvailableSlot(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, slot)
}

// Property: any sequence of validate/return calls keeps stock within
// 0..initialExemplaire and appends exactly one archive entry per successful return.
func TestTransitionsKeepStockBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := memory.New()
		svc := NewService(store, FixedLimits(3), nil)
		initial := rapid.IntRange(0, 4).Draw(rt, "initial")
		store.Seed(DefaultDocumentCollection, "calculus", map[string]any{
			"name": "Calculus", "exemplaire": initial, "initialExemplaire": initial,
		})
		doc := map[string]any{"name": "U"}
		for i := 1; i <= 3; i++ {
			word := rapid.SampledFrom([]string{"ras", "reserv", "emprunt"}).Draw(rt, "status")
			doc[statusField(i)] = word
			doc[tupleField(i)] = tuple("Calculus", initial)
		}
		store.Seed(UserCollection, alice, doc)

		returns := 0
		ops := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 12).Draw(rt, "ops")
		for _, op := range ops {
			slot := op%3 + 1
			var err error
			if op < 3 {
				_, err = svc.ValidateReservation(context.Background(), alice, slot)
			} else {
				_, err = svc.ReturnDocument(context.Background(), alice, slot)
				if err == nil {
					returns++
				}
			}
			var rwe *RemoteWriteError
			if errors.As(err, &rwe) {
				rt.Fatalf("unexpected store failure: %v", err)
			}

			snap, _ := store.Get(context.Background(), DefaultDocumentCollection, "calculus")
			n, _ := docstore.Int(snap.Data, "exemplaire")
			if n < 0 || n > initial {
				rt.Fatalf("stock %d outside 0..%d", n, initial)
			}
		}

		entries, err := archive.NewLog(store).List(context.Background())
		if err != nil {
			rt.Fatal(err)
		}
		if len(entries) > returns {
			rt.Fatalf("%d archive entries for %d returns", len(entries), returns)
		}
	})
}
