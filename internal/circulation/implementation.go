// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/events"
	"bibliopanel/internal/logger"
	"bibliopanel/internal/orgconfig"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// service implements the Service interface.
type service struct {
	store       docstore.Store
	limits      Limits
	publisher   events.Publisher
	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithClock replaces time.Now for stamping slots and archive entries.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new circulation service instance.
func NewService(store docstore.Store, limits Limits, publisher events.Publisher, opts ...Option) Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	counter, err := otel.Meter("bibliopanel/circulation").Int64Counter("circulation.transitions",
		metric.WithDescription("Slot transitions by operation and outcome"))
	if err != nil {
		logger.Warn("transition counter unavailable", "error", err)
	}
	s := &service{
		store:       store,
		limits:      limits,
		publisher:   publisher,
		tracer:      otel.Tracer("bibliopanel/circulation"),
		transitions: counter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func loadUser(ctx context.Context, r docstore.Reader, email string, n int) (*User, error) {
	snap, err := r.Get(ctx, UserCollection, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return DecodeUser(email, snap.Data, n), nil
}

// findDocument resolves a slot's reference by the name field, then by id.
func findDocument(ctx context.Context, r docstore.Reader, ref DocumentRef) (*docstore.Snapshot, error) {
	collection := ref.CollectionOrDefault()
	matches, err := r.Where(ctx, collection, "name", ref.Name)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	snap, err := r.Get(ctx, collection, ref.Name)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q in %s", ErrDocumentNotFound, ref.Name, collection)
	}
	return snap, err
}

// checkSlot enforces the required status. A free slot with nothing in it
// reports both ErrInvalidState and ErrSlotEmpty.
func checkSlot(u *User, i int, want Status) (Slot, error) {
	sl, err := GetSlot(u, i)
	if err != nil {
		return Slot{}, err
	}
	if sl.Status != want {
		if sl.Document.IsEmpty() {
			return Slot{}, fmt.Errorf("slot %d is %s: %w: %w", i, sl.Status, ErrInvalidState, ErrSlotEmpty)
		}
		return Slot{}, fmt.Errorf("slot %d is %s, want %s: %w", i, sl.Status, want, ErrInvalidState)
	}
	if sl.Document.IsEmpty() {
		return Slot{}, fmt.Errorf("slot %d: %w", i, ErrSlotEmpty)
	}
	return sl, nil
}

func isContractError(err error) bool {
	for _, target := range []error{ErrSlotEmpty, ErrInvalidState, ErrSlotOutOfRange, ErrUserNotFound, ErrDocumentNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *service) finish(ctx context.Context, span trace.Span, op string, err error) error {
	outcome := "ok"
	if err != nil {
		if !isContractError(err) {
			err = &RemoteWriteError{Op: op, Err: err}
		}
		outcome = "rejected"
		var rwe *RemoteWriteError
		if errors.As(err, &rwe) {
			outcome = "failed"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.transitions != nil {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	return err
}

func (s *service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "event publish failed", "type", ev.Type, "key", ev.Key, "error", err)
	}
}

func (s *service) GetUser(ctx context.Context, email string) (*User, error) {
	return loadUser(ctx, s.store, email, s.limits.MaxLoans(ctx))
}

// ValidateReservation turns a reservation into a loan. In one transaction
// it takes a copy off the referenced document's stock, never going below
// zero, and marks the slot borrowed with the current time. A slot that is
// already borrowed is rejected, so concurrent validations take stock once.
func (s *service) ValidateReservation(ctx context.Context, email string, slot int) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.validate", trace.WithAttributes(
		attribute.String("user.email", email),
		attribute.Int("slot", slot),
	))
	defer span.End()

	n := s.limits.MaxLoans(ctx)
	now := stamp(s.now())
	var (
		updated *User
		ev      ReservationValidatedEvent
	)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		u, err := loadUser(ctx, tx, email, n)
		if err != nil {
			return err
		}
		sl, err := checkSlot(u, slot, StatusReserved)
		if err != nil {
			return err
		}
		doc, err := findDocument(ctx, tx, sl.Document)
		if err != nil {
			return err
		}

		current, _ := docstore.Int(doc.Data, "exemplaire")
		remaining := max(0, current-1)
		if err := tx.Set(doc.Collection, doc.ID, map[string]any{"exemplaire": remaining}); err != nil {
			return err
		}

		sl.Status = StatusBorrowed
		sl.Document.Timestamp = now
		if err := tx.Set(UserCollection, email, EncodeSlot(slot, sl)); err != nil {
			return err
		}

		u.Slots[slot-1] = sl
		updated = u
		ev = ReservationValidatedEvent{
			Email:        email,
			Slot:         slot,
			DocumentID:   doc.ID,
			DocumentName: sl.Document.Name,
			Collection:   doc.Collection,
			Exemplaire:   remaining,
			ValidatedAt:  now,
		}
		return nil
	})
	if err = s.finish(ctx, span, "validate", err); err != nil {
		logger.WarnContext(ctx, "reservation validation failed", "email", email, "slot", slot, "error", err)
		return nil, err
	}

	logger.InfoContext(ctx, "reservation validated", "email", email, "slot", slot,
		"document", ev.DocumentName, "exemplaire", ev.Exemplaire)
	s.publish(ctx, events.New(events.TypeReservationValidated, email, ev))
	return updated, nil
}

// ReturnDocument closes a loan. In one transaction it puts a copy back on
// the document's stock (capped at initialExemplaire when the document has
// one), appends the return to the archive and frees the slot. If any write
// fails nothing is applied and the slot stays borrowed.
func (s *service) ReturnDocument(ctx context.Context, email string, slot int) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("user.email", email),
		attribute.Int("slot", slot),
	))
	defer span.End()

	n := s.limits.MaxLoans(ctx)
	now := stamp(s.now())
	var (
		updated *User
		ev      DocumentReturnedEvent
	)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		u, err := loadUser(ctx, tx, email, n)
		if err != nil {
			return err
		}
		sl, err := checkSlot(u, slot, StatusBorrowed)
		if err != nil {
			return err
		}
		doc, err := findDocument(ctx, tx, sl.Document)
		if err != nil {
			return err
		}

		current, _ := docstore.Int(doc.Data, "exemplaire")
		restored := max(0, current) + 1
		if initial, ok := docstore.Int(doc.Data, "initialExemplaire"); ok && restored > initial {
			logger.WarnContext(ctx, "return would exceed owned copies, capping stock",
				"document", doc.ID, "exemplaire", current, "initialExemplaire", initial)
			restored = max(0, initial)
		}
		if err := tx.Set(doc.Collection, doc.ID, map[string]any{"exemplaire": restored}); err != nil {
			return err
		}
		if err := archive.Append(tx, archive.NewEntry(u.Name, sl.Document.Name, now)); err != nil {
			return err
		}
		if err := tx.Set(UserCollection, email, EncodeSlot(slot, emptySlot())); err != nil {
			return err
		}

		u.Slots[slot-1] = emptySlot()
		updated = u
		ev = DocumentReturnedEvent{
			Email:        email,
			Slot:         slot,
			DocumentID:   doc.ID,
			DocumentName: sl.Document.Name,
			Collection:   doc.Collection,
			Exemplaire:   restored,
			ReturnedAt:   now,
		}
		return nil
	})
	if err = s.finish(ctx, span, "return", err); err != nil {
		logger.WarnContext(ctx, "document return failed", "email", email, "slot", slot, "error", err)
		return nil, err
	}

	logger.InfoContext(ctx, "document returned", "email", email, "slot", slot,
		"document", ev.DocumentName, "exemplaire", ev.Exemplaire)
	s.publish(ctx, events.New(events.TypeDocumentReturned, email, ev))
	return updated, nil
}

func (s *service) holders(ctx context.Context, st Status) ([]Holder, error) {
	n := s.limits.MaxLoans(ctx)
	logger.StoreCall("list", UserCollection)
	snaps, err := s.store.All(ctx, UserCollection)
	if err != nil {
		logger.StoreResult("list", UserCollection, err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := []Holder{}
	for _, snap := range snaps {
		u := DecodeUser(snap.ID, snap.Data, n)
		if countStatus(u, st) > 0 {
			out = append(out, holderOf(u, st))
		}
	}
	return out, nil
}

// ActiveLoans lists the users holding at least one borrowed slot.
func (s *service) ActiveLoans(ctx context.Context) ([]Holder, error) {
	return s.holders(ctx, StatusBorrowed)
}

// ActiveReservations lists the users holding at least one reserved slot.
func (s *service) ActiveReservations(ctx context.Context) ([]Holder, error) {
	return s.holders(ctx, StatusReserved)
}

func (s *service) statistics(ctx context.Context, st Status) (Statistics, error) {
	holders, err := s.holders(ctx, st)
	if err != nil {
		return Statistics{MaxAllowed: orgconfig.DefaultMaxLoans}, err
	}
	stats := Statistics{Users: len(holders), MaxAllowed: s.limits.MaxLoans(ctx)}
	for _, h := range holders {
		stats.Total += h.Total
	}
	if stats.Users > 0 {
		stats.AveragePerUser = float64(stats.Total) / float64(stats.Users)
	}
	return stats, nil
}

func (s *service) LoanStatistics(ctx context.Context) (Statistics, error) {
	return s.statistics(ctx, StatusBorrowed)
}

func (s *service) ReservationStatistics(ctx context.Context) (Statistics, error) {
	return s.statistics(ctx, StatusReserved)
}

// CanBorrow reports whether the user has a slot left and is not blocked.
func (s *service) CanBorrow(ctx context.Context, email string) (BorrowCheck, error) {
	n := s.limits.MaxLoans(ctx)
	u, err := loadUser(ctx, s.store, email, n)
	if errors.Is(err, ErrUserNotFound) {
		return BorrowCheck{Reason: "user not found", Limit: n}, nil
	}
	if err != nil {
		return BorrowCheck{Reason: "could not read user", Limit: n}, err
	}

	check := BorrowCheck{Active: CountActive(u), Limit: n}
	switch {
	case u.Blocked:
		check.Reason = "account is blocked"
	case check.Active >= n:
		check.Reason = fmt.Sprintf("limit of %d simultaneous loans reached (%d/%d)", n, check.Active, n)
	default:
		check.Allowed = true
	}
	return check, nil
}

func (s *service) FindNextAvailableSlot(ctx context.Context, email string) (int, bool, error) {
	u, err := s.GetUser(ctx, email)
	if err != nil {
		return 0, false, err
	}
	i, ok := FindFreeSlot(u)
	return i, ok, nil
}
