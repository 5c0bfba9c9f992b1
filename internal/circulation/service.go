// internal/circulation/service.go
package circulation

import (
	"context"
)

// Service moves documents through a user's slots. Slot numbers are 1-based.
type Service interface {
	GetUser(ctx context.Context, email string) (*User, error)
	ValidateReservation(ctx context.Context, email string, slot int) (*User, error)
	ReturnDocument(ctx context.Context, email string, slot int) (*User, error)
	ActiveLoans(ctx context.Context) ([]Holder, error)
	ActiveReservations(ctx context.Context) ([]Holder, error)
	LoanStatistics(ctx context.Context) (Statistics, error)
	ReservationStatistics(ctx context.Context) (Statistics, error)
	CanBorrow(ctx context.Context, email string) (BorrowCheck, error)
	FindNextAvailableSlot(ctx context.Context, email string) (int, bool, error)
}

// Limits supplies the number of slots every user has.
type Limits interface {
	MaxLoans(ctx context.Context) int
}

// FixedLimits is a constant slot count.
type FixedLimits int

func (f FixedLimits) MaxLoans(context.Context) int { return int(f) }
