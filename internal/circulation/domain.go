// internal/circulation/domain.go
package circulation

import (
	"errors"
	"fmt"
	"time"
)

// UserCollection holds one record per library user, keyed by email.
const UserCollection = "BiblioUser"

// DefaultDocumentCollection is used when a slot does not name its collection.
const DefaultDocumentCollection = "BiblioBooks"

// Status is the state of one borrowing slot.
type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusBorrowed Status = "borrowed"
)

var (
	// ErrSlotEmpty means the slot holds no document for the requested transition.
	ErrSlotEmpty = errors.New("slot holds no document")

	// ErrInvalidState means the slot's status does not allow the transition.
	ErrInvalidState = errors.New("slot is in the wrong state")

	// ErrSlotOutOfRange means the slot number is outside 1..N.
	ErrSlotOutOfRange = errors.New("slot number out of range")

	ErrUserNotFound = errors.New("user not found")

	// ErrDocumentNotFound means the slot references a document that no longer exists.
	ErrDocumentNotFound = errors.New("referenced document not found")
)

// RemoteWriteError reports that the store rejected the transition's writes.
// Nothing was applied when it is returned.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s: store write failed: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// DocumentRef is the copy of a document's details kept in a slot.
type DocumentRef struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"imageUrl"`
	Exemplaires int       `json:"exemplaires"`
	Collection  string    `json:"collection"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsEmpty reports whether the reference names no document.
func (d DocumentRef) IsEmpty() bool { return d.Name == "" }

// CollectionOrDefault returns the collection the document is stored in.
func (d DocumentRef) CollectionOrDefault() string {
	if d.Collection == "" {
		return DefaultDocumentCollection
	}
	return d.Collection
}

type Slot struct {
	Status   Status      `json:"status"`
	Document DocumentRef `json:"document"`
}

// User is a borrower with exactly N slots, N being the organisation's limit.
type User struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Level     string `json:"level"`
	Matricule string `json:"matricule"`
	Image     string `json:"image"`
	Blocked   bool   `json:"blocked"`
	Slots     []Slot `json:"slots"`
}

// GetSlot returns slot i, counted from 1.
func GetSlot(u *User, i int) (Slot, error) {
	if i < 1 || i > len(u.Slots) {
		return Slot{}, fmt.Errorf("%w: %d not in 1..%d", ErrSlotOutOfRange, i, len(u.Slots))
	}
	return u.Slots[i-1], nil
}

// FindFreeSlot returns the lowest free slot number.
func FindFreeSlot(u *User) (int, bool) {
	for i, s := range u.Slots {
		if s.Status == StatusFree {
			return i + 1, true
		}
	}
	return 0, false
}

// CountActive counts reserved and borrowed slots together.
func CountActive(u *User) int {
	n := 0
	for _, s := range u.Slots {
		if s.Status != StatusFree {
			n++
		}
	}
	return n
}

func countStatus(u *User, st Status) int {
	n := 0
	for _, s := range u.Slots {
		if s.Status == st {
			n++
		}
	}
	return n
}

// NumberedSlot is a slot with its 1-based number, as listed to librarians.
type NumberedSlot struct {
	Number int `json:"slotNumber"`
	Slot
}

// Holder is a user together with the slots in one status.
type Holder struct {
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Level     string         `json:"level"`
	Matricule string         `json:"matricule"`
	Image     string         `json:"image"`
	Slots     []NumberedSlot `json:"slots"`
	Total     int            `json:"total"`
}

func holderOf(u *User, st Status) Holder {
	h := Holder{Email: u.Email, Name: u.Name, Level: u.Level, Matricule: u.Matricule, Image: u.Image}
	for i, s := range u.Slots {
		if s.Status == st && !s.Document.IsEmpty() {
			h.Slots = append(h.Slots, NumberedSlot{Number: i + 1, Slot: s})
		}
	}
	h.Total = len(h.Slots)
	return h
}

// Statistics summarises loans or reservations across all users.
type Statistics struct {
	Total          int     `json:"total"`
	Users          int     `json:"users"`
	AveragePerUser float64 `json:"averagePerUser"`
	MaxAllowed     int     `json:"maxAllowed"`
}

// BorrowCheck is the answer to whether a user may take another document.
type BorrowCheck struct {
	Allowed bool   `json:"canBorrow"`
	Reason  string `json:"reason,omitempty"`
	Active  int    `json:"active"`
	Limit   int    `json:"limit"`
}

// ReservationValidatedEvent is published after a reservation becomes a loan.
type ReservationValidatedEvent struct {
	Email        string    `json:"email"`
	Slot         int       `json:"slot"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Collection   string    `json:"collection"`
	Exemplaire   int       `json:"exemplaire"`
	ValidatedAt  time.Time `json:"validated_at"`
}

// DocumentReturnedEvent is published after a loan is closed.
type DocumentReturnedEvent struct {
	Email        string    `json:"email"`
	Slot         int       `json:"slot"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Collection   string    `json:"collection"`
	Exemplaire   int       `json:"exemplaire"`
	ReturnedAt   time.Time `json:"returned_at"`
}
