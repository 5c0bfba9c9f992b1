// internal/students/domain.go
package students

import (
	"errors"
	"time"
)

// Stored values of a student's account status.
const (
	StatusActive  = "ras"
	StatusBlocked = "bloc"
)

var (
	ErrNotFound      = errors.New("student not found")
	ErrUnknownAction = errors.New("unknown bulk action")
)

// Student is a library user as shown on the students screen.
type Student struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Matricule    string    `json:"matricule"`
	Level        string    `json:"niveau"`
	Tel          string    `json:"tel"`
	Image        string    `json:"image,omitempty"`
	Status       string    `json:"etat"`
	RegisteredAt time.Time `json:"heure"`
	Department   string    `json:"department,omitempty"`
}

// Blocked reports whether the account is suspended.
func (s Student) Blocked() bool { return s.Status == StatusBlocked }

// Filters narrows and orders the student list.
type Filters struct {
	Search     string `json:"search" validate:"max=200"`
	Status     string `json:"status" validate:"omitempty,oneof=all ras bloc"`
	Level      string `json:"level"`
	Department string `json:"department"`
	SortBy     string `json:"sortBy" validate:"omitempty,oneof=recent old name level"`
	Page       int    `json:"page" validate:"gte=0"`
	Size       int    `json:"size" validate:"gte=0,lte=200"`
}

// Stats summarises the student population.
type Stats struct {
	Total               int            `json:"total"`
	Active              int            `json:"active"`
	Blocked             int            `json:"blocked"`
	ByLevel             map[string]int `json:"byLevel"`
	ByDepartment        map[string]int `json:"byDepartment"`
	RecentRegistrations int            `json:"recentRegistrations"`
}

// BulkAction applies block or unblock to several students.
type BulkAction struct {
	StudentIDs []string `json:"studentIds" validate:"required,min=1,dive,notblank"`
	Action     string   `json:"action" validate:"oneof=block unblock"`
}

// BulkResult lists which ids were changed and which failed.
type BulkResult struct {
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed,omitempty"`
}
