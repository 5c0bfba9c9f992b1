// internal/students/implementation.go
package students

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bibliopanel/internal/circulation"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"
)

// recentWindow is how far back a registration counts as recent.
const recentWindow = 30 * 24 * time.Hour

// service implements the Service interface.
type service struct {
	store docstore.Store
	now   func() time.Time
}

// NewService creates a new students service instance.
func NewService(store docstore.Store) Service {
	return &service{store: store, now: time.Now}
}

func decodeStudent(snap *docstore.Snapshot) Student {
	d := snap.Data
	s := Student{
		ID:           snap.ID,
		Email:        docstore.String(d, "email"),
		Name:         docstore.String(d, "name"),
		Matricule:    docstore.String(d, "matricule"),
		Level:        docstore.String(d, "niveau"),
		Tel:          docstore.String(d, "tel"),
		Image:        docstore.String(d, "imageUri"),
		Status:       docstore.String(d, "etat"),
		RegisteredAt: docstore.Time(d, "heure"),
		Department:   docstore.String(d, "department"),
	}
	if s.Email == "" {
		s.Email = snap.ID
	}
	if s.Image == "" {
		s.Image = docstore.String(d, "image")
	}
	if s.Status != StatusBlocked {
		s.Status = StatusActive
	}
	return s
}

func (s *service) all(ctx context.Context) ([]Student, error) {
	logger.StoreCall("list", circulation.UserCollection)
	snaps, err := s.store.All(ctx, circulation.UserCollection)
	if err != nil {
		logger.StoreResult("list", circulation.UserCollection, err)
		return nil, fmt.Errorf("list students: %w", err)
	}
	out := make([]Student, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, decodeStudent(snap))
	}
	return out, nil
}

func byName(a, b Student) int {
	return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func sortFor(option string) func(a, b Student) int {
	switch option {
	case "old":
		return func(a, b Student) int { return a.RegisteredAt.Compare(b.RegisteredAt) }
	case "name":
		return byName
	case "level":
		return func(a, b Student) int {
			return cmp.Or(cmp.Compare(a.Level, b.Level), byName(a, b))
		}
	default:
		return func(a, b Student) int { return b.RegisteredAt.Compare(a.RegisteredAt) }
	}
}

// List filters by status, level and department, then searches name, email
// and matricule, sorts and pages.
func (s *service) List(ctx context.Context, f Filters) (listing.Page[Student], error) {
	all, err := s.all(ctx)
	if err != nil {
		return listing.Page[Student]{}, err
	}
	kept := make([]Student, 0, len(all))
	for _, st := range all {
		if f.Status != "" && f.Status != "all" && st.Status != f.Status {
			continue
		}
		if f.Level != "" && st.Level != f.Level {
			continue
		}
		if f.Department != "" && st.Department != f.Department {
			continue
		}
		kept = append(kept, st)
	}
	q := listing.Query{Search: f.Search, Page: f.Page, Size: f.Size}
	return listing.Apply(kept, q, sortFor(f.SortBy),
		func(st Student) string { return st.Name },
		func(st Student) string { return st.Email },
		func(st Student) string { return st.Matricule },
	), nil
}

func (s *service) Get(ctx context.Context, id string) (*Student, error) {
	snap, err := s.store.Get(ctx, circulation.UserCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	st := decodeStudent(snap)
	return &st, nil
}

func (s *service) setStatus(ctx context.Context, id, status string) (*Student, error) {
	var updated Student
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, circulation.UserCollection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		updated = decodeStudent(snap)
		updated.Status = status
		return tx.Set(circulation.UserCollection, id, map[string]any{"etat": status})
	})
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "student status changed", "id", id, "etat", status)
	return &updated, nil
}

func (s *service) Block(ctx context.Context, id string) (*Student, error) {
	return s.setStatus(ctx, id, StatusBlocked)
}

func (s *service) Unblock(ctx context.Context, id string) (*Student, error) {
	return s.setStatus(ctx, id, StatusActive)
}

// Bulk applies the action to each id independently; one failure does not
// stop the others.
func (s *service) Bulk(ctx context.Context, action BulkAction) (BulkResult, error) {
	var status string
	switch action.Action {
	case "block":
		status = StatusBlocked
	case "unblock":
		status = StatusActive
	default:
		return BulkResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, action.Action)
	}
	res := BulkResult{Updated: []string{}}
	for _, id := range action.StudentIDs {
		if _, err := s.setStatus(ctx, id, status); err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[id] = err.Error()
			continue
		}
		res.Updated = append(res.Updated, id)
	}
	return res, nil
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.all(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(all), ByLevel: map[string]int{}, ByDepartment: map[string]int{}}
	cutoff := s.now().Add(-recentWindow)
	for _, student := range all {
		if student.Blocked() {
			st.Blocked++
		} else {
			st.Active++
		}
		if student.Level != "" {
			st.ByLevel[student.Level]++
		}
		if student.Department != "" {
			st.ByDepartment[student.Department]++
		}
		if student.RegisteredAt.After(cutoff) {
			st.RecentRegistrations++
		}
	}
	return st, nil
}
