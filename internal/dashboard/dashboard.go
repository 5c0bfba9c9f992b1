// Package dashboard aggregates the counters shown on the librarian home
// screen and the public landing page.
package dashboard

import (
	"cmp"
	"context"
	"fmt"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/catalog"
	"bibliopanel/internal/circulation"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"
)

const (
	// lowStockPercent is the availability at or below which a book is flagged.
	lowStockPercent = 20.0
	lowStockLimit   = 5
	recentReturns   = 5
	topBorrowed     = 5
)

type LowStockBook struct {
	Name       string  `json:"name"`
	Available  int     `json:"available"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type BookStats struct {
	TotalBooks           int            `json:"totalBooks"`
	BooksByCategory      map[string]int `json:"booksByCathegorie"`
	TotalBookExemplaires int            `json:"totalBookExemplaires"`
	AvailableExemplaires int            `json:"availableExemplaires"`
	LowStockBooks        []LowStockBook `json:"lowStockBooks"`
}

type ThesisStats struct {
	TotalTheses        int            `json:"totalTheses"`
	ThesesByDepartment map[string]int `json:"thesesByDepartment"`
}

type UserStats struct {
	TotalStudents            int            `json:"totalStudents"`
	SuspendedStudents        int            `json:"suspendedStudents"`
	TotalReservations        int            `json:"totalReservations"`
	BorrowedDocuments        int            `json:"borrowedDocuments"`
	UsersWithLoans           int            `json:"totalEmprunts"`
	LoansByLevel             map[string]int `json:"empruntsByDepartment"`
	ReservationToBorrowRatio float64        `json:"reservationToBorrowRatio"`
}

type TopBorrowedBook struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type ArchiveStats struct {
	ReturnedDocuments     int             `json:"returnedDocuments"`
	RecentlyReturnedBooks []archive.Entry `json:"recentlyReturnedBooks"`
}

// Overview is everything the home screen shows.
type Overview struct {
	BookStats
	ThesisStats
	UserStats
	ArchiveStats
	TopBorrowedBooks []TopBorrowedBook `json:"topBorrowedBooks"`
}

// Landing holds the public counters. Errors yield zeros.
type Landing struct {
	TotalBooks      int `json:"totalBooks"`
	ActiveUsers     int `json:"activeUsers"`
	DepartmentCount int `json:"departmentCount"`
}

type Service struct {
	store   docstore.Store
	limits  circulation.Limits
	archive *archive.Log
}

func NewService(store docstore.Store, limits circulation.Limits) *Service {
	return &Service{store: store, limits: limits, archive: archive.NewLog(store)}
}

func (s *Service) Books(ctx context.Context) (BookStats, error) {
	snaps, err := s.store.All(ctx, catalog.BooksCollection)
	if err != nil {
		return BookStats{}, fmt.Errorf("book stats: %w", err)
	}
	return bookStats(snaps), nil
}

func bookStats(snaps []*docstore.Snapshot) BookStats {
	st := BookStats{TotalBooks: len(snaps), BooksByCategory: map[string]int{}, LowStockBooks: []LowStockBook{}}
	var low []LowStockBook
	for _, snap := range snaps {
		if c := docstore.String(snap.Data, "cathegorie"); c != "" {
			st.BooksByCategory[c]++
		}
		initial, hasInitial := docstore.Int(snap.Data, "initialExemplaire")
		available, hasAvailable := docstore.Int(snap.Data, "exemplaire")
		st.TotalBookExemplaires += max(initial, 0)
		st.AvailableExemplaires += max(available, 0)
		if hasInitial && hasAvailable && initial > 0 {
			pct := float64(available) / float64(initial) * 100
			if pct <= lowStockPercent {
				name := docstore.String(snap.Data, "name")
				if name == "" {
					name = "Sans titre"
				}
				low = append(low, LowStockBook{Name: name, Available: available, Total: initial, Percentage: pct})
			}
		}
	}
	low = listing.SortBy(low, func(a, b LowStockBook) int { return cmp.Compare(a.Percentage, b.Percentage) })
	st.LowStockBooks = append(st.LowStockBooks, low[:min(len(low), lowStockLimit)]...)
	return st
}

func (s *Service) Theses(ctx context.Context) (ThesisStats, error) {
	snaps, err := s.store.All(ctx, catalog.ThesisCollection)
	if err != nil {
		return ThesisStats{}, fmt.Errorf("thesis stats: %w", err)
	}
	st := ThesisStats{TotalTheses: len(snaps), ThesesByDepartment: map[string]int{}}
	for _, snap := range snaps {
		dep := docstore.String(snap.Data, "département")
		if dep == "" {
			dep = docstore.String(snap.Data, "cathegorie")
		}
		if dep != "" {
			st.ThesesByDepartment[dep]++
		}
	}
	return st, nil
}

func (s *Service) users(ctx context.Context) ([]*circulation.User, error) {
	snaps, err := s.store.All(ctx, circulation.UserCollection)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	n := s.limits.MaxLoans(ctx)
	out := make([]*circulation.User, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, circulation.DecodeUser(snap.ID, snap.Data, n))
	}
	return out, nil
}

func userStats(users []*circulation.User) UserStats {
	st := UserStats{TotalStudents: len(users), LoansByLevel: map[string]int{}}
	for _, u := range users {
		if u.Blocked {
			st.SuspendedStudents++
		}
		borrowed := 0
		for _, sl := range u.Slots {
			switch sl.Status {
			case circulation.StatusReserved:
				st.TotalReservations++
			case circulation.StatusBorrowed:
				borrowed++
			}
		}
		st.BorrowedDocuments += borrowed
		if borrowed > 0 {
			st.UsersWithLoans++
			if u.Level != "" {
				st.LoansByLevel[u.Level]++
			}
		}
	}
	if st.TotalReservations > 0 {
		st.ReservationToBorrowRatio = float64(st.BorrowedDocuments) / float64(st.BorrowedDocuments+st.TotalReservations) * 100
	}
	return st
}

func (s *Service) Users(ctx context.Context) (UserStats, error) {
	users, err := s.users(ctx)
	if err != nil {
		return UserStats{}, err
	}
	return userStats(users), nil
}

// TopBorrowed counts how often each title occupies a slot, reserved or borrowed.
func (s *Service) TopBorrowed(ctx context.Context, n int) ([]TopBorrowedBook, error) {
	users, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, u := range users {
		for _, sl := range u.Slots {
			if !sl.Document.IsEmpty() {
				counts[sl.Document.Name]++
			}
		}
	}
	out := make([]TopBorrowedBook, 0, len(counts))
	for name, c := range counts {
		out = append(out, TopBorrowedBook{Name: name, Count: c})
	}
	out = listing.SortBy(out, func(a, b TopBorrowedBook) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Name, b.Name))
	})
	return out[:max(0, min(n, len(out)))], nil
}

func (s *Service) Archives(ctx context.Context) (ArchiveStats, error) {
	entries, err := s.archive.List(ctx)
	if err != nil {
		return ArchiveStats{}, err
	}
	return ArchiveStats{
		ReturnedDocuments:     len(entries),
		RecentlyReturnedBooks: entries[:min(len(entries), recentReturns)],
	}, nil
}

// Overview gathers every section. The first failing section aborts it.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var (
		ov  Overview
		err error
	)
	if ov.BookStats, err = s.Books(ctx); err != nil {
		return Overview{}, err
	}
	if ov.ThesisStats, err = s.Theses(ctx); err != nil {
		return Overview{}, err
	}
	if ov.UserStats, err = s.Users(ctx); err != nil {
		return Overview{}, err
	}
	if ov.ArchiveStats, err = s.Archives(ctx); err != nil {
		return Overview{}, err
	}
	if ov.TopBorrowedBooks, err = s.TopBorrowed(ctx, topBorrowed); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

func (s *Service) Landing(ctx context.Context) Landing {
	count := func(collection string) int {
		snaps, err := s.store.All(ctx, collection)
		if err != nil {
			logger.WarnContext(ctx, "landing count failed", "collection", collection, "error", err)
			return 0
		}
		return len(snaps)
	}
	return Landing{
		TotalBooks:      count(catalog.BooksCollection),
		ActiveUsers:     count(circulation.UserCollection),
		DepartmentCount: count(catalog.DepartmentsCollection),
	}
}
