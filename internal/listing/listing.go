// Package listing holds the filter, sort and paginate steps every admin
// screen applies to a fetched collection.
package listing

import (
	"iter"
	"slices"
	"strings"
)

// DefaultPageSize matches the grid used by the catalogue screens.
const DefaultPageSize = 12

// FilterByText keeps the items where any of the given fields contains query,
// ignoring case. An empty or blank query keeps everything.
func FilterByText[T any](items []T, query string, fields ...func(T) string) []T {
	out := make([]T, 0, len(items))
	for item := range Filter(slices.Values(items), query, fields...) {
		out = append(out, item)
	}
	return out
}

// Filter is the lazy form of FilterByText.
func Filter[T any](seq iter.Seq[T], query string, fields ...func(T) string) iter.Seq[T] {
	needle := strings.ToLower(strings.TrimSpace(query))
	return func(yield func(T) bool) {
		for item := range seq {
			if needle == "" || matches(item, needle, fields) {
				if !yield(item) {
					return
				}
			}
		}
	}
}

func matches[T any](item T, needle string, fields []func(T) string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field(item)), needle) {
			return true
		}
	}
	return false
}

// SortBy returns a sorted copy of items. The sort is stable, so items that
// compare equal keep their input order. A nil cmp returns an unsorted copy.
func SortBy[T any](items []T, cmp func(a, b T) int) []T {
	out := slices.Clone(items)
	if cmp != nil {
		slices.SortStableFunc(out, cmp)
	}
	return out
}

// Reverse flips a comparison.
func Reverse[T any](cmp func(a, b T) int) func(a, b T) int {
	return func(a, b T) int { return cmp(b, a) }
}

// Paginate returns page (1-based) of the given size. Pages past the end and
// non-positive arguments yield an empty slice.
func Paginate[T any](items []T, page, size int) []T {
	if page < 1 || size < 1 {
		return []T{}
	}
	start := (page - 1) * size
	if start >= len(items) || start/size != page-1 {
		return []T{}
	}
	end := min(start+size, len(items))
	return slices.Clone(items[start:end])
}

// TotalPages is the number of pages needed for n items.
func TotalPages(n, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return (n + size - 1) / size
}

// Pages yields every non-empty page in order with its 1-based number.
func Pages[T any](items []T, size int) iter.Seq2[int, []T] {
	return func(yield func(int, []T) bool) {
		if size < 1 {
			return
		}
		for page := 1; (page-1)*size < len(items); page++ {
			if !yield(page, Paginate(items, page, size)) {
				return
			}
		}
	}
}

// Page is one page of a listing with the navigation data the screens show.
type Page[T any] struct {
	Items       []T  `json:"items"`
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalItems  int  `json:"totalItems"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNextPage"`
	HasPrev     bool `json:"hasPreviousPage"`
}

// NewPage slices items and fills in the navigation fields.
func NewPage[T any](items []T, page, size int) Page[T] {
	total := TotalPages(len(items), size)
	return Page[T]{
		Items:       Paginate(items, page, size),
		CurrentPage: page,
		PageSize:    size,
		TotalItems:  len(items),
		TotalPages:  total,
		HasNext:     page >= 1 && page < total,
		HasPrev:     page > 1 && total > 0,
	}
}

// Query is the search, sort and paging input of a listing request.
type Query struct {
	Search string `json:"search" validate:"max=200"`
	Sort   string `json:"sort"`
	Page   int    `json:"page" validate:"gte=0"`
	Size   int    `json:"size" validate:"gte=0,lte=200"`
}

// Normalize fills in the first page and the default size.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = DefaultPageSize
	}
	return q
}

// Apply runs filter, sort and paginate in that order.
func Apply[T any](items []T, q Query, cmp func(a, b T) int, fields ...func(T) string) Page[T] {
	q = q.Normalize()
	filtered := FilterByText(items, q.Search, fields...)
	return NewPage(SortBy(filtered, cmp), q.Page, q.Size)
}
