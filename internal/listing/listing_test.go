package listing

import (
	"cmp"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type book struct {
	Name  string
	Stock int
}

func name(b book) string { return b.Name }

func TestFilterByTextIsCaseInsensitive(t *testing.T) {
	books := []book{{Name: "Algebra"}, {Name: "Biology"}}

	got := FilterByText(books, "alg", name)

	assert.Equal(t, []book{{Name: "Algebra"}}, got)
}

func TestFilterByTextEmptyQueryKeepsAll(t *testing.T) {
	books := []book{{Name: "Algebra"}, {Name: "Biology"}}
	assert.Equal(t, books, FilterByText(books, "  ", name))
}

func TestFilterByTextSearchesEveryField(t *testing.T) {
	type student struct{ Name, Email string }
	students := []student{
		{Name: "Ada", Email: "ada@uni.example"},
		{Name: "Grace", Email: "ghopper@navy.example"},
	}
	got := FilterByText(students, "NAVY",
		func(s student) string { return s.Name },
		func(s student) string { return s.Email },
	)
	require.Len(t, got, 1)
	assert.Equal(t, "Grace", got[0].Name)
}

func TestFilterNoMatchIsEmptyNotNil(t *testing.T) {
	got := FilterByText([]book{{Name: "Algebra"}}, "zzz", name)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSortByIsStableAndDoesNotMutate(t *testing.T) {
	books := []book{{"C", 1}, {"A", 2}, {"B", 1}, {"D", 2}}
	before := slices.Clone(books)

	got := SortBy(books, func(a, b book) int { return cmp.Compare(a.Stock, b.Stock) })

	assert.Equal(t, []book{{"C", 1}, {"B", 1}, {"A", 2}, {"D", 2}}, got)
	assert.Equal(t, before, books)
}

func TestReverse(t *testing.T) {
	got := SortBy([]int{1, 3, 2}, Reverse(cmp.Compare[int]))
	assert.Equal(t, []int{3, 2, 1}, got)
}

func TestPaginateOutOfRange(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{5}, Paginate(items, 2, 4))
	assert.Empty(t, Paginate(items, 9999, 4))
	assert.Empty(t, Paginate(items, 0, 4))
	assert.Empty(t, Paginate(items, -1, 4))
	assert.Empty(t, Paginate(items, 1, 0))
	assert.NotPanics(t, func() { Paginate(items, int(^uint(0)>>1), 1<<40) })
}

func TestNewPageNavigation(t *testing.T) {
	items := make([]int, 25)

	first := NewPage(items, 1, DefaultPageSize)
	assert.Len(t, first.Items, 12)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)

	last := NewPage(items, 3, DefaultPageSize)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)

	empty := NewPage([]int{}, 1, DefaultPageSize)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasNext)
	assert.False(t, empty.HasPrev)
}

func TestApply(t *testing.T) {
	books := []book{{"Algebra II", 3}, {"Biology", 1}, {"Algebra I", 5}, {"Linear Algebra", 0}}

	page := Apply(books, Query{Search: "algebra", Size: 2},
		func(a, b book) int { return cmp.Compare(a.Name, b.Name) }, name)

	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, []book{{"Algebra I", 5}, {"Algebra II", 3}}, page.Items)
}

func TestPaginateReconstructsInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOf(rapid.Int()).Draw(t, "items")
		size := rapid.IntRange(1, 20).Draw(t, "size")

		var joined []int
		for page, chunk := range Pages(items, size) {
			if len(chunk) == 0 || len(chunk) > size {
				t.Fatalf("page %d has %d items", page, len(chunk))
			}
			joined = append(joined, chunk...)
		}
		if len(items) == 0 {
			if len(joined) != 0 {
				t.Fatalf("expected no pages")
			}
			return
		}
		if !slices.Equal(items, joined) {
			t.Fatalf("pages %v do not reconstruct %v", joined, items)
		}
		if n := TotalPages(len(items), size); len(Paginate(items, n+1, size)) != 0 {
			t.Fatalf("page past the end is not empty")
		}
	})
}

func TestSortByStableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOf(rapid.IntRange(0, 4)).Draw(t, "keys")
		type item struct{ key, pos int }
		items := make([]item, len(keys))
		for i, k := range keys {
			items[i] = item{k, i}
		}

		sorted := SortBy(items, func(a, b item) int { return cmp.Compare(a.key, b.key) })

		if len(sorted) != len(items) {
			t.Fatalf("length changed")
		}
		for i := 1; i < len(sorted); i++ {
			prev, cur := sorted[i-1], sorted[i]
			if prev.key > cur.key || (prev.key == cur.key && prev.pos > cur.pos) {
				t.Fatalf("order broken at %d: %v then %v", i, prev, cur)
			}
		}
	})
}

func TestFilterSubsetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOf(rapid.StringMatching(`[a-zA-Z]{0,8}`)).Draw(t, "names")
		query := rapid.StringMatching(`[a-zA-Z]{0,3}`).Draw(t, "query")

		got := FilterByText(names, query, func(s string) string { return s })

		want := 0
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), strings.ToLower(query)) {
				want++
			}
		}
		if len(got) != want {
			t.Fatalf("got %d matches, want %d", len(got), want)
		}
	})
}
