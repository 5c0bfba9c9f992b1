// Package archive reads and appends the return history. Entries live in the
// tableauArchives array of ArchivesBiblio/Arch and are never changed once
// written.
package archive

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"
)

const (
	Collection = "ArchivesBiblio"
	DocID      = "Arch"
	Field      = "tableauArchives"
)

// TimeLayout is the millisecond UTC form the student app also writes.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Entry records one completed return.
type Entry struct {
	StudentName  string    `json:"nomEtudiant"`
	DocumentName string    `json:"nomDoc"`
	Timestamp    time.Time `json:"heure"`
	// Source is the id of the archive document the entry was read from.
	Source string `json:"id,omitempty"`
}

func NewEntry(student, document string, at time.Time) Entry {
	return Entry{StudentName: student, DocumentName: document, Timestamp: at.UTC().Truncate(time.Millisecond)}
}

func (e Entry) document() map[string]any {
	return map[string]any{
		"nomEtudiant": e.StudentName,
		"nomDoc":      e.DocumentName,
		"heure":       e.Timestamp.UTC().Format(TimeLayout),
	}
}

func entryFrom(source string, raw any) (Entry, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		StudentName:  docstore.String(m, "nomEtudiant"),
		DocumentName: docstore.String(m, "nomDoc"),
		Timestamp:    docstore.Time(m, "heure"),
		Source:       source,
	}, true
}

// Append adds e to the log inside tx.
func Append(tx docstore.Tx, e Entry) error {
	return tx.ArrayUnion(Collection, DocID, Field, e.document())
}

// Stats summarises the log.
type Stats struct {
	Total    int        `json:"totalArchives"`
	LastDate *time.Time `json:"lastArchiveDate"`
}

type Log struct {
	store docstore.Store
}

func NewLog(store docstore.Store) *Log {
	return &Log{store: store}
}

// List returns every entry, newest first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	logger.StoreCall("list", Collection)
	snaps, err := l.store.All(ctx, Collection)
	if err != nil {
		logger.StoreResult("list", Collection, err)
		return nil, fmt.Errorf("list archives: %w", err)
	}

	var entries []Entry
	for _, snap := range snaps {
		for _, raw := range docstore.Slice(snap.Data, Field) {
			if e, ok := entryFrom(snap.ID, raw); ok {
				entries = append(entries, e)
			}
		}
	}
	return listing.SortBy(entries, newestFirst), nil
}

func newestFirst(a, b Entry) int {
	return b.Timestamp.Compare(a.Timestamp)
}

// Browse searches student and document names and pages the newest-first list.
func (l *Log) Browse(ctx context.Context, q listing.Query) (listing.Page[Entry], error) {
	entries, err := l.List(ctx)
	if err != nil {
		return listing.Page[Entry]{}, err
	}
	sortFn := newestFirst
	switch q.Sort {
	case "oldest":
		sortFn = listing.Reverse(newestFirst)
	case "student":
		sortFn = func(a, b Entry) int { return cmp.Compare(a.StudentName, b.StudentName) }
	}
	return listing.Apply(entries, q, sortFn,
		func(e Entry) string { return e.StudentName },
		func(e Entry) string { return e.DocumentName },
	), nil
}

func (l *Log) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(entries)}
	if len(entries) > 0 && !entries[0].Timestamp.IsZero() {
		last := entries[0].Timestamp
		st.LastDate = &last
	}
	return st, nil
}

// Recent returns up to n of the newest entries.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return entries[:max(0, min(n, len(entries)))], nil
}
