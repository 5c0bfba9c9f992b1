// internal/catalog/implementation.go
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/events"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"
)

// service implements the Service interface.
type service struct {
	store     docstore.Store
	publisher events.Publisher
	now       func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(store docstore.Store, publisher events.Publisher) Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &service{store: store, publisher: publisher, now: time.Now}
}

func decodeDocument(kind Kind, snap *docstore.Snapshot) Document {
	d := snap.Data
	doc := Document{
		ID:          snap.ID,
		Kind:        kind,
		Name:        docstore.String(d, "name"),
		Category:    docstore.String(d, "cathegorie"),
		Shelf:       docstore.String(d, "etagere"),
		Room:        docstore.String(d, "salle"),
		Description: docstore.String(d, "desc"),
		Image:       docstore.String(d, "image"),
		Author:      docstore.String(d, "auteur"),
		Edition:     docstore.String(d, "edition"),
		Supervisor:  docstore.String(d, "supervisor"),
		Matricule:   docstore.String(d, "matricule"),
		PDF:         docstore.String(d, "pdfUrl"),
		Comments:    []Comment{},
	}
	doc.Exemplaire, _ = docstore.Int(d, "exemplaire")
	doc.InitialExemplaire, _ = docstore.Int(d, "initialExemplaire")
	doc.Year, _ = docstore.Int(d, "year")
	for _, raw := range docstore.Slice(d, "keywords") {
		if s, ok := raw.(string); ok {
			doc.Keywords = append(doc.Keywords, s)
		}
	}
	for _, raw := range docstore.Slice(d, "commentaire") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rating, _ := docstore.Int(m, "note")
		doc.Comments = append(doc.Comments, Comment{
			UserName: docstore.String(m, "nomUser"),
			Text:     docstore.String(m, "texte"),
			Rating:   rating,
			Time:     docstore.Time(m, "heure"),
		})
	}
	return doc
}

func (n NewDocument) fields() map[string]any {
	available := n.InitialExemplaire
	if n.Exemplaire != nil {
		available = *n.Exemplaire
	}
	f := map[string]any{
		"name":              strings.TrimSpace(n.Name),
		"cathegorie":        strings.TrimSpace(n.Category),
		"exemplaire":        available,
		"initialExemplaire": n.InitialExemplaire,
		"etagere":           n.Shelf,
		"salle":             n.Room,
		"desc":              n.Description,
		"image":             n.Image,
		"commentaire":       []any{},
	}
	optional := map[string]string{"auteur": n.Author, "edition": n.Edition, "supervisor": n.Supervisor, "matricule": n.Matricule, "pdfUrl": n.PDF}
	for k, v := range optional {
		if v != "" {
			f[k] = v
		}
	}
	if n.Year != 0 {
		f["year"] = n.Year
	}
	if len(n.Keywords) > 0 {
		kw := make([]any, 0, len(n.Keywords))
		for _, k := range n.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				kw = append(kw, k)
			}
		}
		f["keywords"] = kw
	}
	return f
}

func (u DocumentUpdate) fields() map[string]any {
	f := map[string]any{}
	for key, v := range map[string]*string{
		"name": u.Name, "cathegorie": u.Category, "etagere": u.Shelf, "salle": u.Room,
		"desc": u.Description, "image": u.Image, "auteur": u.Author, "edition": u.Edition,
	} {
		if v != nil {
			f[key] = strings.TrimSpace(*v)
		}
	}
	return f
}

func notFound(err error, collection, id string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return err
}

// Add stores a new document. Available copies default to the initial stock.
func (s *service) Add(ctx context.Context, kind Kind, doc NewDocument) (*Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	if doc.Exemplaire != nil && *doc.Exemplaire > doc.InitialExemplaire {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidCopies, *doc.Exemplaire, doc.InitialExemplaire)
	}

	logger.StoreCall("add", collection, "name", doc.Name)
	id, err := s.store.Add(ctx, collection, doc.fields())
	logger.StoreResult("add", collection, err, "id", id)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", kind, err)
	}
	return s.Get(ctx, kind, id)
}

func (s *service) Get(ctx context.Context, kind Kind, id string) (*Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Get(ctx, collection, id)
	if err != nil {
		return nil, notFound(err, collection, id)
	}
	doc := decodeDocument(kind, snap)
	return &doc, nil
}

func (s *service) decodeAll(kind Kind, snaps []*docstore.Snapshot) []Document {
	out := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, decodeDocument(kind, snap))
	}
	return out
}

func (s *service) List(ctx context.Context, kind Kind) ([]Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.All(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return s.decodeAll(kind, snaps), nil
}

// ListByCategory returns the documents filed under one department.
func (s *service) ListByCategory(ctx context.Context, kind Kind, category string) ([]Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.Where(ctx, collection, "cathegorie", category)
	if err != nil {
		return nil, fmt.Errorf("list %s in %q: %w", kind, category, err)
	}
	return s.decodeAll(kind, snaps), nil
}

func (s *service) Update(ctx context.Context, kind Kind, id string, upd DocumentUpdate) (*Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, collection, id); err != nil {
			return notFound(err, collection, id)
		}
		return tx.Set(collection, id, upd.fields())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, kind, id)
}

// UpdateCopies changes stock counts, keeping 0 <= exemplaire <= initialExemplaire.
func (s *service) UpdateCopies(ctx context.Context, kind Kind, id string, change StockChange) (*Document, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	var updated Document
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, collection, id)
		if err != nil {
			return notFound(err, collection, id)
		}
		doc := decodeDocument(kind, snap)
		initial := doc.InitialExemplaire
		if change.InitialExemplaire != nil {
			initial = *change.InitialExemplaire
		}
		if change.Exemplaire < 0 || initial < 0 || change.Exemplaire > initial {
			return fmt.Errorf("%w: exemplaire %d, initialExemplaire %d", ErrInvalidCopies, change.Exemplaire, initial)
		}
		doc.Exemplaire, doc.InitialExemplaire = change.Exemplaire, initial
		updated = doc
		return tx.Set(collection, id, map[string]any{"exemplaire": change.Exemplaire, "initialExemplaire": initial})
	})
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "stock updated", "collection", collection, "id", id,
		"exemplaire", updated.Exemplaire, "initialExemplaire", updated.InitialExemplaire)
	return &updated, nil
}

func (s *service) Remove(ctx context.Context, kind Kind, id string) error {
	collection, err := kind.Collection()
	if err != nil {
		return err
	}
	logger.StoreCall("delete", collection, "id", id)
	err = s.store.Delete(ctx, collection, id)
	logger.StoreResult("delete", collection, err, "id", id)
	return notFound(err, collection, id)
}

func (s *service) AddComment(ctx context.Context, kind Kind, id string, c NewComment) (*Comment, error) {
	collection, err := kind.Collection()
	if err != nil {
		return nil, err
	}
	comment := Comment{
		UserName: strings.TrimSpace(c.UserName),
		Text:     strings.TrimSpace(c.Text),
		Rating:   c.Rating,
		Time:     s.now().UTC().Truncate(time.Millisecond),
	}
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, collection, id); err != nil {
			return notFound(err, collection, id)
		}
		return tx.ArrayUnion(collection, id, "commentaire", map[string]any{
			"nomUser": comment.UserName,
			"texte":   comment.Text,
			"note":    comment.Rating,
			"heure":   comment.Time.Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func sortFor(option string) func(a, b Document) int {
	byName := func(a, b Document) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	}
	byStock := func(a, b Document) int { return cmp.Compare(a.Exemplaire, b.Exemplaire) }
	switch option {
	case SortNameDesc:
		return listing.Reverse(byName)
	case SortStockAsc:
		return byStock
	case SortStockDesc:
		return listing.Reverse(byStock)
	default:
		return byName
	}
}

// Browse searches a department's documents by name, author and description,
// sorts them by one of the catalogue options and returns the requested page.
// An empty category browses the whole collection.
func (s *service) Browse(ctx context.Context, kind Kind, category string, q listing.Query) (listing.Page[Document], error) {
	var (
		docs []Document
		err  error
	)
	if category == "" {
		docs, err = s.List(ctx, kind)
	} else {
		docs, err = s.ListByCategory(ctx, kind, category)
	}
	if err != nil {
		return listing.Page[Document]{}, err
	}
	return listing.Apply(docs, q, sortFor(q.Sort),
		func(d Document) string { return d.Name },
		func(d Document) string { return d.Author },
		func(d Document) string { return d.Description },
	), nil
}

// ReconcileStock clamps every document's exemplaire into 0..initialExemplaire
// and reports how many documents were corrected.
func (s *service) ReconcileStock(ctx context.Context) (int, error) {
	fixed := 0
	for _, collection := range []string{BooksCollection, ThesisCollection} {
		snaps, err := s.store.All(ctx, collection)
		if err != nil {
			return fixed, fmt.Errorf("reconcile %s: %w", collection, err)
		}
		for _, snap := range snaps {
			initial, hasInitial := docstore.Int(snap.Data, "initialExemplaire")
			if !hasInitial {
				continue
			}
			var ev StockReconciledEvent
			err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
				cur, err := tx.Get(ctx, collection, snap.ID)
				if err != nil {
					return err
				}
				n, _ := docstore.Int(cur.Data, "exemplaire")
				clamped := min(max(n, 0), max(initial, 0))
				if clamped == n {
					ev = StockReconciledEvent{}
					return nil
				}
				ev = StockReconciledEvent{Collection: collection, DocumentID: snap.ID, Before: n, After: clamped}
				return tx.Set(collection, snap.ID, map[string]any{"exemplaire": clamped})
			})
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return fixed, fmt.Errorf("reconcile %s/%s: %w", collection, snap.ID, err)
			}
			if ev.DocumentID == "" {
				continue
			}
			fixed++
			logger.WarnContext(ctx, "stock counter corrected", "collection", collection, "id", snap.ID,
				"before", ev.Before, "after", ev.After)
			if err := s.publisher.Publish(ctx, events.New(events.TypeStockReconciled, snap.ID, ev)); err != nil {
				logger.WarnContext(ctx, "event publish failed", "type", events.TypeStockReconciled, "error", err)
			}
		}
	}
	return fixed, nil
}

func (s *service) ListDepartments(ctx context.Context) ([]Department, error) {
	snaps, err := s.store.All(ctx, DepartmentsCollection)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	out := make([]Department, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, Department{
			ID:    snap.ID,
			Name:  docstore.String(snap.Data, "nom"),
			Image: docstore.String(snap.Data, "image"),
		})
	}
	return listing.SortBy(out, func(a, b Department) int { return cmp.Compare(a.Name, b.Name) }), nil
}

func (s *service) AddDepartment(ctx context.Context, d NewDepartment) (*Department, error) {
	name := strings.TrimSpace(d.Name)
	id, err := s.store.Add(ctx, DepartmentsCollection, map[string]any{"nom": name, "image": d.Image})
	if err != nil {
		return nil, fmt.Errorf("add department: %w", err)
	}
	return &Department{ID: id, Name: name, Image: d.Image}, nil
}
