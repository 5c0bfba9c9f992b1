// internal/catalog/service.go
package catalog

import (
	"context"

	"bibliopanel/internal/listing"
)

// Service defines the interface for the catalog service.
type Service interface {
	Add(ctx context.Context, kind Kind, doc NewDocument) (*Document, error)
	Get(ctx context.Context, kind Kind, id string) (*Document, error)
	List(ctx context.Context, kind Kind) ([]Document, error)
	ListByCategory(ctx context.Context, kind Kind, category string) ([]Document, error)
	Update(ctx context.Context, kind Kind, id string, upd DocumentUpdate) (*Document, error)
	UpdateCopies(ctx context.Context, kind Kind, id string, change StockChange) (*Document, error)
	Remove(ctx context.Context, kind Kind, id string) error
	AddComment(ctx context.Context, kind Kind, id string, c NewComment) (*Comment, error)
	Browse(ctx context.Context, kind Kind, category string, q listing.Query) (listing.Page[Document], error)
	ReconcileStock(ctx context.Context) (int, error)

	ListDepartments(ctx context.Context) ([]Department, error)
	AddDepartment(ctx context.Context, d NewDepartment) (*Department, error)
}
