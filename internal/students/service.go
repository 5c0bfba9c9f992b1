// internal/students/service.go
package students

import (
	"context"

	"bibliopanel/internal/listing"
)

// Service defines the interface for the students service.
type Service interface {
	List(ctx context.Context, f Filters) (listing.Page[Student], error)
	Get(ctx context.Context, id string) (*Student, error)
	Block(ctx context.Context, id string) (*Student, error)
	Unblock(ctx context.Context, id string) (*Student, error)
	Bulk(ctx context.Context, action BulkAction) (BulkResult, error)
	Stats(ctx context.Context) (Stats, error)
}
