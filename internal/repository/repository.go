package repository

import (
	"context"

	"github.com/utafrali/allocation/internal/domain"
)

// BatchRepository defines the persistence operations for batches and their
// allocations.
type BatchRepository interface {
	// Add inserts a new batch. A duplicate reference yields an AlreadyExists error.
	Add(ctx context.Context, batch *domain.Batch) error

	// Get retrieves a batch with its allocations.
	Get(ctx context.Context, reference string) (*domain.Batch, error)

	// ListBySKU returns every batch of sku with its allocations. With forUpdate
	// the batch rows stay locked until the surrounding transaction ends.
	ListBySKU(ctx context.Context, sku string, forUpdate bool) ([]*domain.Batch, error)

	// List returns a page of batches, optionally filtered by sku, and the total count.
	List(ctx context.Context, sku string, page, perPage int) ([]*domain.Batch, int, error)

	// SaveAllocation records line against the batch. Saving an existing allocation is a no-op.
	SaveAllocation(ctx context.Context, reference string, line domain.OrderLine) error

	// DeleteAllocation removes line from the batch and reports whether a row was deleted.
	DeleteAllocation(ctx context.Context, reference string, line domain.OrderLine) (bool, error)

	// FindAllocation returns the reference of the batch holding line.
	FindAllocation(ctx context.Context, line domain.OrderLine) (string, error)
}

// TxRunner runs fn against a BatchRepository bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	Run(ctx context.Context, fn func(repo BatchRepository) error) error
}
