package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/allocation/internal/domain"
	"github.com/utafrali/allocation/internal/repository"
	"github.com/utafrali/allocation/pkg/database"
	apperrors "github.com/utafrali/allocation/pkg/errors"
	"github.com/utafrali/allocation/pkg/pagination"
)

var _ repository.BatchRepository = (*BatchRepository)(nil)

// BatchRepository implements repository.BatchRepository using PostgreSQL.
type BatchRepository struct {
	db database.DBTX
}

// NewBatchRepository creates a repository on a pool or a transaction.
func NewBatchRepository(db database.DBTX) *BatchRepository {
	return &BatchRepository{db: db}
}

// batchRow is a batches row before its allocations are attached.
type batchRow struct {
	reference string
	sku       string
	purchased int
	eta       *time.Time
}

// Add inserts a new batch.
func (r *BatchRepository) Add(ctx context.Context, batch *domain.Batch) error {
	query := `
		INSERT INTO batches (reference, sku, purchased_quantity, eta)
		VALUES ($1, $2, $3, $4)`

	ctx, end := database.TraceQuery(ctx, "INSERT", query)
	_, err := r.db.Exec(ctx, query, batch.Reference(), batch.SKU(), batch.PurchasedQuantity(), batch.ETA())
	end(err)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("batch", "reference", batch.Reference())
		}
		return fmt.Errorf("insert batch: %w", err)
	}

	// Persist any allocations the batch was built with.
	for _, line := range batch.Allocations() {
		if err := r.SaveAllocation(ctx, batch.Reference(), line); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a batch by reference.
func (r *BatchRepository) Get(ctx context.Context, reference string) (*domain.Batch, error) {
	query := `
		SELECT reference, sku, purchased_quantity, eta
		FROM batches
		WHERE reference = $1`

	ctx, end := database.TraceQuery(ctx, "SELECT", query)
	var row batchRow
	err := r.db.QueryRow(ctx, query, reference).Scan(&row.reference, &row.sku, &row.purchased, &row.eta)
	if errors.Is(err, pgx.ErrNoRows) {
		end(nil)
		return nil, apperrors.ErrNotFound
	}
	end(err)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", reference, err)
	}

	batches, err := r.attachAllocations(ctx, []batchRow{row})
	if err != nil {
		return nil, err
	}
	return batches[0], nil
}

// ListBySKU returns all batches for sku ordered by creation time, which
// decides the order among warehouse batches during allocation.
func (r *BatchRepository) ListBySKU(ctx context.Context, sku string, forUpdate bool) ([]*domain.Batch, error) {
	query := `
		SELECT reference, sku, purchased_quantity, eta
		FROM batches
		WHERE sku = $1
		ORDER BY created_at, reference`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	ctx, end := database.TraceQuery(ctx, "SELECT", query)
	rows, err := r.db.Query(ctx, query, sku)
	if err != nil {
		end(err)
		return nil, fmt.Errorf("list batches by sku: %w", err)
	}
	defer rows.Close()

	var batchRows []batchRow
	for rows.Next() {
		var row batchRow
		if err := rows.Scan(&row.reference, &row.sku, &row.purchased, &row.eta); err != nil {
			end(err)
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		batchRows = append(batchRows, row)
	}
	err = rows.Err()
	end(err)
	if err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}

	return r.attachAllocations(ctx, batchRows)
}

// List returns a page of batches with the total count.
func (r *BatchRepository) List(ctx context.Context, sku string, page, perPage int) ([]*domain.Batch, int, error) {
	params := pagination.New(page, perPage)

	query := `
		SELECT reference, sku, purchased_quantity, eta, count(*) OVER() AS total_count
		FROM batches
		WHERE ($1 = '' OR sku = $1)
		ORDER BY created_at, reference
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "SELECT", query)
	rows, err := r.db.Query(ctx, query, sku, params.PerPage, params.Offset)
	if err != nil {
		end(err)
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var (
		batchRows  []batchRow
		totalCount int
	)
	for rows.Next() {
		var row batchRow
		if err := rows.Scan(&row.reference, &row.sku, &row.purchased, &row.eta, &totalCount); err != nil {
			end(err)
			return nil, 0, fmt.Errorf("scan batch row: %w", err)
		}
		batchRows = append(batchRows, row)
	}
	err = rows.Err()
	end(err)
	if err != nil {
		return nil, 0, fmt.Errorf("iterate batch rows: %w", err)
	}

	batches, err := r.attachAllocations(ctx, batchRows)
	if err != nil {
		return nil, 0, err
	}
	return batches, totalCount, nil
}

// SaveAllocation records line against the batch.
func (r *BatchRepository) SaveAllocation(ctx context.Context, reference string, line domain.OrderLine) error {
	query := `
		INSERT INTO allocations (batch_reference, order_id, sku, qty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "INSERT", query)
	_, err := r.db.Exec(ctx, query, reference, line.OrderID, line.SKU, line.Qty)
	end(err)
	if err != nil {
		return fmt.Errorf("save allocation: %w", err)
	}
	return nil
}

// DeleteAllocation removes line from the batch.
func (r *BatchRepository) DeleteAllocation(ctx context.Context, reference string, line domain.OrderLine) (bool, error) {
	query := `
		DELETE FROM allocations
		WHERE batch_reference = $1 AND order_id = $2 AND sku = $3 AND qty = $4`

	ctx, end := database.TraceQuery(ctx, "DELETE", query)
	tag, err := r.db.Exec(ctx, query, reference, line.OrderID, line.SKU, line.Qty)
	end(err)
	if err != nil {
		return false, fmt.Errorf("delete allocation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindAllocation returns the reference of the batch holding line.
func (r *BatchRepository) FindAllocation(ctx context.Context, line domain.OrderLine) (string, error) {
	query := `
		SELECT batch_reference
		FROM allocations
		WHERE order_id = $1 AND sku = $2 AND qty = $3
		LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "SELECT", query)
	var reference string
	err := r.db.QueryRow(ctx, query, line.OrderID, line.SKU, line.Qty).Scan(&reference)
	if errors.Is(err, pgx.ErrNoRows) {
		end(nil)
		return "", apperrors.ErrNotFound
	}
	end(err)
	if err != nil {
		return "", fmt.Errorf("find allocation: %w", err)
	}
	return reference, nil
}

// attachAllocations loads the allocations of every row in one query and
// builds the domain batches in row order.
func (r *BatchRepository) attachAllocations(ctx context.Context, batchRows []batchRow) ([]*domain.Batch, error) {
	if len(batchRows) == 0 {
		return []*domain.Batch{}, nil
	}

	refs := make([]string, len(batchRows))
	for i, row := range batchRows {
		refs[i] = row.reference
	}

	query := `
		SELECT batch_reference, order_id, sku, qty
		FROM allocations
		WHERE batch_reference = ANY($1)`

	ctx, end := database.TraceQuery(ctx, "SELECT", query)
	rows, err := r.db.Query(ctx, query, refs)
	if err != nil {
		end(err)
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	lines := make(map[string][]domain.OrderLine, len(batchRows))
	for rows.Next() {
		var (
			reference string
			line      domain.OrderLine
		)
		if err := rows.Scan(&reference, &line.OrderID, &line.SKU, &line.Qty); err != nil {
			end(err)
			return nil, fmt.Errorf("scan allocation row: %w", err)
		}
		lines[reference] = append(lines[reference], line)
	}
	err = rows.Err()
	end(err)
	if err != nil {
		return nil, fmt.Errorf("iterate allocation rows: %w", err)
	}

	batches := make([]*domain.Batch, len(batchRows))
	for i, row := range batchRows {
		batches[i] = domain.RestoreBatch(row.reference, row.sku, row.purchased, row.eta, lines[row.reference])
	}
	return batches, nil
}
