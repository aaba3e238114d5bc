package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/allocation/internal/domain"
	"github.com/utafrali/allocation/internal/repository"
	apperrors "github.com/utafrali/allocation/pkg/errors"
	"github.com/utafrali/allocation/pkg/pagination"
)

// EventPublisher publishes allocation domain events. *event.Producer implements it.
type EventPublisher interface {
	PublishBatchCreated(ctx context.Context, batch *domain.Batch) error
	PublishAllocated(ctx context.Context, line domain.OrderLine, reference string) error
	PublishDeallocated(ctx context.Context, line domain.OrderLine, reference string) error
	PublishOutOfStock(ctx context.Context, line domain.OrderLine) error
}

// AllocationService implements the business logic for batch allocation.
type AllocationService struct {
	repo   repository.BatchRepository
	tx     repository.TxRunner
	events EventPublisher
	logger *slog.Logger
}

// NewAllocationService creates a new allocation service.
func NewAllocationService(
	repo repository.BatchRepository,
	tx repository.TxRunner,
	events EventPublisher,
	logger *slog.Logger,
) *AllocationService {
	return &AllocationService{
		repo:   repo,
		tx:     tx,
		events: events,
		logger: logger,
	}
}

// AddBatch registers a new batch. The ETA is truncated to a UTC date.
func (s *AllocationService) AddBatch(ctx context.Context, reference, sku string, qty int, eta *time.Time) (*domain.Batch, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.InvalidInput("reference is required")
	}
	if strings.TrimSpace(sku) == "" {
		return nil, apperrors.InvalidInput("sku is required")
	}
	if qty < 0 {
		return nil, apperrors.InvalidInput("purchased_quantity must be non-negative")
	}

	if eta != nil {
		d := time.Date(eta.Year(), eta.Month(), eta.Day(), 0, 0, 0, 0, time.UTC)
		eta = &d
	}
	batch := domain.NewBatch(reference, sku, qty, eta)

	if err := s.repo.Add(ctx, batch); err != nil {
		return nil, fmt.Errorf("add batch: %w", err)
	}

	if err := s.events.PublishBatchCreated(ctx, batch); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish batch.created event",
			slog.String("reference", reference),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "batch added",
		slog.String("reference", reference),
		slog.String("sku", sku),
		slog.Int("purchased_quantity", qty),
		slog.Bool("in_warehouse", eta == nil),
	)
	return batch, nil
}

// GetBatch retrieves a batch with its allocations.
func (s *AllocationService) GetBatch(ctx context.Context, reference string) (*domain.Batch, error) {
	batch, err := s.repo.Get(ctx, reference)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("batch", reference)
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns a page of batches, optionally filtered by sku.
func (s *AllocationService) ListBatches(ctx context.Context, sku string, page, perPage int) (pagination.Result[*domain.Batch], error) {
	params := pagination.New(page, perPage)

	batches, total, err := s.repo.List(ctx, sku, params.Page, params.PerPage)
	if err != nil {
		return pagination.Result[*domain.Batch]{}, fmt.Errorf("list batches: %w", err)
	}
	return pagination.NewResult(batches, total, params), nil
}

// Allocate assigns line to a batch of its SKU and returns the batch reference.
// The SKU's batches are locked for the duration of the transaction. A line
// that is already allocated returns its current batch without changes.
func (s *AllocationService) Allocate(ctx context.Context, line domain.OrderLine) (string, error) {
	if err := validateLine(line); err != nil {
		return "", err
	}

	start := time.Now()
	var (
		reference string
		existing  bool
	)
	err := s.tx.Run(ctx, func(repo repository.BatchRepository) error {
		batches, err := repo.ListBySKU(ctx, line.SKU, true)
		if err != nil {
			return err
		}

		for _, b := range batches {
			if b.HasAllocation(line) {
				reference, existing = b.Reference(), true
				return nil
			}
		}

		reference, err = domain.Allocate(line, batches)
		if err != nil {
			return err
		}
		return repo.SaveAllocation(ctx, reference, line)
	})
	allocationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, domain.ErrOutOfStock) {
			allocationsTotal.WithLabelValues(outcomeOutOfStock).Inc()
			s.logger.WarnContext(ctx, "order line out of stock",
				slog.String("order_id", line.OrderID),
				slog.String("sku", line.SKU),
				slog.Int("qty", line.Qty),
			)
			if pubErr := s.events.PublishOutOfStock(ctx, line); pubErr != nil {
				s.logger.ErrorContext(ctx, "failed to publish allocation.out_of_stock event",
					slog.String("order_id", line.OrderID),
					slog.String("error", pubErr.Error()),
				)
			}
			return "", apperrors.OutOfStock(line.SKU)
		}
		allocationsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("allocate order line: %w", err)
	}

	if existing {
		allocationsTotal.WithLabelValues(outcomeAlreadyAllocated).Inc()
		s.logger.InfoContext(ctx, "order line already allocated",
			slog.String("order_id", line.OrderID),
			slog.String("sku", line.SKU),
			slog.String("batch_reference", reference),
		)
		return reference, nil
	}

	allocationsTotal.WithLabelValues(outcomeAllocated).Inc()
	if err := s.events.PublishAllocated(ctx, line, reference); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish allocation.allocated event",
			slog.String("order_id", line.OrderID),
			slog.String("batch_reference", reference),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order line allocated",
		slog.String("order_id", line.OrderID),
		slog.String("sku", line.SKU),
		slog.Int("qty", line.Qty),
		slog.String("batch_reference", reference),
	)
	return reference, nil
}

// Deallocate releases line from the batch holding it and returns that batch's
// reference. An unknown line yields a NotFound error.
func (s *AllocationService) Deallocate(ctx context.Context, line domain.OrderLine) (string, error) {
	if err := validateLine(line); err != nil {
		return "", err
	}

	var reference string
	err := s.tx.Run(ctx, func(repo repository.BatchRepository) error {
		batches, err := repo.ListBySKU(ctx, line.SKU, true)
		if err != nil {
			return err
		}

		reference, err = repo.FindAllocation(ctx, line)
		if err != nil {
			return err
		}

		for _, b := range batches {
			if b.Key() != reference {
				continue
			}
			if !b.Deallocate(line) {
				return apperrors.ErrNotFound
			}
			if _, err := repo.DeleteAllocation(ctx, reference, line); err != nil {
				return err
			}
			return nil
		}
		return apperrors.ErrNotFound
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.NotFound("allocation for order", line.OrderID)
		}
		return "", fmt.Errorf("deallocate order line: %w", err)
	}

	if err := s.events.PublishDeallocated(ctx, line, reference); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish allocation.deallocated event",
			slog.String("order_id", line.OrderID),
			slog.String("batch_reference", reference),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order line deallocated",
		slog.String("order_id", line.OrderID),
		slog.String("sku", line.SKU),
		slog.Int("qty", line.Qty),
		slog.String("batch_reference", reference),
	)
	return reference, nil
}

func validateLine(line domain.OrderLine) error {
	if strings.TrimSpace(line.OrderID) == "" {
		return apperrors.InvalidInput("order_id is required")
	}
	if strings.TrimSpace(line.SKU) == "" {
		return apperrors.InvalidInput("sku is required")
	}
	if line.Qty <= 0 {
		return apperrors.InvalidInput("qty must be positive")
	}
	return nil
}
