package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/allocation/internal/domain"
	apperrors "github.com/utafrali/allocation/pkg/errors"
	pkgkafka "github.com/utafrali/allocation/pkg/kafka"
	"github.com/utafrali/allocation/pkg/logger"
)

// Kafka topics consumed by the allocation service.
var (
	TopicOrderCreated  = pkgkafka.Topic("order", "created")
	TopicOrderCanceled = pkgkafka.Topic("order", "canceled")
)

// AllocationService defines what the event consumer needs from the service layer.
type AllocationService interface {
	Allocate(ctx context.Context, line domain.OrderLine) (string, error)
	Deallocate(ctx context.Context, line domain.OrderLine) (string, error)
}

// OrderLineData is one line of an order event.
type OrderLineData struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// OrderCreatedData is the expected payload of an order.created event.
type OrderCreatedData struct {
	OrderID string          `json:"order_id"`
	Lines   []OrderLineData `json:"lines"`
}

// OrderCanceledData is the expected payload of an order.canceled event.
type OrderCanceledData struct {
	OrderID string          `json:"order_id"`
	Lines   []OrderLineData `json:"lines"`
}

// Consumer processes incoming order events.
type Consumer struct {
	service AllocationService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the allocation service.
func NewConsumer(service AllocationService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleOrderCreated allocates every line of the order. Lines that are out of
// stock or invalid are logged and skipped; any other failure is returned so
// the event is retried. Already allocated lines are left where they are.
func (c *Consumer) HandleOrderCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCreatedData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	ctx = withEventCorrelation(ctx, event)

	c.logger.InfoContext(ctx, "processing order.created event",
		slog.String("event_id", event.EventID),
		slog.String("order_id", data.OrderID),
		slog.Int("lines", len(data.Lines)),
	)

	for _, l := range data.Lines {
		line := domain.NewOrderLine(data.OrderID, l.SKU, l.Qty)
		ref, err := c.service.Allocate(ctx, line)
		switch {
		case err == nil:
			c.logger.InfoContext(ctx, "order line allocated",
				slog.String("order_id", line.OrderID),
				slog.String("sku", line.SKU),
				slog.String("batch_reference", ref),
			)
		case errors.Is(err, apperrors.ErrOutOfStock), errors.Is(err, apperrors.ErrInvalidInput):
			c.logger.WarnContext(ctx, "order line not allocated",
				slog.String("order_id", line.OrderID),
				slog.String("sku", line.SKU),
				slog.Int("qty", line.Qty),
				slog.String("reason", err.Error()),
			)
		default:
			return fmt.Errorf("allocate line %s/%d for order %s: %w", line.SKU, line.Qty, line.OrderID, err)
		}
	}
	return nil
}

// HandleOrderCanceled deallocates every line of the order. Lines that were
// never allocated are ignored.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	ctx = withEventCorrelation(ctx, event)

	c.logger.InfoContext(ctx, "processing order.canceled event",
		slog.String("event_id", event.EventID),
		slog.String("order_id", data.OrderID),
		slog.Int("lines", len(data.Lines)),
	)

	for _, l := range data.Lines {
		line := domain.NewOrderLine(data.OrderID, l.SKU, l.Qty)
		ref, err := c.service.Deallocate(ctx, line)
		switch {
		case err == nil:
			c.logger.InfoContext(ctx, "order line deallocated",
				slog.String("order_id", line.OrderID),
				slog.String("sku", line.SKU),
				slog.String("batch_reference", ref),
			)
		case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrInvalidInput):
			c.logger.DebugContext(ctx, "order line had no allocation",
				slog.String("order_id", line.OrderID),
				slog.String("sku", line.SKU),
			)
		default:
			return fmt.Errorf("deallocate line %s/%d for order %s: %w", line.SKU, line.Qty, line.OrderID, err)
		}
	}
	return nil
}

// Handlers returns the topic to handler mapping for the consumers this
// service runs.
func (c *Consumer) Handlers() map[string]pkgkafka.Handler {
	return map[string]pkgkafka.Handler{
		TopicOrderCreated:  c.HandleOrderCreated,
		TopicOrderCanceled: c.HandleOrderCanceled,
	}
}

func withEventCorrelation(ctx context.Context, event *pkgkafka.Event) context.Context {
	if event.CorrelationID == "" || logger.CorrelationIDFromContext(ctx) != "" {
		return ctx
	}
	return logger.WithCorrelationID(ctx, event.CorrelationID)
}
