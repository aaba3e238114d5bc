package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/allocation/internal/domain"
	pkgkafka "github.com/utafrali/allocation/pkg/kafka"
	"github.com/utafrali/allocation/pkg/logger"
)

// Kafka topics produced by the allocation service.
var (
	TopicAllocationAllocated   = pkgkafka.Topic("allocation", "allocated")
	TopicAllocationDeallocated = pkgkafka.Topic("allocation", "deallocated")
	TopicAllocationOutOfStock  = pkgkafka.Topic("allocation", "out_of_stock")
	TopicBatchCreated          = pkgkafka.Topic("batch", "created")
)

// Aggregate types.
const (
	AggregateTypeBatch     = "batch"
	AggregateTypeOrderLine = "order_line"
)

// SourceAllocationService identifies events originating from this service.
const SourceAllocationService = "allocation-service"

// BatchCreatedData is the payload for a batch.created event.
type BatchCreatedData struct {
	Reference         string     `json:"reference"`
	SKU               string     `json:"sku"`
	PurchasedQuantity int        `json:"purchased_quantity"`
	ETA               *time.Time `json:"eta,omitempty"`
}

// AllocationData is the payload for allocation.allocated and allocation.deallocated events.
type AllocationData struct {
	OrderID        string `json:"order_id"`
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	BatchReference string `json:"batch_reference"`
}

// OutOfStockData is the payload for an allocation.out_of_stock event.
type OutOfStockData struct {
	OrderID string `json:"order_id"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// Publisher sends an event envelope to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes allocation domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the allocation service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishBatchCreated publishes a batch.created event.
func (p *Producer) PublishBatchCreated(ctx context.Context, batch *domain.Batch) error {
	data := BatchCreatedData{
		Reference:         batch.Reference(),
		SKU:               batch.SKU(),
		PurchasedQuantity: batch.PurchasedQuantity(),
		ETA:               batch.ETA(),
	}
	return p.publish(ctx, TopicBatchCreated, batch.Reference(), AggregateTypeBatch, data)
}

// PublishAllocated publishes an allocation.allocated event keyed by the batch reference.
func (p *Producer) PublishAllocated(ctx context.Context, line domain.OrderLine, reference string) error {
	data := AllocationData{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty, BatchReference: reference}
	return p.publish(ctx, TopicAllocationAllocated, reference, AggregateTypeBatch, data)
}

// PublishDeallocated publishes an allocation.deallocated event keyed by the batch reference.
func (p *Producer) PublishDeallocated(ctx context.Context, line domain.OrderLine, reference string) error {
	data := AllocationData{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty, BatchReference: reference}
	return p.publish(ctx, TopicAllocationDeallocated, reference, AggregateTypeBatch, data)
}

// PublishOutOfStock publishes an allocation.out_of_stock event keyed by the order id.
func (p *Producer) PublishOutOfStock(ctx context.Context, line domain.OrderLine) error {
	data := OutOfStockData{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty}
	return p.publish(ctx, TopicAllocationOutOfStock, line.OrderID, AggregateTypeOrderLine, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceAllocationService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("event_id", event.EventID),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
