package domain

import (
	"cmp"
	"slices"
	"time"
)

// Batch is a delivery of a single SKU, either on hand (no ETA) or in transit.
// A batch is identified by its reference; the purchased quantity is fixed and
// only the set of allocated order lines changes over its lifetime.
//
// Batch is not safe for concurrent use. Callers serialize access per SKU.
type Batch struct {
	reference   string
	sku         string
	purchased   int
	eta         *time.Time
	allocations map[OrderLine]struct{}
}

// NewBatch creates a batch with an empty allocation set. A nil eta means the
// stock is already in the warehouse.
func NewBatch(reference, sku string, purchasedQuantity int, eta *time.Time) *Batch {
	b := &Batch{
		reference:   reference,
		sku:         sku,
		purchased:   purchasedQuantity,
		allocations: make(map[OrderLine]struct{}),
	}
	if eta != nil {
		t := *eta
		b.eta = &t
	}
	return b
}

// RestoreBatch rebuilds a batch from stored state. Allocations are taken as
// they are, without capacity checks.
func RestoreBatch(reference, sku string, purchasedQuantity int, eta *time.Time, allocations []OrderLine) *Batch {
	b := NewBatch(reference, sku, purchasedQuantity, eta)
	for _, line := range allocations {
		b.allocations[line] = struct{}{}
	}
	return b
}

// Reference returns the batch reference.
func (b *Batch) Reference() string { return b.reference }

// Key returns the identity of the batch, for use as a map key.
func (b *Batch) Key() string { return b.reference }

// Equal reports whether b and other are the same batch. Only references are compared.
func (b *Batch) Equal(other *Batch) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.reference == other.reference
}

// SKU returns the stock-keeping unit held by the batch.
func (b *Batch) SKU() string { return b.sku }

// PurchasedQuantity returns the quantity the batch was bought with.
func (b *Batch) PurchasedQuantity() int { return b.purchased }

// ETA returns a copy of the estimated arrival date, or nil for warehouse stock.
func (b *Batch) ETA() *time.Time {
	if b.eta == nil {
		return nil
	}
	t := *b.eta
	return &t
}

// AllocatedQuantity is the sum of quantities over all allocated lines.
func (b *Batch) AllocatedQuantity() int {
	total := 0
	for line := range b.allocations {
		total += line.Qty
	}
	return total
}

// AvailableQuantity is the purchased quantity minus the allocated quantity.
func (b *Batch) AvailableQuantity() int {
	return b.purchased - b.AllocatedQuantity()
}

// CanAllocate reports whether line could be allocated to this batch.
func (b *Batch) CanAllocate(line OrderLine) bool {
	return line.SKU == b.sku && b.AvailableQuantity() >= line.Qty
}

// Allocate records line against the batch when CanAllocate holds. It reports
// whether the batch holds line after the call; an already allocated line is
// not counted twice and reports true. A rejected line leaves the batch unchanged.
func (b *Batch) Allocate(line OrderLine) bool {
	if b.HasAllocation(line) {
		return true
	}
	if !b.CanAllocate(line) {
		return false
	}
	b.allocations[line] = struct{}{}
	return true
}

// Deallocate removes line from the batch and reports whether it was present.
func (b *Batch) Deallocate(line OrderLine) bool {
	if !b.HasAllocation(line) {
		return false
	}
	delete(b.allocations, line)
	return true
}

// HasAllocation reports whether line is allocated to the batch.
func (b *Batch) HasAllocation(line OrderLine) bool {
	_, ok := b.allocations[line]
	return ok
}

// Allocations returns the allocated lines ordered by order id, SKU and quantity.
func (b *Batch) Allocations() []OrderLine {
	lines := make([]OrderLine, 0, len(b.allocations))
	for line := range b.allocations {
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(x, y OrderLine) int {
		return cmp.Or(
			cmp.Compare(x.OrderID, y.OrderID),
			cmp.Compare(x.SKU, y.SKU),
			cmp.Compare(x.Qty, y.Qty),
		)
	})
	return lines
}
