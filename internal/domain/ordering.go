package domain

import "slices"

// CompareBatches orders batches for selection: warehouse stock (no ETA) comes
// before anything in transit, and earlier ETAs come before later ones. Two
// warehouse batches compare equal.
func CompareBatches(a, b *Batch) int {
	switch {
	case a.eta == nil && b.eta == nil:
		return 0
	case a.eta == nil:
		return -1
	case b.eta == nil:
		return 1
	default:
		return a.eta.Compare(*b.eta)
	}
}

// SortBatches sorts batches in selection order. Equal batches keep their
// relative order.
func SortBatches(batches []*Batch) {
	slices.SortStableFunc(batches, CompareBatches)
}
