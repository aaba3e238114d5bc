package domain

import "slices"

// Allocate allocates line to the first batch in selection order that can take
// it and returns that batch's reference. The caller's slice is not reordered.
// When no batch can take the line, Allocate returns an *OutOfStockError and
// leaves every batch unchanged.
func Allocate(line OrderLine, batches []*Batch) (string, error) {
	candidates := slices.Clone(batches)
	SortBatches(candidates)

	for _, b := range candidates {
		if b.CanAllocate(line) {
			b.Allocate(line)
			return b.reference, nil
		}
	}
	return "", &OutOfStockError{SKU: line.SKU}
}
