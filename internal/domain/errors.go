package domain

import (
	"errors"
	"fmt"
)

// ErrOutOfStock matches every *OutOfStockError with errors.Is.
var ErrOutOfStock = errors.New("out of stock")

// OutOfStockError reports that no batch could satisfy a line for SKU.
type OutOfStockError struct {
	SKU string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock for sku %s", e.SKU)
}

// Is makes errors.Is(err, ErrOutOfStock) hold.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}
