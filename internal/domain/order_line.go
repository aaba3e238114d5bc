package domain

// OrderLine is one line of a customer order. It has no identity of its own:
// two lines with the same order id, SKU and quantity are the same line.
// OrderLine is comparable, so == and map keys use value equality.
type OrderLine struct {
	OrderID string `json:"order_id"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// NewOrderLine creates an order line. No validation is performed here.
func NewOrderLine(orderID, sku string, qty int) OrderLine {
	return OrderLine{OrderID: orderID, SKU: sku, Qty: qty}
}
