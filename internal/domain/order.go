package domain

import "time"

// OrderStatus represents the lifecycle state of a POS order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod is how a payment was tendered.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

// OrderRecord is the order returned by the backend's getOrderById endpoint.
// Amounts are in minor units (cents).
type OrderRecord struct {
	ID         string         `json:"id"`
	Status     OrderStatus    `json:"status"`
	TotalCents int64          `json:"totalCents"`
	Currency   string         `json:"currency"`
	Items      []OrderItem    `json:"items"`
	Payments   []PaymentEntry `json:"payments"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// OrderItem is a single order line.
type OrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"priceCents"`
}

// PaymentEntry is a payment applied to an order.
type PaymentEntry struct {
	ID          string        `json:"id"`
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amountCents"`
	PaidAt      time.Time     `json:"paidAt"`
}

// PaidCents sums all payments applied to the order.
func (o *OrderRecord) PaidCents() int64 {
	var total int64
	for _, p := range o.Payments {
		total += p.AmountCents
	}
	return total
}

// BalanceCents returns the amount still owed (never negative).
func (o *OrderRecord) BalanceCents() int64 {
	if due := o.TotalCents - o.PaidCents(); due > 0 {
		return due
	}
	return 0
}
