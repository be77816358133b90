package domain

import "time"

// Order is immutable once committed.
type Order struct {
	ID              int64        `json:"id"`
	OrderNumber     string       `json:"orderNumber"`
	SessionID       string       `json:"-"`
	Customer        CustomerInfo `json:"customerInfo"`
	OrderTotalCents int64        `json:"orderTotalCents"`
	OrderDate       time.Time    `json:"orderDate"`
	Items           []OrderItem  `json:"orderItems"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// OrderItem snapshots product name and price at commit time.
type OrderItem struct {
	ID             int64  `json:"id,omitempty"`
	OrderID        int64  `json:"orderId,omitempty"`
	ProductID      int64  `json:"productId"`
	ProductName    string `json:"productName"`
	Qty            int    `json:"qty"`
	ItemPriceCents int64  `json:"itemPriceCents"`
	ItemTotalCents int64  `json:"itemTotalCents"`
}

// NewOrderItem snapshots p for qty units.
func NewOrderItem(p Product, qty int) OrderItem {
	return OrderItem{
		ProductID:      p.ID,
		ProductName:    p.Name,
		Qty:            qty,
		ItemPriceCents: p.PriceCents,
		ItemTotalCents: p.PriceCents * int64(qty),
	}
}

// SumItems returns the order total of items.
func SumItems(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.ItemTotalCents
	}
	return total
}

// CheckoutState tracks a checkout attempt.
type CheckoutState string

const (
	CheckoutInitiated CheckoutState = "initiated"
	CheckoutValidated CheckoutState = "validated"
	CheckoutCommitted CheckoutState = "committed"
	CheckoutRejected  CheckoutState = "rejected"
)

// CanTransition reports whether the workflow allows moving from s to next.
func (s CheckoutState) CanTransition(next CheckoutState) bool {
	switch s {
	case CheckoutInitiated:
		return next == CheckoutValidated || next == CheckoutRejected
	case CheckoutValidated:
		return next == CheckoutCommitted || next == CheckoutRejected
	default:
		return false
	}
}
