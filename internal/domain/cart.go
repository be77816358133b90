package domain

import "time"

// Cart is the per-session view of reserved line items.
type Cart struct {
	SessionID  string     `json:"sessionId"`
	Lines      []CartLine `json:"lineItems"`
	TotalCents int64      `json:"totalCents"`
	ItemCount  int        `json:"itemCount"`
}

// CartLine holds quantity units already taken from the product's available stock.
type CartLine struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"-"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Product   *Product  `json:"product,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewCart builds a cart snapshot and derives its totals from the current
// product prices attached to each line.
func NewCart(sessionID string, lines []CartLine) *Cart {
	c := &Cart{SessionID: sessionID, Lines: lines}
	if c.Lines == nil {
		c.Lines = []CartLine{}
	}
	c.Recompute()
	return c
}

// Recompute refreshes TotalCents and ItemCount.
func (c *Cart) Recompute() {
	var total int64
	count := 0
	for _, l := range c.Lines {
		count += l.Quantity
		if l.Product != nil {
			total += l.Product.PriceCents * int64(l.Quantity)
		}
	}
	c.TotalCents = total
	c.ItemCount = count
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Line returns the line with the given id.
func (c *Cart) Line(id int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return CartLine{}, false
}

// ProductIDs returns the distinct product ids referenced by the cart.
func (c *Cart) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.Lines))
	ids := make([]int64, 0, len(c.Lines))
	for _, l := range c.Lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}
