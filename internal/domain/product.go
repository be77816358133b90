package domain

import "time"

// Product is a sellable item. AvailableStock is the unreserved remainder of
// physical stock; Version increases on every stock mutation.
type Product struct {
	ID             int64     `json:"id"`
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	PriceCents     int64     `json:"priceCents"`
	AvailableStock int       `json:"availableStock"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CanReserve reports whether qty units can be taken from the available stock.
func (p Product) CanReserve(qty int) bool {
	return qty > 0 && p.AvailableStock >= qty
}
