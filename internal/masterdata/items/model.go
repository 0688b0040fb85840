package items

import "time"

// Item is a stock-keeping unit. Identity is immutable; metadata belongs to
// master data and is irrelevant to the stock engine.
type Item struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID int64     `json:"category_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
