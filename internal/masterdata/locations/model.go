package locations

import (
	"time"
)

// Kind classifies a stock-holding location.
type Kind string

const (
	// KindDepot is an ordinary warehouse.
	KindDepot Kind = "DEPOT"
	// KindStore is a retail store.
	KindStore Kind = "STORE"
	// KindTransit is the system-managed in-transit buffer. Exactly one
	// exists and it is never directly addressable by end users.
	KindTransit Kind = "TRANSIT"
)

// IsValid checks membership of the kind enum.
func (k Kind) IsValid() bool {
	switch k {
	case KindDepot, KindStore, KindTransit:
		return true
	default:
		return false
	}
}

// Location represents a place stock can be held.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
