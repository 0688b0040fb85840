package procurement

import "time"

// Status is the purchase order lifecycle state.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusOrdered           Status = "ORDERED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusCancelled         Status = "CANCELLED"
)

// allowedTransitions is the full transition table. Receiving statuses are
// listed because Receive recomputes them; SetStatus additionally refuses
// them as direct targets.
var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft:             {StatusOrdered: true, StatusCancelled: true},
	StatusOrdered:           {StatusPartiallyReceived: true, StatusReceived: true, StatusCancelled: true},
	StatusPartiallyReceived: {StatusPartiallyReceived: true, StatusReceived: true, StatusCancelled: true},
}

// CanTransition reports whether next is reachable from s.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// CanReceive reports whether goods may be received against the order.
func (s Status) CanReceive() bool {
	return s == StatusOrdered || s == StatusPartiallyReceived
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusReceived || s == StatusCancelled }

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusOrdered, StatusPartiallyReceived, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// PurchaseOrder is an inbound supply document. Receiving is the only
// operation with a stock effect: one IN per received line at the
// destination location.
type PurchaseOrder struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	LocationID int64      `json:"location_id"`
	SupplierID int64      `json:"supplier_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	OrderedAt  *time.Time `json:"ordered_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines,omitempty"`
}

// Line carries the ordered quantity and the cumulative received counter.
// ReceivedQty never exceeds OrderedQty.
type Line struct {
	ID          int64 `json:"id"`
	OrderID     int64 `json:"order_id"`
	ItemID      int64 `json:"item_id"`
	OrderedQty  int64 `json:"ordered_qty"`
	ReceivedQty int64 `json:"received_qty"`
}

// LineInput is a requested line on creation.
type LineInput struct {
	ItemID int64 `json:"item_id"`
	Qty    int64 `json:"qty"`
}

// ReceiptLine is one received quantity in a receive call.
type ReceiptLine struct {
	ItemID int64 `json:"item_id"`
	Qty    int64 `json:"qty"`
}

// CreateInput is the draft creation payload.
type CreateInput struct {
	LocationID int64       `json:"location_id"`
	SupplierID int64       `json:"supplier_id"`
	Note       string      `json:"note"`
	Lines      []LineInput `json:"lines"`
	ActorID    int64       `json:"actor_id"`
}
