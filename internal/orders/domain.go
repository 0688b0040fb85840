package orders

import "time"

// Status is the order lifecycle state. The happy path runs straight through
// to DELIVERED; CANCELLED is reachable from every non-terminal state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusPrepared  Status = "PREPARED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft:     {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPrepared: true, StatusCancelled: true},
	StatusPrepared:  {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
}

// CanTransition reports whether next is reachable from s.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusConfirmed, StatusPrepared, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is a customer order. It carries no stock effect of its own:
// fulfillment quantities are driven by linked deliveries.
type Order struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	Status      Status     `json:"status"`
	LocationID  int64      `json:"location_id"`
	CustomerID  int64      `json:"customer_id,omitempty"`
	Note        string     `json:"note,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Lines       []Line     `json:"lines,omitempty"`
}

// Line carries the ordered quantity and the cumulative delivered counter
// maintained by linked deliveries. DeliveredQty never exceeds OrderedQty.
type Line struct {
	ID           int64 `json:"id"`
	OrderID      int64 `json:"order_id"`
	ItemID       int64 `json:"item_id"`
	OrderedQty   int64 `json:"ordered_qty"`
	DeliveredQty int64 `json:"delivered_qty"`
}

// LineInput is a requested line on creation.
type LineInput struct {
	ItemID int64 `json:"item_id"`
	Qty    int64 `json:"qty"`
}

// CreateInput is the draft creation payload.
type CreateInput struct {
	LocationID int64       `json:"location_id"`
	CustomerID int64       `json:"customer_id"`
	Note       string      `json:"note"`
	Lines      []LineInput `json:"lines"`
	ActorID    int64       `json:"actor_id"`
}
