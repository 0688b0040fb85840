package sales

import "time"

// Status is the sale lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// CanPost reports whether the sale may be posted.
func (s Status) CanPost() bool { return s == StatusDraft }

// CanCancel reports whether the sale may be cancelled.
func (s Status) CanCancel() bool { return s == StatusDraft }

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusPosted || s == StatusCancelled }

// Sale is a point-of-sale document. Posting is the only operation with a
// stock effect: one OUT per line at the sale's location.
type Sale struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	LocationID int64      `json:"location_id"`
	CustomerID int64      `json:"customer_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines,omitempty"`
}

// Line carries the ordered quantity and the cumulative delivered counter
// maintained by linked deliveries. DeliveredQty never exceeds OrderedQty.
type Line struct {
	ID           int64 `json:"id"`
	SaleID       int64 `json:"sale_id"`
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
