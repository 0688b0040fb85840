package delivery

import "time"

// Status is the delivery lifecycle state. A partially delivered run may go
// back out for another attempt; DELIVERED, FAILED and CANCELLED are
// terminal.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusPrepared           Status = "PREPARED"
	StatusOutForDelivery     Status = "OUT_FOR_DELIVERY"
	StatusPartiallyDelivered Status = "PARTIALLY_DELIVERED"
	StatusDelivered          Status = "DELIVERED"
	StatusFailed             Status = "FAILED"
	StatusCancelled          Status = "CANCELLED"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft:          {StatusPrepared: true, StatusCancelled: true},
	StatusPrepared:       {StatusOutForDelivery: true, StatusCancelled: true},
	StatusOutForDelivery: {StatusPartiallyDelivered: true, StatusDelivered: true, StatusFailed: true, StatusCancelled: true},
	StatusPartiallyDelivered: {
		StatusOutForDelivery: true, StatusDelivered: true, StatusFailed: true, StatusCancelled: true,
	},
}

// CanTransition reports whether next is reachable from s.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPrepared, StatusOutForDelivery, StatusPartiallyDelivered, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// OriginKind names which document a delivery fulfils. The creation payload
// resolves to exactly one variant at the boundary; the engine only ever sees
// this single representation.
type OriginKind string

const (
	OriginSale       OriginKind = "SALE"
	OriginOrder      OriginKind = "ORDER"
	OriginStandalone OriginKind = "STANDALONE"
)

// IsValid reports whether k is a known origin kind.
func (k OriginKind) IsValid() bool {
	switch k {
	case OriginSale, OriginOrder, OriginStandalone:
		return true
	}
	return false
}

// Delivery is an outbound run fulfilling a sale, an order, or nothing.
// It references at most one transfer for traceability; transfer status
// changes are mirrored here as events, never as stock effects.
type Delivery struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	OriginKind OriginKind `json:"origin_kind"`
	OriginID   int64      `json:"origin_id,omitempty"`
	TransferID int64      `json:"transfer_id,omitempty"`
	Address    string     `json:"address,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines,omitempty"`
	Events     []Event    `json:"events,omitempty"`
}

// Line carries the planned quantity and the cumulative delivered counter.
// DeliveredQty never exceeds Qty.
type Line struct {
	ID           int64 `json:"id"`
	DeliveryID   int64 `json:"delivery_id"`
	ItemID       int64 `json:"item_id"`
	Qty          int64 `json:"qty"`
	DeliveredQty int64 `json:"delivered_qty"`
}

// Event is one entry in the delivery's audit trail: status changes and
// mirrored transfer updates.
type Event struct {
	ID         int64     `json:"id"`
	DeliveryID int64     `json:"delivery_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event kinds.
const (
	EventStatus   = "STATUS"
	EventTransfer = "TRANSFER"
)

// LineInput is a requested line on creation.
type LineInput struct {
	ItemID int64 `json:"item_id"`
	Qty    int64 `json:"qty"`
}

// DeliveredLine is one delivered quantity reported with a status change.
type DeliveredLine struct {
	ItemID int64 `json:"item_id"`
	Qty    int64 `json:"qty"`
}

// CreateInput is the resolved creation payload. OriginID is a sale id for
// OriginSale, an order id for OriginOrder, and zero for OriginStandalone.
type CreateInput struct {
	OriginKind OriginKind  `json:"origin_kind"`
	OriginID   int64       `json:"origin_id"`
	TransferID int64       `json:"transfer_id"`
	Address    string      `json:"address"`
	Note       string      `json:"note"`
	Lines      []LineInput `json:"lines"`
	ActorID    int64       `json:"actor_id"`
}
