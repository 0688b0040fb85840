package transfers

import (
	"time"
)

// Status enumerates the transfer lifecycle. RECEIVED is terminal.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusShipped           Status = "SHIPPED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
)

// CanShip reports whether the transfer may be shipped.
func (s Status) CanShip() bool {
	return s == StatusDraft
}

// CanReceive reports whether the transfer may accept received quantities.
func (s Status) CanReceive() bool {
	return s == StatusShipped || s == StatusPartiallyReceived
}

// Transfer is a stock relocation document. A two-leg journey is a pair of
// transfers sharing one journey id, routed through the in-transit location.
type Transfer struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	Status        Status     `json:"status"`
	SourceID      int64      `json:"source_id"`
	DestinationID int64      `json:"destination_id"`
	JourneyID     string     `json:"journey_id,omitempty"`
	Purpose       string     `json:"purpose"`
	Note          string     `json:"note,omitempty"`
	ShippedAt     *time.Time `json:"shipped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Lines         []Line     `json:"lines,omitempty"`
}

// Line tracks one item's requested and cumulative received quantity.
// ReceivedQty never exceeds RequestedQty.
type Line struct {
	ID           int64 `json:"id"`
	TransferID   int64 `json:"transfer_id"`
	ItemID       int64 `json:"item_id"`
	RequestedQty int64 `json:"requested_qty"`
	ReceivedQty  int64 `json:"received_qty"`
}

// LineInput describes a requested line at creation time.
type LineInput struct {
	ItemID int64
	Qty    int64
}

// ReceiptLine carries a received quantity for one item.
type ReceiptLine struct {
	ItemID int64
	Qty    int64
}

// CreateInput describes a transfer draft request.
type CreateInput struct {
	SourceID      int64
	DestinationID int64
	Purpose       string
	Note          string
	Lines         []LineInput
	ActorID       int64
}

// Journey groups the two legs of a source to destination move through the
// in-transit buffer.
type Journey struct {
	ID   string   `json:"id"`
	LegA Transfer `json:"leg_a"`
	LegB Transfer `json:"leg_b"`
}
