package transfers

import (
	"context"
	"time"
)

// StatusChangedEvent is emitted after a transfer commits a status change.
// Consumers (e.g. a delivery document referencing the transfer) mirror it as
// an audit trail; stock never changes from that side.
type StatusChangedEvent struct {
	TransferID int64     `json:"transfer_id"`
	JourneyID  string    `json:"journey_id,omitempty"`
	Status     Status    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventSink receives transfer domain events.
type EventSink interface {
	TransferStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}
