package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries event-driven work such as transfer mirrors.
	QueueDefault = "default"
	// QueueMaintenance carries scheduled sweeps so a burst of mirrors never
	// starves them, and vice versa.
	QueueMaintenance = "maintenance"
	// TaskTransferStatusMirror mirrors a transfer status change onto the
	// delivery referencing that transfer.
	TaskTransferStatusMirror = "transfer:status_mirror"
	// TaskStockIntegrityScan compares stored balances against movement sums.
	TaskStockIntegrityScan = "stock:integrity_scan"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// TransferStatusMirrorPayload carries one transfer status change.
type TransferStatusMirrorPayload struct {
	TransferID int64     `json:"transfer_id"`
	JourneyID  string    `json:"journey_id,omitempty"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTransferStatusMirrorTask constructs an Asynq task.
func NewTransferStatusMirrorTask(payload TransferStatusMirrorPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransferStatusMirror, data), nil
}

// StockIntegrityScanPayload bounds one integrity scan run.
type StockIntegrityScanPayload struct {
	// LocationID restricts the scan to one location; zero scans all.
	LocationID int64 `json:"location_id,omitempty"`
}

// NewStockIntegrityScanTask constructs an Asynq task.
func NewStockIntegrityScanTask(payload StockIntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrityScan, data, asynq.Queue(QueueMaintenance)), nil
}

// IdempotencyCleanupPayload sets the retention window for processed keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueMaintenance)), nil
}
