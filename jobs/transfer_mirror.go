package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// DeliveryMirror records a transfer status change on the delivery that
// references the transfer.
type DeliveryMirror interface {
	RecordTransferEvent(ctx context.Context, transferID int64, status, note string) error
}

// TransferMirrorJob consumes transfer status events and writes them onto
// linked deliveries as audit events.
type TransferMirrorJob struct {
	mirror DeliveryMirror
	logger *slog.Logger
}

// NewTransferMirrorJob constructs the job.
func NewTransferMirrorJob(mirror DeliveryMirror, logger *slog.Logger) *TransferMirrorJob {
	return &TransferMirrorJob{mirror: mirror, logger: logger}
}

// Handle processes TaskTransferStatusMirror tasks.
func (j *TransferMirrorJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload TransferStatusMirrorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := j.mirror.RecordTransferEvent(ctx, payload.TransferID, payload.Status, payload.Note); err != nil {
		if j.logger != nil {
			j.logger.Warn("transfer mirror",
				slog.Int64("transfer_id", payload.TransferID),
				slog.String("status", payload.Status),
				slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("transfer status mirrored",
			slog.Int64("transfer_id", payload.TransferID),
			slog.String("status", payload.Status))
	}
	return nil
}
