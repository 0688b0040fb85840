package integration

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/caravel-erp/caravel-erp/internal/transfers"
	"github.com/caravel-erp/caravel-erp/jobs"
)

// TaskEnqueuer submits transfer mirror tasks to the job queue.
type TaskEnqueuer interface {
	EnqueueTransferMirror(ctx context.Context, payload jobs.TransferStatusMirrorPayload) (*asynq.TaskInfo, error)
}

// Publisher forwards transfer domain events to the job queue. The stock
// engine never touches deliveries directly; the worker consumes these
// events and mirrors them onto any delivery referencing the transfer.
type Publisher struct {
	enqueuer TaskEnqueuer
	logger   *slog.Logger
}

// NewPublisher constructs the publisher.
func NewPublisher(enqueuer TaskEnqueuer, logger *slog.Logger) *Publisher {
	return &Publisher{enqueuer: enqueuer, logger: logger}
}

// TransferStatusChanged implements transfers.EventSink.
func (p *Publisher) TransferStatusChanged(ctx context.Context, e transfers.StatusChangedEvent) error {
	if p == nil || p.enqueuer == nil {
		return nil
	}
	_, err := p.enqueuer.EnqueueTransferMirror(ctx, jobs.TransferStatusMirrorPayload{
		TransferID: e.TransferID,
		JourneyID:  e.JourneyID,
		Status:     string(e.Status),
		Note:       e.Note,
		OccurredAt: e.OccurredAt,
	})
	if err != nil && p.logger != nil {
		p.logger.Warn("enqueue transfer mirror",
			slog.Int64("transfer_id", e.TransferID),
			slog.Any("error", err))
	}
	return err
}
