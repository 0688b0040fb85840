package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	CreateOrder(ctx context.Context, o Order) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, confirmedAt *time.Time) error
	UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, limit int) ([]Order, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the order lifecycle.
type Service struct {
	repo    RepositoryPort
	numbers shared.NumberAllocator
	audit   AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, numbers shared.NumberAllocator, audit AuditPort) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit}
}

// Get loads one order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent orders.
func (s *Service) List(ctx context.Context, limit int) ([]Order, error) {
	return s.repo.List(ctx, limit)
}

// CreateDraft creates a DRAFT order.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput) (Order, error) {
	if input.LocationID == 0 {
		return Order{}, shared.NewValidationError("location_id", "required")
	}
	if err := validateLines(input.Lines); err != nil {
		return Order{}, err
	}
	number, err := s.numbers.Next(ctx, "ORD")
	if err != nil {
		return Order{}, err
	}
	var created Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o := Order{
			Number:     number,
			Status:     StatusDraft,
			LocationID: input.LocationID,
			CustomerID: input.CustomerID,
			Note:       input.Note,
		}
		id, err := tx.CreateOrder(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		for _, in := range input.Lines {
			line := Line{OrderID: id, ItemID: in.ItemID, OrderedQty: in.Qty}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			o.Lines = append(o.Lines, line)
		}
		created = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ORDER_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// SetStatus applies a transition validated against the allowed table.
func (s *Service) SetStatus(ctx context.Context, id int64, next Status, actorID int64) (Order, error) {
	if !next.IsValid() {
		return Order{}, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	var result Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !o.Status.CanTransition(next) {
			return shared.NewConflictError("order %s cannot move from %s to %s", o.Number, o.Status, next)
		}
		var confirmedAt *time.Time
		if next == StatusConfirmed {
			now := time.Now().UTC()
			confirmedAt = &now
		}
		if err := tx.UpdateStatus(ctx, o.ID, next, confirmedAt); err != nil {
			return err
		}
		o.Status = next
		if confirmedAt != nil {
			o.ConfirmedAt = confirmedAt
		}
		result = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actorID, fmt.Sprintf("ORDER_%s", result.Status), result.ID, map[string]any{"number": result.Number})
	return result, nil
}

// RecordDelivered adds delivered quantities onto order lines inside an open
// delivery transaction. The cumulative delivered counter may never exceed
// the ordered quantity; a violating line fails without clamping.
func (s *Service) RecordDelivered(ctx context.Context, tx TxRepository, orderID int64, delivered map[int64]int64) error {
	o, err := tx.GetForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusDraft || o.Status.Terminal() {
		return shared.NewConflictError("order %s cannot accept deliveries in status %s", o.Number, o.Status)
	}
	lines := make(map[int64]*Line, len(o.Lines))
	for i := range o.Lines {
		lines[o.Lines[i].ItemID] = &o.Lines[i]
	}
	for itemID, qty := range delivered {
		line, ok := lines[itemID]
		if !ok {
			return shared.NewValidationError("lines", fmt.Sprintf("item %d is not on order %s", itemID, o.Number))
		}
		if line.DeliveredQty+qty > line.OrderedQty {
			return shared.NewConflictError("item %d: delivered %d + %d exceeds ordered %d",
				itemID, line.DeliveredQty, qty, line.OrderedQty)
		}
	}
	for itemID, qty := range delivered {
		if qty == 0 {
			continue
		}
		line := lines[itemID]
		line.DeliveredQty += qty
		if err := tx.UpdateLineDelivered(ctx, line.ID, line.DeliveredQty); err != nil {
			return err
		}
	}
	return nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return shared.NewValidationError("lines", "at least one line required")
	}
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == 0 {
			return shared.NewValidationError("item_id", "required")
		}
		if line.Qty <= 0 {
			return shared.NewValidationError("qty", "ordered quantity must be positive")
		}
		if _, dup := seen[line.ItemID]; dup {
			return shared.NewConflictError("duplicate item %d in order lines", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
