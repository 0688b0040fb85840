package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/caravel-erp/caravel-erp/internal/orders"
	"github.com/caravel-erp/caravel-erp/internal/sales"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TxRepository exposes transactional operations used by the service. Sales
// and Orders bind the originating document's repository to the same
// transaction, so fulfillment counters commit with the delivery status.
type TxRepository interface {
	Sales() sales.TxRepository
	Orders() orders.TxRepository
	GetForUpdate(ctx context.Context, id int64) (Delivery, error)
	GetByTransferForUpdate(ctx context.Context, transferID int64) (Delivery, error)
	CreateDelivery(ctx context.Context, d Delivery) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error
	InsertEvent(ctx context.Context, e Event) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Delivery, error)
	List(ctx context.Context, limit int) ([]Delivery, error)
}

// SalesPort applies fulfillment onto an originating sale.
type SalesPort interface {
	Get(ctx context.Context, id int64) (sales.Sale, error)
	RecordDelivered(ctx context.Context, tx sales.TxRepository, saleID int64, delivered map[int64]int64) error
}

// OrdersPort applies fulfillment onto an originating order.
type OrdersPort interface {
	Get(ctx context.Context, id int64) (orders.Order, error)
	RecordDelivered(ctx context.Context, tx orders.TxRepository, orderID int64, delivered map[int64]int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the delivery lifecycle.
type Service struct {
	repo    RepositoryPort
	sales   SalesPort
	orders  OrdersPort
	numbers shared.NumberAllocator
	audit   AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, salesPort SalesPort, ordersPort OrdersPort, numbers shared.NumberAllocator, audit AuditPort) *Service {
	return &Service{repo: repo, sales: salesPort, orders: ordersPort, numbers: numbers, audit: audit}
}

// Get loads one delivery with its lines and events.
func (s *Service) Get(ctx context.Context, id int64) (Delivery, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent deliveries.
func (s *Service) List(ctx context.Context, limit int) ([]Delivery, error) {
	return s.repo.List(ctx, limit)
}

// Create creates a DRAFT delivery from a resolved origin. For a sale or
// order origin an empty line list defaults to the document's undelivered
// remainder; explicit lines must stay within it.
func (s *Service) Create(ctx context.Context, input CreateInput) (Delivery, error) {
	if !input.OriginKind.IsValid() {
		return Delivery{}, shared.NewValidationError("origin_kind", fmt.Sprintf("unknown origin kind %q", input.OriginKind))
	}
	lines, err := s.resolveLines(ctx, input)
	if err != nil {
		return Delivery{}, err
	}
	number, err := s.numbers.Next(ctx, "DLV")
	if err != nil {
		return Delivery{}, err
	}
	var created Delivery
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d := Delivery{
			Number:     number,
			Status:     StatusDraft,
			OriginKind: input.OriginKind,
			OriginID:   input.OriginID,
			TransferID: input.TransferID,
			Address:    input.Address,
			Note:       input.Note,
		}
		id, err := tx.CreateDelivery(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		for _, in := range lines {
			line := Line{DeliveryID: id, ItemID: in.ItemID, Qty: in.Qty}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			d.Lines = append(d.Lines, line)
		}
		if err := tx.InsertEvent(ctx, Event{DeliveryID: id, Kind: EventStatus, Status: string(StatusDraft), Message: input.Note}); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, input.ActorID, "DELIVERY_CREATE", created.ID, map[string]any{"number": created.Number, "origin": created.OriginKind})
	return created, nil
}

// SetStatus applies a transition validated against the allowed table.
// Entering PARTIALLY_DELIVERED or DELIVERED applies the reported delivered
// quantities onto the delivery's lines and, for a sale or order origin,
// onto the originating document's lines. Exceeding any ordered quantity is
// a conflict; nothing is clamped and nothing is applied.
func (s *Service) SetStatus(ctx context.Context, id int64, next Status, message string, delivered []DeliveredLine, actorID int64) (Delivery, error) {
	if !next.IsValid() {
		return Delivery{}, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	reported := make(map[int64]int64, len(delivered))
	for _, dl := range delivered {
		if dl.Qty < 0 {
			return Delivery{}, shared.NewValidationError("qty", "delivered quantity must be >= 0")
		}
		if _, dup := reported[dl.ItemID]; dup {
			return Delivery{}, shared.NewConflictError("duplicate item %d in delivered lines", dl.ItemID)
		}
		reported[dl.ItemID] = dl.Qty
	}
	var result Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(next) {
			return shared.NewConflictError("delivery %s cannot move from %s to %s", d.Number, d.Status, next)
		}
		if next == StatusPartiallyDelivered || next == StatusDelivered {
			if err := s.applyDelivered(ctx, tx, &d, next, reported); err != nil {
				return err
			}
		}
		if err := tx.UpdateStatus(ctx, d.ID, next); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, Event{DeliveryID: d.ID, Kind: EventStatus, Status: string(next), Message: message}); err != nil {
			return err
		}
		d.Status = next
		result = d
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, actorID, fmt.Sprintf("DELIVERY_%s", result.Status), result.ID, map[string]any{"number": result.Number})
	return result, nil
}

// applyDelivered validates and applies reported quantities onto the
// delivery's own lines and forwards them to the originating document.
// DELIVERED with no explicit lines means the undelivered remainder.
func (s *Service) applyDelivered(ctx context.Context, tx TxRepository, d *Delivery, next Status, reported map[int64]int64) error {
	lines := make(map[int64]*Line, len(d.Lines))
	for i := range d.Lines {
		lines[d.Lines[i].ItemID] = &d.Lines[i]
	}
	if len(reported) == 0 {
		if next != StatusDelivered {
			return shared.NewValidationError("lines", "delivered lines required")
		}
		reported = make(map[int64]int64, len(d.Lines))
		for _, line := range d.Lines {
			if remaining := line.Qty - line.DeliveredQty; remaining > 0 {
				reported[line.ItemID] = remaining
			}
		}
	}
	var total int64
	for itemID, qty := range reported {
		line, ok := lines[itemID]
		if !ok {
			return shared.NewValidationError("lines", fmt.Sprintf("item %d is not on delivery %s", itemID, d.Number))
		}
		if line.DeliveredQty+qty > line.Qty {
			return shared.NewConflictError("item %d: delivered %d + %d exceeds planned %d",
				itemID, line.DeliveredQty, qty, line.Qty)
		}
		total += qty
	}
	if total == 0 {
		return shared.NewValidationError("lines", "nothing delivered")
	}
	switch d.OriginKind {
	case OriginSale:
		if err := s.sales.RecordDelivered(ctx, tx.Sales(), d.OriginID, reported); err != nil {
			return err
		}
	case OriginOrder:
		if err := s.orders.RecordDelivered(ctx, tx.Orders(), d.OriginID, reported); err != nil {
			return err
		}
	}
	for itemID, qty := range reported {
		if qty == 0 {
			continue
		}
		line := lines[itemID]
		line.DeliveredQty += qty
		if err := tx.UpdateLineDelivered(ctx, line.ID, line.DeliveredQty); err != nil {
			return err
		}
	}
	if next == StatusDelivered {
		for _, line := range d.Lines {
			if line.DeliveredQty < line.Qty {
				return shared.NewConflictError("delivery %s cannot complete: item %d delivered %d of %d",
					d.Number, line.ItemID, line.DeliveredQty, line.Qty)
			}
		}
	}
	return nil
}

// RecordTransferEvent mirrors a transfer status change onto the delivery
// referencing that transfer, as an audit event only. A transfer without a
// linked delivery is not an error.
func (s *Service) RecordTransferEvent(ctx context.Context, transferID int64, status, note string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetByTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, Event{DeliveryID: d.ID, Kind: EventTransfer, Status: status, Message: note})
	})
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// resolveLines validates the origin variant and returns the lines the draft
// will carry.
func (s *Service) resolveLines(ctx context.Context, input CreateInput) ([]LineInput, error) {
	switch input.OriginKind {
	case OriginStandalone:
		if input.OriginID != 0 {
			return nil, shared.NewValidationError("origin_id", "standalone deliveries carry no origin document")
		}
		if err := validateLines(input.Lines); err != nil {
			return nil, err
		}
		return input.Lines, nil
	case OriginSale:
		sale, err := s.sales.Get(ctx, input.OriginID)
		if err != nil {
			return nil, err
		}
		if sale.Status != sales.StatusPosted {
			return nil, shared.NewConflictError("sale %s is not posted", sale.Number)
		}
		remainder := make(map[int64]int64, len(sale.Lines))
		for _, line := range sale.Lines {
			remainder[line.ItemID] = line.OrderedQty - line.DeliveredQty
		}
		return linesWithinRemainder(input.Lines, remainder, "sale "+sale.Number)
	case OriginOrder:
		order, err := s.orders.Get(ctx, input.OriginID)
		if err != nil {
			return nil, err
		}
		if order.Status == orders.StatusDraft || order.Status.Terminal() {
			return nil, shared.NewConflictError("order %s cannot be delivered in status %s", order.Number, order.Status)
		}
		remainder := make(map[int64]int64, len(order.Lines))
		for _, line := range order.Lines {
			remainder[line.ItemID] = line.OrderedQty - line.DeliveredQty
		}
		return linesWithinRemainder(input.Lines, remainder, "order "+order.Number)
	}
	return nil, shared.NewValidationError("origin_kind", "unsupported origin")
}

// linesWithinRemainder defaults empty input to the full remainder and
// checks explicit input against it.
func linesWithinRemainder(input []LineInput, remainder map[int64]int64, origin string) ([]LineInput, error) {
	if len(input) == 0 {
		result := make([]LineInput, 0, len(remainder))
		for itemID, qty := range remainder {
			if qty > 0 {
				result = append(result, LineInput{ItemID: itemID, Qty: qty})
			}
		}
		if len(result) == 0 {
			return nil, shared.NewConflictError("%s has nothing left to deliver", origin)
		}
		return result, nil
	}
	if err := validateLines(input); err != nil {
		return nil, err
	}
	for _, line := range input {
		max, ok := remainder[line.ItemID]
		if !ok {
			return nil, shared.NewValidationError("lines", fmt.Sprintf("item %d is not on %s", line.ItemID, origin))
		}
		if line.Qty > max {
			return nil, shared.NewConflictError("item %d: planned %d exceeds undelivered %d on %s",
				line.ItemID, line.Qty, max, origin)
		}
	}
	return input, nil
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
			return shared.NewValidationError("qty", "planned quantity must be positive")
		}
		if _, dup := seen[line.ItemID]; dup {
			return shared.NewConflictError("duplicate item %d in delivery lines", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "delivery", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
