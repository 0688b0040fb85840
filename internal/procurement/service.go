package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Ledger() ledger.Tx
	GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, orderedAt *time.Time) error
	UpdateLineReceived(ctx context.Context, lineID, received int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, limit int) ([]PurchaseOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards receive calls against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo    RepositoryPort
	numbers shared.NumberAllocator
	audit   AuditPort
	idem    IdempotencyPort
	cache   *ledger.BalanceCache
}

// NewService builds Service.
func NewService(repo RepositoryPort, numbers shared.NumberAllocator, audit AuditPort, idem IdempotencyPort, cache *ledger.BalanceCache) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit, idem: idem, cache: cache}
}

// Get loads one purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent purchase orders.
func (s *Service) List(ctx context.Context, limit int) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, limit)
}

// CreateDraft creates a DRAFT purchase order. No stock effect until received.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.LocationID == 0 {
		return PurchaseOrder{}, shared.NewValidationError("location_id", "required")
	}
	if err := validateLines(input.Lines); err != nil {
		return PurchaseOrder{}, err
	}
	number, err := s.numbers.Next(ctx, "PO")
	if err != nil {
		return PurchaseOrder{}, err
	}
	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po := PurchaseOrder{
			Number:     number,
			Status:     StatusDraft,
			LocationID: input.LocationID,
			SupplierID: input.SupplierID,
			Note:       input.Note,
		}
		id, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, in := range input.Lines {
			line := Line{OrderID: id, ItemID: in.ItemID, OrderedQty: in.Qty}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			po.Lines = append(po.Lines, line)
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// SetStatus applies a direct transition. Receiving statuses are recomputed
// by Receive and refused here.
func (s *Service) SetStatus(ctx context.Context, id int64, next Status, actorID int64) (PurchaseOrder, error) {
	if !next.IsValid() {
		return PurchaseOrder{}, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	if next == StatusPartiallyReceived || next == StatusReceived {
		return PurchaseOrder{}, shared.NewValidationError("status", "receiving statuses are set by receiving goods")
	}
	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.CanTransition(next) {
			return shared.NewConflictError("purchase order %s cannot move from %s to %s", po.Number, po.Status, next)
		}
		var orderedAt *time.Time
		if next == StatusOrdered {
			now := time.Now().UTC()
			orderedAt = &now
		}
		if err := tx.UpdateStatus(ctx, po.ID, next, orderedAt); err != nil {
			return err
		}
		po.Status = next
		if orderedAt != nil {
			po.OrderedAt = orderedAt
		}
		result = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, fmt.Sprintf("PO_%s", result.Status), result.ID, map[string]any{"number": result.Number})
	return result, nil
}

// Receive records received quantities per line, applying one IN per line at
// the order's location. The cumulative received quantity may never exceed
// the ordered quantity; a violating line fails the whole call before any
// movement. Status recomputes to RECEIVED only when every line is full.
func (s *Service) Receive(ctx context.Context, id int64, receipt []ReceiptLine, idemKey string, actorID int64) (PurchaseOrder, error) {
	if len(receipt) == 0 {
		return PurchaseOrder{}, shared.NewValidationError("lines", "at least one line required")
	}
	received := make(map[int64]int64, len(receipt))
	for _, rl := range receipt {
		if rl.Qty < 0 {
			return PurchaseOrder{}, shared.NewValidationError("qty", "received quantity must be >= 0")
		}
		if _, dup := received[rl.ItemID]; dup {
			return PurchaseOrder{}, shared.NewConflictError("duplicate item %d in receipt", rl.ItemID)
		}
		received[rl.ItemID] = rl.Qty
	}
	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "procurement"); err != nil {
			return PurchaseOrder{}, err
		}
	}
	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.CanReceive() {
			return shared.NewConflictError("purchase order %s cannot receive in status %s", po.Number, po.Status)
		}
		lines := make(map[int64]*Line, len(po.Lines))
		for i := range po.Lines {
			lines[po.Lines[i].ItemID] = &po.Lines[i]
		}
		var total int64
		for itemID, qty := range received {
			line, ok := lines[itemID]
			if !ok {
				return shared.NewValidationError("lines", fmt.Sprintf("item %d is not on purchase order %s", itemID, po.Number))
			}
			if line.ReceivedQty+qty > line.OrderedQty {
				return shared.NewConflictError("item %d: received %d + %d exceeds ordered %d",
					itemID, line.ReceivedQty, qty, line.OrderedQty)
			}
			total += qty
		}
		if total == 0 {
			return shared.NewValidationError("lines", "nothing to receive")
		}
		lt := tx.Ledger()
		for _, line := range po.Lines {
			qty := received[line.ItemID]
			if qty == 0 {
				continue
			}
			if _, _, err := lt.Apply(ctx, ledger.MovementInput{
				Kind:       ledger.MovementIn,
				LocationID: po.LocationID,
				ItemID:     line.ItemID,
				Qty:        qty,
				RefKind:    ledger.RefPurchaseReceipt,
				RefID:      po.Number,
				ActorID:    actorID,
			}); err != nil {
				return err
			}
		}
		complete := true
		for i := range po.Lines {
			line := &po.Lines[i]
			if qty := received[line.ItemID]; qty > 0 {
				line.ReceivedQty += qty
				if err := tx.UpdateLineReceived(ctx, line.ID, line.ReceivedQty); err != nil {
					return err
				}
			}
			if line.ReceivedQty < line.OrderedQty {
				complete = false
			}
		}
		next := StatusPartiallyReceived
		if complete {
			next = StatusReceived
		}
		if err := tx.UpdateStatus(ctx, po.ID, next, nil); err != nil {
			return err
		}
		po.Status = next
		result = po
		return nil
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return PurchaseOrder{}, err
	}
	if s.cache != nil {
		itemIDs := make([]int64, len(result.Lines))
		for i, line := range result.Lines {
			itemIDs[i] = line.ItemID
		}
		s.cache.Invalidate(ctx, result.LocationID, itemIDs...)
	}
	s.recordAudit(ctx, actorID, "PO_RECEIVE", result.ID, map[string]any{"number": result.Number, "status": result.Status})
	return result, nil
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
			return shared.NewConflictError("duplicate item %d in purchase order lines", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
