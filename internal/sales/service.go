package sales

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
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	CreateSale(ctx context.Context, s Sale) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, postedAt *time.Time) error
	UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Sale, error)
	List(ctx context.Context, limit int) ([]Sale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards posting operations against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the sale lifecycle.
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

// Get loads one sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent sales.
func (s *Service) List(ctx context.Context, limit int) ([]Sale, error) {
	return s.repo.List(ctx, limit)
}

// CreateDraft creates a DRAFT sale. No stock effect until posted.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput) (Sale, error) {
	if input.LocationID == 0 {
		return Sale{}, shared.NewValidationError("location_id", "required")
	}
	if err := validateLines(input.Lines); err != nil {
		return Sale{}, err
	}
	number, err := s.numbers.Next(ctx, "SAL")
	if err != nil {
		return Sale{}, err
	}
	var created Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale := Sale{
			Number:     number,
			Status:     StatusDraft,
			LocationID: input.LocationID,
			CustomerID: input.CustomerID,
			Note:       input.Note,
		}
		id, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		for _, in := range input.Lines {
			line := Line{SaleID: id, ItemID: in.ItemID, OrderedQty: in.Qty}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			sale.Lines = append(sale.Lines, line)
		}
		created = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SALE_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// Post moves a DRAFT sale to POSTED, applying one OUT per line at the sale's
// location. Every line is checked against the locked balances before any
// movement is applied; any shortfall aborts the whole post.
func (s *Service) Post(ctx context.Context, id int64, idemKey string, actorID int64) (Sale, error) {
	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "sales"); err != nil {
			return Sale{}, err
		}
	}
	var result Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sale.Status.CanPost() {
			return shared.NewConflictError("sale %s cannot post from status %s", sale.Number, sale.Status)
		}
		if len(sale.Lines) == 0 {
			return shared.NewValidationError("lines", "sale has no lines")
		}
		lt := tx.Ledger()
		itemIDs := make([]int64, len(sale.Lines))
		for i, line := range sale.Lines {
			itemIDs[i] = line.ItemID
		}
		balances, err := lt.BalancesForUpdate(ctx, sale.LocationID, itemIDs)
		if err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if balances[line.ItemID] < line.OrderedQty {
				return &shared.InsufficientQuantityError{
					LocationID: sale.LocationID,
					ItemID:     line.ItemID,
					Available:  balances[line.ItemID],
					Requested:  line.OrderedQty,
				}
			}
		}
		for _, line := range sale.Lines {
			if _, _, err := lt.Apply(ctx, ledger.MovementInput{
				Kind:       ledger.MovementOut,
				LocationID: sale.LocationID,
				ItemID:     line.ItemID,
				Qty:        -line.OrderedQty,
				RefKind:    ledger.RefSale,
				RefID:      sale.Number,
				ActorID:    actorID,
			}); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.UpdateStatus(ctx, sale.ID, StatusPosted, &now); err != nil {
			return err
		}
		sale.Status = StatusPosted
		sale.PostedAt = &now
		result = sale
		return nil
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Sale{}, err
	}
	if s.cache != nil {
		itemIDs := make([]int64, len(result.Lines))
		for i, line := range result.Lines {
			itemIDs[i] = line.ItemID
		}
		s.cache.Invalidate(ctx, result.LocationID, itemIDs...)
	}
	s.recordAudit(ctx, actorID, "SALE_POST", result.ID, map[string]any{"number": result.Number})
	return result, nil
}

// Cancel moves a DRAFT sale to CANCELLED. No stock effect.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Sale, error) {
	var result Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sale.Status.CanCancel() {
			return shared.NewConflictError("sale %s cannot cancel from status %s", sale.Number, sale.Status)
		}
		if err := tx.UpdateStatus(ctx, sale.ID, StatusCancelled, nil); err != nil {
			return err
		}
		sale.Status = StatusCancelled
		result = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, "SALE_CANCEL", result.ID, map[string]any{"number": result.Number})
	return result, nil
}

// RecordDelivered adds delivered quantities onto sale lines inside an open
// delivery transaction. The cumulative delivered counter may never exceed
// the ordered quantity; a violating line fails without clamping.
func (s *Service) RecordDelivered(ctx context.Context, tx TxRepository, saleID int64, delivered map[int64]int64) error {
	sale, err := tx.GetForUpdate(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status != StatusPosted {
		return shared.NewConflictError("sale %s is not posted", sale.Number)
	}
	lines := make(map[int64]*Line, len(sale.Lines))
	for i := range sale.Lines {
		lines[sale.Lines[i].ItemID] = &sale.Lines[i]
	}
	for itemID, qty := range delivered {
		line, ok := lines[itemID]
		if !ok {
			return shared.NewValidationError("lines", fmt.Sprintf("item %d is not on sale %s", itemID, sale.Number))
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
			return shared.NewConflictError("duplicate item %d in sale lines", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sale", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
