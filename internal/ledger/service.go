package ledger

import (
	"context"
	"fmt"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Tx groups the ledger operations available inside one atomic unit of work.
// Document workflows receive a Tx from their own repositories so their
// status writes and stock effects commit together.
type Tx interface {
	Apply(ctx context.Context, input MovementInput) (Movement, Balance, error)
	Balances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error)
	BalancesForUpdate(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error)
	Set(ctx context.Context, locationID, itemID, qty int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetBalance(ctx context.Context, locationID, itemID int64) (int64, error)
	GetBalances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error)
	ListBalances(ctx context.Context, locationID int64) ([]Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *BalanceCache
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *BalanceCache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// ApplyMovement posts a single movement in its own unit of work.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (Movement, Balance, error) {
	if err := input.Validate(); err != nil {
		return Movement{}, Balance{}, err
	}
	var (
		movement Movement
		balance  Balance
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		movement, balance, err = tx.Apply(ctx, input)
		return err
	})
	if err != nil {
		return Movement{}, Balance{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, input.LocationID, input.ItemID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("stock:%s", input.Kind),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"location_id": input.LocationID,
				"item_id":     input.ItemID,
				"qty":         input.Qty,
				"ref_kind":    input.RefKind,
				"note":        input.Note,
			},
		})
	}
	return movement, balance, nil
}

// GetBalance returns the on-hand quantity, 0 for an unknown pairing.
func (s *Service) GetBalance(ctx context.Context, locationID, itemID int64) (int64, error) {
	if locationID == 0 || itemID == 0 {
		return 0, shared.NewValidationError("location_id/item_id", "required")
	}
	return s.repo.GetBalance(ctx, locationID, itemID)
}

// GetBalances batch-reads quantities with 0 defaults; never an error for an
// item lacking a balance row.
func (s *Service) GetBalances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	if locationID == 0 {
		return nil, shared.NewValidationError("location_id", "required")
	}
	if len(itemIDs) == 0 {
		return map[int64]int64{}, nil
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, locationID, itemIDs); ok {
			return cached, nil
		}
	}
	balances, err := s.repo.GetBalances(ctx, locationID, itemIDs)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Store(ctx, locationID, balances)
	}
	return balances, nil
}

// ListBalances returns all balances held at one location.
func (s *Service) ListBalances(ctx context.Context, locationID int64) ([]Balance, error) {
	if locationID == 0 {
		return nil, shared.NewValidationError("location_id", "required")
	}
	return s.repo.ListBalances(ctx, locationID)
}

// ListMovements returns ledger entries for traceability.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.LocationID == 0 && filter.TransferID == 0 && filter.InventoryID == 0 {
		return nil, shared.NewValidationError("filter", "location, transfer or inventory filter required")
	}
	return s.repo.ListMovements(ctx, filter)
}
