package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxLedger is the single writer of the balance store. It is always bound to
// one transaction so a movement and its balance update commit together.
type TxLedger struct {
	tx pgx.Tx
}

// NewTxLedger wraps an open transaction. Document repositories use this to
// route their stock effects through the ledger inside their own unit of work.
func NewTxLedger(tx pgx.Tx) *TxLedger {
	return &TxLedger{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxLedger(tx))
	})
}

// Apply reads the current balance under a row lock, enforces non-negativity
// and appends the movement. Both writes commit or roll back together with
// the enclosing transaction.
func (t *TxLedger) Apply(ctx context.Context, input MovementInput) (Movement, Balance, error) {
	if err := input.Validate(); err != nil {
		return Movement{}, Balance{}, err
	}
	current, err := t.lockBalance(ctx, input.LocationID, input.ItemID)
	if err != nil {
		return Movement{}, Balance{}, err
	}
	next := current + input.Qty
	if next < 0 {
		return Movement{}, Balance{}, &shared.InsufficientQuantityError{
			LocationID: input.LocationID,
			ItemID:     input.ItemID,
			Available:  current,
			Requested:  -input.Qty,
		}
	}
	balance := Balance{LocationID: input.LocationID, ItemID: input.ItemID, Qty: next}
	err = t.tx.QueryRow(ctx, `UPDATE stock_balances SET qty=$3, updated_at=NOW()
WHERE location_id=$1 AND item_id=$2
RETURNING updated_at`, input.LocationID, input.ItemID, next).Scan(&balance.UpdatedAt)
	if err != nil {
		return Movement{}, Balance{}, err
	}
	movement := Movement{
		Kind:        input.Kind,
		LocationID:  input.LocationID,
		ItemID:      input.ItemID,
		Qty:         input.Qty,
		RefKind:     input.RefKind,
		RefID:       input.RefID,
		TransferID:  input.TransferID,
		InventoryID: input.InventoryID,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO stock_movements (kind, location_id, item_id, qty, ref_kind, ref_id, transfer_id, inventory_id, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING id, created_at`,
		movement.Kind, movement.LocationID, movement.ItemID, movement.Qty,
		movement.RefKind, nullString(movement.RefID), nullInt(movement.TransferID),
		nullInt(movement.InventoryID), movement.Note, nullInt(movement.CreatedBy),
	).Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		return Movement{}, Balance{}, mapReferenceError(err)
	}
	return movement, balance, nil
}

// Balances reads current quantities without locking, 0 for missing rows.
// Used for snapshots where no write will follow in the same unit of work.
func (t *TxLedger) Balances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = 0
	}
	rows, err := t.tx.Query(ctx, `SELECT item_id, qty FROM stock_balances WHERE location_id=$1 AND item_id = ANY($2)`, locationID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID, qty int64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	return result, rows.Err()
}

// BalancesForUpdate locks and returns current quantities for a set of items
// at one location, defaulting to 0 for items without a balance row. Callers
// use it for batch sufficiency checks ahead of multi-line applies.
func (t *TxLedger) BalancesForUpdate(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(itemIDs))
	for _, itemID := range itemIDs {
		qty, err := t.lockBalance(ctx, locationID, itemID)
		if err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	return result, nil
}

// Set writes the balance to an absolute quantity. Used by inventory posting
// as the authoritative set after the reconciling movement documented the
// delta.
func (t *TxLedger) Set(ctx context.Context, locationID, itemID, qty int64) error {
	if qty < 0 {
		return shared.NewValidationError("qty", "balance cannot be negative")
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_balances (location_id, item_id, qty, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (location_id, item_id) DO UPDATE SET qty=EXCLUDED.qty, updated_at=NOW()`, locationID, itemID, qty)
	return mapReferenceError(err)
}

// lockBalance ensures the row exists (balances are created lazily on first
// movement) and acquires a row lock so concurrent sufficiency checks
// serialize instead of racing past each other.
func (t *TxLedger) lockBalance(ctx context.Context, locationID, itemID int64) (int64, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_balances (location_id, item_id, qty, updated_at)
VALUES ($1, $2, 0, NOW()) ON CONFLICT (location_id, item_id) DO NOTHING`, locationID, itemID)
	if err != nil {
		return 0, mapReferenceError(err)
	}
	var qty int64
	err = t.tx.QueryRow(ctx, `SELECT qty FROM stock_balances WHERE location_id=$1 AND item_id=$2 FOR UPDATE`, locationID, itemID).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// GetBalance returns the on-hand quantity, 0 when no balance row exists.
func (r *Repository) GetBalance(ctx context.Context, locationID, itemID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT qty FROM stock_balances WHERE location_id=$1 AND item_id=$2`, locationID, itemID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// GetBalances batch-reads quantities for one location, 0 for missing rows.
func (r *Repository) GetBalances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = 0
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, qty FROM stock_balances WHERE location_id=$1 AND item_id = ANY($2)`, locationID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID, qty int64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	return result, rows.Err()
}

// ListBalances returns every non-zero balance at one location.
func (r *Repository) ListBalances(ctx context.Context, locationID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT location_id, item_id, qty, updated_at FROM stock_balances WHERE location_id=$1 ORDER BY item_id ASC`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.LocationID, &b.ItemID, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// ListMovements returns ledger entries matching the filter, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, kind, location_id, item_id, qty, ref_kind, COALESCE(ref_id, ''), COALESCE(transfer_id, 0), COALESCE(inventory_id, 0), note, COALESCE(created_by, 0), created_at
FROM stock_movements
WHERE ($1 = 0 OR location_id = $1)
  AND ($2 = 0 OR item_id = $2)
  AND ($3 = 0 OR transfer_id = $3)
  AND ($4 = 0 OR inventory_id = $4)
ORDER BY created_at ASC, id ASC
LIMIT $5`, filter.LocationID, filter.ItemID, filter.TransferID, filter.InventoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Kind, &m.LocationID, &m.ItemID, &m.Qty, &m.RefKind, &m.RefID, &m.TransferID, &m.InventoryID, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// mapReferenceError converts foreign-key violations into not-found errors so
// callers see an unknown location or item instead of a raw storage failure.
func mapReferenceError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return shared.NewNotFoundError("location or item", pgErr.ConstraintName)
	}
	return err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
