package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. The
// ledger writer shares the same transaction, so document and stock writes
// commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.Tx {
	return ledger.NewTxLedger(r.tx)
}

const orderColumns = `id, number, status, location_id, COALESCE(supplier_id, 0), note, ordered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.Status, &po.LocationID, &po.SupplierID, &po.Note, &po.OrderedAt, &po.CreatedAt, &po.UpdatedAt)
	return po, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NewNotFoundError("purchase order", id)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.tx, id)
	return po, err
}

func (r *txRepository) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, status, location_id, supplier_id, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		po.Number, po.Status, po.LocationID, nullID(po.SupplierID), po.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (order_id, item_id, ordered_qty, received_qty)
VALUES ($1, $2, $3, 0) RETURNING id`, line.OrderID, line.ItemID, line.OrderedQty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, orderedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, ordered_at=COALESCE($3, ordered_at), updated_at=NOW() WHERE id=$1`, id, status, orderedAt)
	return err
}

func (r *txRepository) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_qty=$2 WHERE id=$1`, lineID, received)
	return err
}

// Get loads one purchase order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NewNotFoundError("purchase order", id)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.pool, id)
	return po, err
}

// List returns recent purchase orders without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]PurchaseOrder, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, po)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, item_id, ordered_qty, received_qty
FROM purchase_order_lines WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.OrderedQty, &line.ReceivedQty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
