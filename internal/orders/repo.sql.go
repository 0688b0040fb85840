package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists orders in PostgreSQL.
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

// NewTxRepository binds order writes to an already-open transaction, so a
// caller holding its own transaction can update order lines atomically with
// its document writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("orders repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, number, status, location_id, COALESCE(customer_id, 0), note, confirmed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.Status, &o.LocationID, &o.CustomerID, &o.Note, &o.ConfirmedAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NewNotFoundError("order", id)
		}
		return Order{}, err
	}
	o.Lines, err = loadLines(ctx, r.tx, id)
	return o, err
}

func (r *txRepository) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO orders (number, status, location_id, customer_id, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		o.Number, o.Status, o.LocationID, nullID(o.CustomerID), o.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO order_lines (order_id, item_id, ordered_qty, delivered_qty)
VALUES ($1, $2, $3, 0) RETURNING id`, line.OrderID, line.ItemID, line.OrderedQty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, confirmedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET status=$2, confirmed_at=COALESCE($3, confirmed_at), updated_at=NOW() WHERE id=$1`, id, status, confirmedAt)
	return err
}

func (r *txRepository) UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE order_lines SET delivered_qty=$2 WHERE id=$1`, lineID, delivered)
	return err
}

// Get loads one order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NewNotFoundError("order", id)
		}
		return Order{}, err
	}
	o.Lines, err = loadLines(ctx, r.pool, id)
	return o, err
}

// List returns recent orders without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]Order, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, item_id, ordered_qty, delivered_qty
FROM order_lines WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.OrderedQty, &line.DeliveredQty); err != nil {
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
