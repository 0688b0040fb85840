package delivery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/orders"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/sales"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists deliveries in PostgreSQL.
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
// originating sale or order repository shares the same transaction, so
// fulfillment counters commit with the delivery.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("delivery repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Sales() sales.TxRepository {
	return sales.NewTxRepository(r.tx)
}

func (r *txRepository) Orders() orders.TxRepository {
	return orders.NewTxRepository(r.tx)
}

const deliveryColumns = `id, number, status, origin_kind, COALESCE(origin_id, 0), COALESCE(transfer_id, 0), address, note, created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.Number, &d.Status, &d.OriginKind, &d.OriginID, &d.TransferID, &d.Address, &d.Note, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, shared.NewNotFoundError("delivery", id)
		}
		return Delivery{}, err
	}
	d.Lines, err = loadLines(ctx, r.tx, d.ID)
	return d, err
}

func (r *txRepository) GetByTransferForUpdate(ctx context.Context, transferID int64) (Delivery, error) {
	d, err := scanDelivery(r.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE transfer_id=$1 FOR UPDATE`, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, shared.NewNotFoundError("delivery for transfer", transferID)
		}
		return Delivery{}, err
	}
	return d, nil
}

func (r *txRepository) CreateDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO deliveries (number, status, origin_kind, origin_id, transfer_id, address, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING id`,
		d.Number, d.Status, d.OriginKind, nullID(d.OriginID), nullID(d.TransferID), d.Address, d.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO delivery_lines (delivery_id, item_id, qty, delivered_qty)
VALUES ($1, $2, $3, 0) RETURNING id`, line.DeliveryID, line.ItemID, line.Qty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE deliveries SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func (r *txRepository) UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE delivery_lines SET delivered_qty=$2 WHERE id=$1`, lineID, delivered)
	return err
}

func (r *txRepository) InsertEvent(ctx context.Context, e Event) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO delivery_events (delivery_id, kind, status, message, created_at)
VALUES ($1, $2, $3, $4, NOW())`, e.DeliveryID, e.Kind, e.Status, e.Message)
	return err
}

// Get loads one delivery with its lines and events.
func (r *Repository) Get(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, shared.NewNotFoundError("delivery", id)
		}
		return Delivery{}, err
	}
	if d.Lines, err = loadLines(ctx, r.pool, d.ID); err != nil {
		return Delivery{}, err
	}
	d.Events, err = loadEvents(ctx, r.pool, d.ID)
	return d, err
}

// List returns recent deliveries without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]Delivery, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, deliveryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_id, item_id, qty, delivered_qty
FROM delivery_lines WHERE delivery_id=$1 ORDER BY id ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DeliveryID, &line.ItemID, &line.Qty, &line.DeliveredQty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func loadEvents(ctx context.Context, q queryer, deliveryID int64) ([]Event, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_id, kind, status, message, created_at
FROM delivery_events WHERE delivery_id=$1 ORDER BY id ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.Kind, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
