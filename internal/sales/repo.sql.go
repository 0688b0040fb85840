package sales

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

// Repository persists sales in PostgreSQL.
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

// NewTxRepository binds sale writes to an already-open transaction, so a
// caller holding its own transaction can update sale lines atomically with
// its document writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction. The
// ledger writer shares the same transaction, so document and stock writes
// commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.Tx {
	return ledger.NewTxLedger(r.tx)
}

const saleColumns = `id, number, status, location_id, COALESCE(customer_id, 0), note, posted_at, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Number, &s.Status, &s.LocationID, &s.CustomerID, &s.Note, &s.PostedAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	s, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.NewNotFoundError("sale", id)
		}
		return Sale{}, err
	}
	s.Lines, err = loadLines(ctx, r.tx, id)
	return s, err
}

func (r *txRepository) CreateSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (number, status, location_id, customer_id, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		s.Number, s.Status, s.LocationID, nullID(s.CustomerID), s.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, item_id, ordered_qty, delivered_qty)
VALUES ($1, $2, $3, 0) RETURNING id`, line.SaleID, line.ItemID, line.OrderedQty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, postedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET status=$2, posted_at=COALESCE($3, posted_at), updated_at=NOW() WHERE id=$1`, id, status, postedAt)
	return err
}

func (r *txRepository) UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sale_lines SET delivered_qty=$2 WHERE id=$1`, lineID, delivered)
	return err
}

// Get loads one sale with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Sale, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.NewNotFoundError("sale", id)
		}
		return Sale{}, err
	}
	s.Lines, err = loadLines(ctx, r.pool, id)
	return s, err
}

// List returns recent sales without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]Sale, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, saleID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, item_id, ordered_qty, delivered_qty
FROM sale_lines WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ItemID, &line.OrderedQty, &line.DeliveredQty); err != nil {
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
