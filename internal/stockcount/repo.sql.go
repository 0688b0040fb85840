package stockcount

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

// Repository persists count documents in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stockcount repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.Tx {
	return ledger.NewTxLedger(r.tx)
}

const documentColumns = `id, number, status, mode, location_id, COALESCE(category_id, 0), note, posted_at, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Number, &doc.Status, &doc.Mode, &doc.LocationID, &doc.CategoryID, &doc.Note, &doc.PostedAt, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM stock_counts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.NewNotFoundError("stock count", id)
		}
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.tx, id)
	return doc, err
}

func (r *txRepository) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_counts (number, status, mode, location_id, category_id, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		doc.Number, doc.Status, doc.Mode, doc.LocationID, nullID(doc.CategoryID), doc.Note).Scan(&id)
	return id, err
}

func (r *txRepository) CountLines(ctx context.Context, documentID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_count_lines WHERE document_id=$1`, documentID).Scan(&count)
	return count, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_count_lines (document_id, item_id, expected_qty, counted_qty, delta, status, note)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.DocumentID, line.ItemID, line.ExpectedQty, line.CountedQty, line.Delta, line.Status, line.Note).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_count_lines SET counted_qty=$2, delta=$3, status=$4, note=$5 WHERE id=$1`,
		line.ID, line.CountedQty, line.Delta, line.Status, line.Note)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, note string, postedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_counts SET status=$2, note=$3, posted_at=COALESCE($4, posted_at), updated_at=NOW() WHERE id=$1`,
		id, status, note, postedAt)
	return err
}

// Get loads one document with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM stock_counts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.NewNotFoundError("stock count", id)
		}
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.pool, id)
	return doc, err
}

// List returns recent documents without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]Document, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM stock_counts ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, documentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, document_id, item_id, expected_qty, counted_qty, delta, status, note
FROM stock_count_lines WHERE document_id=$1 ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ItemID, &line.ExpectedQty, &line.CountedQty, &line.Delta, &line.Status, &line.Note); err != nil {
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
