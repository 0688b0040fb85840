package transfers

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

// Repository persists transfers in PostgreSQL.
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
		return errors.New("transfers repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.Tx {
	return ledger.NewTxLedger(r.tx)
}

const transferColumns = `id, number, status, source_id, destination_id, COALESCE(journey_id, ''), purpose, note, shipped_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.Number, &t.Status, &t.SourceID, &t.DestinationID, &t.JourneyID, &t.Purpose, &t.Note, &t.ShippedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.NewNotFoundError("transfer", id)
		}
		return Transfer{}, err
	}
	t.Lines, err = loadLines(ctx, r.tx, id)
	return t, err
}

func (r *txRepository) CreateTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers (number, status, source_id, destination_id, journey_id, purpose, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING id`,
		t.Number, t.Status, t.SourceID, t.DestinationID, nullStr(t.JourneyID), t.Purpose, t.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transfer_lines (transfer_id, item_id, requested_qty, received_qty)
VALUES ($1, $2, $3, 0)`, line.TransferID, line.ItemID, line.RequestedQty)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, shippedAt *time.Time) error {
	if shippedAt != nil {
		_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, shipped_at=$3, updated_at=NOW() WHERE id=$1`, id, status, *shippedAt)
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func (r *txRepository) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET received_qty=$2 WHERE id=$1`, lineID, received)
	return err
}

// Get loads one transfer with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.NewNotFoundError("transfer", id)
		}
		return Transfer{}, err
	}
	t.Lines, err = loadLines(ctx, r.pool, id)
	return t, err
}

// ListByJourney returns both legs of a journey, leg toward transit first.
func (r *Repository) ListByJourney(ctx context.Context, journeyID string) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE journey_id=$1 ORDER BY id ASC`, journeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if result[i].Lines, err = loadLines(ctx, r.pool, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// List returns recent transfers without lines.
func (r *Repository) List(ctx context.Context, limit int) ([]Transfer, error) {
	limit = shared.ListLimit(limit)
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, transferID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, item_id, requested_qty, received_qty
FROM transfer_lines WHERE transfer_id=$1 ORDER BY id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ItemID, &line.RequestedQty, &line.ReceivedQty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
