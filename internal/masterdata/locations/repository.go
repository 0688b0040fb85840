package locations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists locations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const locationColumns = `id, code, name, kind, active, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var loc Location
	err := row.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.Kind, &loc.Active, &loc.CreatedAt, &loc.UpdatedAt)
	return loc, err
}

// GetByID fetches one location.
func (r *Repository) GetByID(ctx context.Context, id int64) (Location, error) {
	loc, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.NewNotFoundError("location", id)
		}
		return Location{}, err
	}
	return loc, nil
}

// GetByCode fetches one location by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Location, error) {
	loc, err := scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.NewNotFoundError("location", code)
		}
		return Location{}, err
	}
	return loc, nil
}

// CountByKind reports how many locations carry the given kind.
func (r *Repository) CountByKind(ctx context.Context, kind Kind) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM locations WHERE kind=$1`, kind).Scan(&count)
	return count, err
}

// List returns addressable locations; the transit buffer is excluded.
func (r *Repository) List(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE kind <> $1 ORDER BY code ASC`, KindTransit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, loc)
	}
	return result, rows.Err()
}

// Create inserts a location and returns its id.
func (r *Repository) Create(ctx context.Context, loc Location) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO locations (code, name, kind, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id`, loc.Code, loc.Name, loc.Kind, loc.Active).Scan(&id)
	return id, err
}
