package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NumberAllocator issues unique document numbers per series (e.g. "TRF",
// "SAL", "PO").
type NumberAllocator interface {
	Next(ctx context.Context, series string) (string, error)
}

// allocatorAttempts bounds retries on storage races before surfacing an
// InternalError.
const allocatorAttempts = 3

// SequenceAllocator backs document numbers with a document_sequences table.
type SequenceAllocator struct {
	pool *pgxpool.Pool
}

// NewSequenceAllocator constructs the allocator.
func NewSequenceAllocator(pool *pgxpool.Pool) *SequenceAllocator {
	return &SequenceAllocator{pool: pool}
}

// Next increments the series counter and formats the document number.
func (a *SequenceAllocator) Next(ctx context.Context, series string) (string, error) {
	if a == nil {
		return "", errors.New("number allocator not initialised")
	}
	if series == "" {
		return "", NewValidationError("series", "required")
	}
	var lastErr error
	for attempt := 0; attempt < allocatorAttempts; attempt++ {
		var value int64
		err := a.pool.QueryRow(ctx, `INSERT INTO document_sequences (series, value) VALUES ($1, 1)
ON CONFLICT (series) DO UPDATE SET value = document_sequences.value + 1
RETURNING value`, series).Scan(&value)
		if err == nil {
			return fmt.Sprintf("%s-%06d", series, value), nil
		}
		lastErr = err
		if !retriableAllocatorError(err) {
			break
		}
	}
	return "", NewInternalError("numbering.next", lastErr)
}

func retriableAllocatorError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique violation or serialization failure
		return pgErr.Code == "23505" || pgErr.Code == "40001"
	}
	return false
}
