package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestKeyIsStableAndFixedWidth(t *testing.T) {
	short := DigestKey("a")
	long := DigestKey(string(make([]byte, 4096)))
	require.Len(t, short, 32)
	require.Len(t, long, 32)
	require.Equal(t, short, DigestKey("a"))
	require.NotEqual(t, short, DigestKey("b"))
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := NewNotFoundError("transfer", 42)
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "transfer 42")

	var typed *NotFoundError
	wrapped := NewInternalError("load", err)
	require.ErrorAs(t, wrapped, &typed)
	require.ErrorIs(t, wrapped, ErrNotFound)
}

func TestValidationErrorFormatsField(t *testing.T) {
	require.Equal(t, "validation: qty: must be positive", NewValidationError("qty", "must be positive").Error())
	require.Equal(t, "validation: broken", (&ValidationError{Reason: "broken"}).Error())
}

func TestNilStoresAreSafe(t *testing.T) {
	var store *IdempotencyStore
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "m"))
	require.NoError(t, store.Delete(context.Background(), "k"))
	require.NoError(t, store.Cleanup(context.Background(), 0))

	var alloc *SequenceAllocator
	_, err := alloc.Next(context.Background(), "TRF")
	require.Error(t, err)
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	var logger *AuditLogger
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "X"}))

	logger = NewAuditLogger(nil)
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "X"}))
	require.Error(t, logger.Record(context.Background(), AuditLog{Entity: "sale", EntityID: "1"}))
}

func TestListLimitNormalization(t *testing.T) {
	require.Equal(t, 50, ListLimit(0))
	require.Equal(t, 50, ListLimit(-3))
	require.Equal(t, 25, ListLimit(25))
	require.Equal(t, 500, ListLimit(10_000))
}

func TestConflictErrorKeepsReason(t *testing.T) {
	err := NewConflictError("item %d over cap", 7)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "conflict: item 7 over cap", conflict.Error())
}
