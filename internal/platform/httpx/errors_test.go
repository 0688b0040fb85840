package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		title  string
	}{
		{
			name:   "validation",
			err:    shared.NewValidationError("qty", "must be positive"),
			status: http.StatusBadRequest,
			title:  "Validation Failed",
		},
		{
			name:   "not found",
			err:    shared.NewNotFoundError("item", 42),
			status: http.StatusNotFound,
			title:  "Not Found",
		},
		{
			name:   "insufficient quantity",
			err:    &shared.InsufficientQuantityError{LocationID: 1, ItemID: 42, Available: 3, Requested: 5},
			status: http.StatusConflict,
			title:  "Insufficient Quantity",
		},
		{
			name:   "conflict",
			err:    shared.NewConflictError("sale %d already posted", 7),
			status: http.StatusConflict,
			title:  "Conflict",
		},
		{
			name:   "idempotency replay",
			err:    shared.ErrIdempotencyConflict,
			status: http.StatusConflict,
			title:  "Conflict",
		},
		{
			name:   "unexpected",
			err:    errors.New("connection reset"),
			status: http.StatusInternalServerError,
			title:  "Internal Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tt.err)
			require.Equal(t, tt.status, rec.Code)

			var problem ProblemDetail
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
			require.Equal(t, tt.title, problem.Title)
			require.Equal(t, tt.status, problem.Status)
		})
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dsn=postgres://user:secret@db"))

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	require.Empty(t, problem.Detail)
}

func TestRespondErrorIncludesShortfallDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.InsufficientQuantityError{LocationID: 3, ItemID: 9, Available: 1, Requested: 4})

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	require.Contains(t, problem.Detail, "available 1")
	require.Contains(t, problem.Detail, "requested 4")
}
