package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type balKey struct {
	locationID int64
	itemID     int64
}

type fakeRepository struct {
	balances  map[balKey]int64
	movements []Movement
	nextID    int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{balances: map[balKey]int64{}}
}

func (r *fakeRepository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	snapshot := make(map[balKey]int64, len(r.balances))
	for k, v := range r.balances {
		snapshot[k] = v
	}
	count := len(r.movements)
	if err := fn(ctx, (*fakeTx)(r)); err != nil {
		r.balances = snapshot
		r.movements = r.movements[:count]
		return err
	}
	return nil
}

func (r *fakeRepository) GetBalance(ctx context.Context, locationID, itemID int64) (int64, error) {
	return r.balances[balKey{locationID, itemID}], nil
}

func (r *fakeRepository) GetBalances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(itemIDs))
	for _, itemID := range itemIDs {
		result[itemID] = r.balances[balKey{locationID, itemID}]
	}
	return result, nil
}

func (r *fakeRepository) ListBalances(ctx context.Context, locationID int64) ([]Balance, error) {
	result := []Balance{}
	for k, qty := range r.balances {
		if k.locationID == locationID {
			result = append(result, Balance{LocationID: k.locationID, ItemID: k.itemID, Qty: qty})
		}
	}
	return result, nil
}

func (r *fakeRepository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if filter.LocationID != 0 && m.LocationID != filter.LocationID {
			continue
		}
		if filter.ItemID != 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.TransferID != 0 && m.TransferID != filter.TransferID {
			continue
		}
		if filter.InventoryID != 0 && m.InventoryID != filter.InventoryID {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

type fakeTx fakeRepository

func (t *fakeTx) Apply(ctx context.Context, input MovementInput) (Movement, Balance, error) {
	if err := input.Validate(); err != nil {
		return Movement{}, Balance{}, err
	}
	key := balKey{input.LocationID, input.ItemID}
	next := t.balances[key] + input.Qty
	if next < 0 {
		return Movement{}, Balance{}, &shared.InsufficientQuantityError{
			LocationID: input.LocationID,
			ItemID:     input.ItemID,
			Available:  t.balances[key],
			Requested:  -input.Qty,
		}
	}
	t.balances[key] = next
	t.nextID++
	m := Movement{
		ID:          t.nextID,
		Kind:        input.Kind,
		LocationID:  input.LocationID,
		ItemID:      input.ItemID,
		Qty:         input.Qty,
		RefKind:     input.RefKind,
		RefID:       input.RefID,
		TransferID:  input.TransferID,
		InventoryID: input.InventoryID,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	}
	t.movements = append(t.movements, m)
	return m, Balance{LocationID: input.LocationID, ItemID: input.ItemID, Qty: next}, nil
}

func (t *fakeTx) Balances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	return (*fakeRepository)(t).GetBalances(ctx, locationID, itemIDs)
}

func (t *fakeTx) BalancesForUpdate(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	return (*fakeRepository)(t).GetBalances(ctx, locationID, itemIDs)
}

func (t *fakeTx) Set(ctx context.Context, locationID, itemID, qty int64) error {
	if qty < 0 {
		return shared.NewValidationError("qty", "balance cannot be negative")
	}
	t.balances[balKey{locationID, itemID}] = qty
	return nil
}

func TestApplyMovementUpdatesBalance(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, nil)

	movement, balance, err := svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementIn, LocationID: 1, ItemID: 7, Qty: 5, RefKind: RefPurchaseReceipt, RefID: "PO-000001",
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), balance.Qty)
	require.Equal(t, MovementIn, movement.Kind)

	_, balance, err = svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementOut, LocationID: 1, ItemID: 7, Qty: -3, RefKind: RefSale, RefID: "SAL-000001",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), balance.Qty)
}

func TestApplyMovementRejectsNegativeBalance(t *testing.T) {
	repo := newFakeRepository()
	repo.balances[balKey{1, 7}] = 2
	svc := NewService(repo, nil, nil)

	_, _, err := svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementOut, LocationID: 1, ItemID: 7, Qty: -5, RefKind: RefSale,
	})
	var insufficient *shared.InsufficientQuantityError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(2), insufficient.Available)
	require.Equal(t, int64(5), insufficient.Requested)
	require.Equal(t, int64(2), repo.balances[balKey{1, 7}])
	require.Empty(t, repo.movements)
}

func TestApplyMovementSignConvention(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, nil)

	cases := []MovementInput{
		{Kind: MovementIn, LocationID: 1, ItemID: 1, Qty: -1, RefKind: RefReturn},
		{Kind: MovementOut, LocationID: 1, ItemID: 1, Qty: 1, RefKind: RefLoss},
		{Kind: MovementAdjust, LocationID: 1, ItemID: 1, Qty: 0, RefKind: RefInventory},
		{Kind: MovementKind("SIDEWAYS"), LocationID: 1, ItemID: 1, Qty: 1, RefKind: RefSale},
		{Kind: MovementIn, LocationID: 1, ItemID: 1, Qty: 1, RefKind: ReferenceKind("BOGUS")},
		{Kind: MovementAdjust, LocationID: 1, ItemID: 1, Qty: 1, RefKind: RefCorrection},
	}
	for _, input := range cases {
		_, _, err := svc.ApplyMovement(context.Background(), input)
		var validation *shared.ValidationError
		require.ErrorAs(t, err, &validation, "input %+v", input)
	}
}

func TestGetBalancesDefaultsToZero(t *testing.T) {
	repo := newFakeRepository()
	repo.balances[balKey{1, 7}] = 4
	svc := NewService(repo, nil, nil)

	balances, err := svc.GetBalances(context.Background(), 1, []int64{7, 8})
	require.NoError(t, err)
	require.Equal(t, int64(4), balances[7])
	require.Equal(t, int64(0), balances[8])
}

func TestListMovementsRequiresFilter(t *testing.T) {
	svc := NewService(newFakeRepository(), nil, nil)

	_, err := svc.ListMovements(context.Background(), MovementFilter{})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)

	repo := newFakeRepository()
	svc = NewService(repo, nil, nil)
	_, _, err = svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementIn, LocationID: 3, ItemID: 9, Qty: 2, RefKind: RefTransfer, TransferID: 11,
	})
	require.NoError(t, err)

	byTransfer, err := svc.ListMovements(context.Background(), MovementFilter{TransferID: 11})
	require.NoError(t, err)
	require.Len(t, byTransfer, 1)

	other, err := svc.ListMovements(context.Background(), MovementFilter{TransferID: 12})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestApplyMovementRollsBackOnError(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, nil)

	_, _, err := svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementIn, LocationID: 1, ItemID: 7, Qty: 5, RefKind: RefPurchaseReceipt,
	})
	require.NoError(t, err)

	_, _, err = svc.ApplyMovement(context.Background(), MovementInput{
		Kind: MovementOut, LocationID: 1, ItemID: 7, Qty: -6, RefKind: RefSale,
	})
	require.Error(t, err)
	require.True(t, errors.As(err, new(*shared.InsufficientQuantityError)))
	require.Equal(t, int64(5), repo.balances[balKey{1, 7}])
	require.Len(t, repo.movements, 1)
}
