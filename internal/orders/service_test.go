package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type fakeRepository struct {
	orders   map[int64]*Order
	nextID   int64
	nextLine int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{orders: map[int64]*Order{}}
}

func cloneOrder(o Order) Order {
	lines := make([]Line, len(o.Lines))
	copy(lines, o.Lines)
	o.Lines = lines
	return o
}

func (r *fakeRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]*Order, len(r.orders))
	for id, o := range r.orders {
		c := cloneOrder(*o)
		snapshot[id] = &c
	}
	if err := fn(ctx, (*fakeTxRepository)(r)); err != nil {
		r.orders = snapshot
		return err
	}
	return nil
}

func (r *fakeRepository) Get(ctx context.Context, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return Order{}, shared.NewNotFoundError("order", id)
	}
	return cloneOrder(*o), nil
}

func (r *fakeRepository) List(ctx context.Context, limit int) ([]Order, error) {
	result := []Order{}
	for _, o := range r.orders {
		result = append(result, cloneOrder(*o))
	}
	return result, nil
}

type fakeTxRepository fakeRepository

func (r *fakeTxRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return (*fakeRepository)(r).Get(ctx, id)
}

func (r *fakeTxRepository) CreateOrder(ctx context.Context, o Order) (int64, error) {
	r.nextID++
	o.ID = r.nextID
	stored := cloneOrder(o)
	r.orders[o.ID] = &stored
	return o.ID, nil
}

func (r *fakeTxRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	r.nextLine++
	line.ID = r.nextLine
	o := r.orders[line.OrderID]
	o.Lines = append(o.Lines, line)
	return line.ID, nil
}

func (r *fakeTxRepository) UpdateStatus(ctx context.Context, id int64, status Status, confirmedAt *time.Time) error {
	o := r.orders[id]
	o.Status = status
	if confirmedAt != nil {
		o.ConfirmedAt = confirmedAt
	}
	return nil
}

func (r *fakeTxRepository) UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error {
	for _, o := range r.orders {
		for i := range o.Lines {
			if o.Lines[i].ID == lineID {
				o.Lines[i].DeliveredQty = delivered
				return nil
			}
		}
	}
	return shared.NewNotFoundError("order line", lineID)
}

type fakeNumbers struct{ n int }

func (f *fakeNumbers) Next(ctx context.Context, series string) (string, error) {
	f.n++
	return fmt.Sprintf("%s-%06d", series, f.n), nil
}

func newTestService(repo *fakeRepository) *Service {
	return NewService(repo, &fakeNumbers{}, nil)
}

func newDraft(t *testing.T, svc *Service) Order {
	t.Helper()
	o, err := svc.CreateDraft(context.Background(), CreateInput{
		LocationID: 1, CustomerID: 42,
		Lines: []LineInput{{ItemID: 10, Qty: 5}},
	})
	require.NoError(t, err)
	return o
}

func TestSetStatusWalksTheLifecycle(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	o := newDraft(t, svc)
	require.Equal(t, StatusDraft, o.Status)

	o, err := svc.SetStatus(ctx, o.ID, StatusConfirmed, 1)
	require.NoError(t, err)
	require.NotNil(t, o.ConfirmedAt)

	for _, next := range []Status{StatusPrepared, StatusShipped, StatusDelivered} {
		o, err = svc.SetStatus(ctx, o.ID, next, 1)
		require.NoError(t, err)
		require.Equal(t, next, o.Status)
	}

	var conflict *shared.ConflictError
	_, err = svc.SetStatus(ctx, o.ID, StatusCancelled, 1)
	require.ErrorAs(t, err, &conflict)
}

func TestSetStatusRejectsSkipsAndBackwardMoves(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	o := newDraft(t, svc)

	var conflict *shared.ConflictError
	_, err := svc.SetStatus(ctx, o.ID, StatusShipped, 1)
	require.ErrorAs(t, err, &conflict)
	_, err = svc.SetStatus(ctx, o.ID, StatusDelivered, 1)
	require.ErrorAs(t, err, &conflict)

	o, err = svc.SetStatus(ctx, o.ID, StatusConfirmed, 1)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, o.ID, StatusDraft, 1)
	require.ErrorAs(t, err, &conflict)

	var validation *shared.ValidationError
	_, err = svc.SetStatus(ctx, o.ID, Status("GUESS"), 1)
	require.ErrorAs(t, err, &validation)
}

func TestCancelReachableFromEveryNonTerminalStatus(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	steps := [][]Status{
		{},
		{StatusConfirmed},
		{StatusConfirmed, StatusPrepared},
		{StatusConfirmed, StatusPrepared, StatusShipped},
	}
	for _, path := range steps {
		o := newDraft(t, svc)
		var err error
		for _, next := range path {
			o, err = svc.SetStatus(ctx, o.ID, next, 1)
			require.NoError(t, err)
		}
		o, err = svc.SetStatus(ctx, o.ID, StatusCancelled, 1)
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, o.Status)
	}
}

func TestRecordDeliveredEnforcesOrderedCap(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	o := newDraft(t, svc)
	o, err := svc.SetStatus(ctx, o.ID, StatusConfirmed, 1)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, o.ID, map[int64]int64{10: 3})
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, o.ID, map[int64]int64{10: 3})
	})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)

	current, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), current.Lines[0].DeliveredQty)
}

func TestRecordDeliveredRefusesDraftAndTerminalOrders(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	draft := newDraft(t, svc)
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, draft.ID, map[int64]int64{10: 1})
	})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)

	cancelled := newDraft(t, svc)
	_, err = svc.SetStatus(ctx, cancelled.ID, StatusCancelled, 1)
	require.NoError(t, err)
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, cancelled.ID, map[int64]int64{10: 1})
	})
	require.ErrorAs(t, err, &conflict)

	unknown := newDraft(t, svc)
	_, err = svc.SetStatus(ctx, unknown.ID, StatusConfirmed, 1)
	require.NoError(t, err)
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, unknown.ID, map[int64]int64{99: 1})
	})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
}
