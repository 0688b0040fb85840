package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

type balKey struct {
	locationID int64
	itemID     int64
}

type fakeLedger struct {
	balances  map[balKey]int64
	movements []ledger.Movement
}

func (l *fakeLedger) Apply(ctx context.Context, input ledger.MovementInput) (ledger.Movement, ledger.Balance, error) {
	if err := input.Validate(); err != nil {
		return ledger.Movement{}, ledger.Balance{}, err
	}
	key := balKey{input.LocationID, input.ItemID}
	next := l.balances[key] + input.Qty
	if next < 0 {
		return ledger.Movement{}, ledger.Balance{}, &shared.InsufficientQuantityError{
			LocationID: input.LocationID, ItemID: input.ItemID,
			Available: l.balances[key], Requested: -input.Qty,
		}
	}
	l.balances[key] = next
	m := ledger.Movement{
		ID: int64(len(l.movements) + 1), Kind: input.Kind, LocationID: input.LocationID,
		ItemID: input.ItemID, Qty: input.Qty, RefKind: input.RefKind, RefID: input.RefID,
	}
	l.movements = append(l.movements, m)
	return m, ledger.Balance{LocationID: input.LocationID, ItemID: input.ItemID, Qty: next}, nil
}

func (l *fakeLedger) Balances(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = l.balances[balKey{locationID, id}]
	}
	return result, nil
}

func (l *fakeLedger) BalancesForUpdate(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, error) {
	return l.Balances(ctx, locationID, itemIDs)
}

func (l *fakeLedger) Set(ctx context.Context, locationID, itemID, qty int64) error {
	l.balances[balKey{locationID, itemID}] = qty
	return nil
}

type fakeRepository struct {
	sales    map[int64]*Sale
	ledger   *fakeLedger
	nextID   int64
	nextLine int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		sales:  map[int64]*Sale{},
		ledger: &fakeLedger{balances: map[balKey]int64{}},
	}
}

func cloneSale(s Sale) Sale {
	lines := make([]Line, len(s.Lines))
	copy(lines, s.Lines)
	s.Lines = lines
	return s
}

func (r *fakeRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saleSnapshot := make(map[int64]*Sale, len(r.sales))
	for id, s := range r.sales {
		c := cloneSale(*s)
		saleSnapshot[id] = &c
	}
	balanceSnapshot := make(map[balKey]int64, len(r.ledger.balances))
	for k, v := range r.ledger.balances {
		balanceSnapshot[k] = v
	}
	movementCount := len(r.ledger.movements)
	if err := fn(ctx, (*fakeTxRepository)(r)); err != nil {
		r.sales = saleSnapshot
		r.ledger.balances = balanceSnapshot
		r.ledger.movements = r.ledger.movements[:movementCount]
		return err
	}
	return nil
}

func (r *fakeRepository) Get(ctx context.Context, id int64) (Sale, error) {
	s, ok := r.sales[id]
	if !ok {
		return Sale{}, shared.NewNotFoundError("sale", id)
	}
	return cloneSale(*s), nil
}

func (r *fakeRepository) List(ctx context.Context, limit int) ([]Sale, error) {
	result := []Sale{}
	for _, s := range r.sales {
		result = append(result, cloneSale(*s))
	}
	return result, nil
}

type fakeTxRepository fakeRepository

func (r *fakeTxRepository) Ledger() ledger.Tx { return r.ledger }

func (r *fakeTxRepository) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	return (*fakeRepository)(r).Get(ctx, id)
}

func (r *fakeTxRepository) CreateSale(ctx context.Context, s Sale) (int64, error) {
	r.nextID++
	s.ID = r.nextID
	stored := cloneSale(s)
	r.sales[s.ID] = &stored
	return s.ID, nil
}

func (r *fakeTxRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	r.nextLine++
	line.ID = r.nextLine
	s := r.sales[line.SaleID]
	s.Lines = append(s.Lines, line)
	return line.ID, nil
}

func (r *fakeTxRepository) UpdateStatus(ctx context.Context, id int64, status Status, postedAt *time.Time) error {
	s := r.sales[id]
	s.Status = status
	if postedAt != nil {
		s.PostedAt = postedAt
	}
	return nil
}

func (r *fakeTxRepository) UpdateLineDelivered(ctx context.Context, lineID, delivered int64) error {
	for _, s := range r.sales {
		for i := range s.Lines {
			if s.Lines[i].ID == lineID {
				s.Lines[i].DeliveredQty = delivered
				return nil
			}
		}
	}
	return shared.NewNotFoundError("sale line", lineID)
}

type fakeNumbers struct{ n int }

func (f *fakeNumbers) Next(ctx context.Context, series string) (string, error) {
	f.n++
	return fmt.Sprintf("%s-%06d", series, f.n), nil
}

type fakeIdempotency struct {
	keys    map[string]string
	deleted []string
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	if _, dup := f.keys[key]; dup {
		return shared.NewConflictError("duplicate request %s", key)
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestService(repo *fakeRepository, idem IdempotencyPort) *Service {
	return NewService(repo, &fakeNumbers{}, nil, idem, nil)
}

func TestPostSubtractsStockPerLine(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{1, 10}] = 8
	repo.ledger.balances[balKey{1, 11}] = 3
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{
		LocationID: 1, CustomerID: 42,
		Lines: []LineInput{{ItemID: 10, Qty: 5}, {ItemID: 11, Qty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)

	sale, err = svc.Post(ctx, sale.ID, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, sale.Status)
	require.NotNil(t, sale.PostedAt)
	require.Equal(t, int64(3), repo.ledger.balances[balKey{1, 10}])
	require.Equal(t, int64(0), repo.ledger.balances[balKey{1, 11}])
	require.Len(t, repo.ledger.movements, 2)
	require.Equal(t, ledger.RefSale, repo.ledger.movements[0].RefKind)
}

func TestPostChecksAllLinesBeforeApplying(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{1, 10}] = 8
	repo.ledger.balances[balKey{1, 11}] = 1
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{
		LocationID: 1,
		Lines:      []LineInput{{ItemID: 10, Qty: 5}, {ItemID: 11, Qty: 3}},
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, sale.ID, "", 1)
	var insufficient *shared.InsufficientQuantityError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(11), insufficient.ItemID)

	require.Equal(t, int64(8), repo.ledger.balances[balKey{1, 10}])
	require.Empty(t, repo.ledger.movements)
	current, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
}

func TestPostIsTerminal(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{1, 10}] = 10
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 2}}})
	require.NoError(t, err)
	_, err = svc.Post(ctx, sale.ID, "", 1)
	require.NoError(t, err)

	var conflict *shared.ConflictError
	_, err = svc.Post(ctx, sale.ID, "", 1)
	require.ErrorAs(t, err, &conflict)
	_, err = svc.Cancel(ctx, sale.ID, 1)
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(8), repo.ledger.balances[balKey{1, 10}])
}

func TestPostReleasesIdempotencyKeyOnFailure(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeIdempotency{})
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 5}}})
	require.NoError(t, err)

	// No stock: the post fails and the key must be released for a retry.
	_, err = svc.Post(ctx, sale.ID, "key-1", 1)
	var insufficient *shared.InsufficientQuantityError
	require.ErrorAs(t, err, &insufficient)

	repo.ledger.balances[balKey{1, 10}] = 5
	posted, err := svc.Post(ctx, sale.ID, "key-1", 1)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)

	// Replaying the same key after success is a duplicate.
	_, err = svc.Post(ctx, sale.ID, "key-1", 1)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCancelDraftHasNoStockEffect(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{1, 10}] = 5
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 2}}})
	require.NoError(t, err)
	sale, err = svc.Cancel(ctx, sale.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, sale.Status)
	require.Equal(t, int64(5), repo.ledger.balances[balKey{1, 10}])
	require.Empty(t, repo.ledger.movements)
}

func TestRecordDeliveredEnforcesOrderedCap(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{1, 10}] = 5
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 5}}})
	require.NoError(t, err)
	_, err = svc.Post(ctx, sale.ID, "", 1)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, sale.ID, map[int64]int64{10: 3})
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, sale.ID, map[int64]int64{10: 3})
	})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)

	current, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), current.Lines[0].DeliveredQty)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, sale.ID, map[int64]int64{10: 2})
	})
	require.NoError(t, err)
	current, err = svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), current.Lines[0].DeliveredQty)
}

func TestRecordDeliveredRequiresPostedSale(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	sale, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 5}}})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return svc.RecordDelivered(ctx, tx, sale.ID, map[int64]int64{10: 1})
	})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreateDraftValidatesLines(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	var validation *shared.ValidationError
	_, err := svc.CreateDraft(ctx, CreateInput{LocationID: 1})
	require.ErrorAs(t, err, &validation)
	_, err = svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 0}}})
	require.ErrorAs(t, err, &validation)
	_, err = svc.CreateDraft(ctx, CreateInput{Lines: []LineInput{{ItemID: 10, Qty: 1}}})
	require.ErrorAs(t, err, &validation)

	var conflict *shared.ConflictError
	_, err = svc.CreateDraft(ctx, CreateInput{LocationID: 1, Lines: []LineInput{{ItemID: 10, Qty: 1}, {ItemID: 10, Qty: 2}}})
	require.ErrorAs(t, err, &conflict)
}
