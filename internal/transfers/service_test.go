package transfers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/locations"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

const (
	locWarehouse = int64(1)
	locStore     = int64(2)
	locTransit   = int64(99)
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
		ItemID: input.ItemID, Qty: input.Qty, RefKind: input.RefKind, TransferID: input.TransferID,
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
	if qty < 0 {
		return shared.NewValidationError("qty", "balance cannot be negative")
	}
	l.balances[balKey{locationID, itemID}] = qty
	return nil
}

type fakeRepository struct {
	transfers map[int64]*Transfer
	ledger    *fakeLedger
	nextID    int64
	nextLine  int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		transfers: map[int64]*Transfer{},
		ledger:    &fakeLedger{balances: map[balKey]int64{}},
	}
}

func cloneTransfer(t Transfer) Transfer {
	lines := make([]Line, len(t.Lines))
	copy(lines, t.Lines)
	t.Lines = lines
	return t
}

func (r *fakeRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	transferSnapshot := make(map[int64]*Transfer, len(r.transfers))
	for id, t := range r.transfers {
		c := cloneTransfer(*t)
		transferSnapshot[id] = &c
	}
	balanceSnapshot := make(map[balKey]int64, len(r.ledger.balances))
	for k, v := range r.ledger.balances {
		balanceSnapshot[k] = v
	}
	movementCount := len(r.ledger.movements)
	if err := fn(ctx, (*fakeTxRepository)(r)); err != nil {
		r.transfers = transferSnapshot
		r.ledger.balances = balanceSnapshot
		r.ledger.movements = r.ledger.movements[:movementCount]
		return err
	}
	return nil
}

func (r *fakeRepository) Get(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, shared.NewNotFoundError("transfer", id)
	}
	return cloneTransfer(*t), nil
}

func (r *fakeRepository) ListByJourney(ctx context.Context, journeyID string) ([]Transfer, error) {
	result := []Transfer{}
	for _, t := range r.transfers {
		if t.JourneyID == journeyID {
			result = append(result, cloneTransfer(*t))
		}
	}
	return result, nil
}

func (r *fakeRepository) List(ctx context.Context, limit int) ([]Transfer, error) {
	result := []Transfer{}
	for _, t := range r.transfers {
		result = append(result, cloneTransfer(*t))
	}
	return result, nil
}

type fakeTxRepository fakeRepository

func (r *fakeTxRepository) Ledger() ledger.Tx { return r.ledger }

func (r *fakeTxRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return (*fakeRepository)(r).Get(ctx, id)
}

func (r *fakeTxRepository) CreateTransfer(ctx context.Context, t Transfer) (int64, error) {
	r.nextID++
	t.ID = r.nextID
	stored := cloneTransfer(t)
	r.transfers[t.ID] = &stored
	return t.ID, nil
}

func (r *fakeTxRepository) InsertLine(ctx context.Context, line Line) error {
	r.nextLine++
	line.ID = r.nextLine
	t := r.transfers[line.TransferID]
	t.Lines = append(t.Lines, line)
	return nil
}

func (r *fakeTxRepository) UpdateStatus(ctx context.Context, id int64, status Status, shippedAt *time.Time) error {
	t := r.transfers[id]
	t.Status = status
	if shippedAt != nil {
		t.ShippedAt = shippedAt
	}
	return nil
}

func (r *fakeTxRepository) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	for _, t := range r.transfers {
		for i := range t.Lines {
			if t.Lines[i].ID == lineID {
				t.Lines[i].ReceivedQty = received
				return nil
			}
		}
	}
	return shared.NewNotFoundError("transfer line", lineID)
}

type fakeLocations struct{}

func (fakeLocations) Get(ctx context.Context, id int64) (locations.Location, error) {
	switch id {
	case locWarehouse:
		return locations.Location{ID: id, Code: "W1", Kind: locations.KindDepot}, nil
	case locStore:
		return locations.Location{ID: id, Code: "S1", Kind: locations.KindStore}, nil
	case locTransit:
		return locations.Location{ID: id, Code: "TRANSIT", Kind: locations.KindTransit}, nil
	}
	return locations.Location{}, shared.NewNotFoundError("location", id)
}

type fakeNumbers struct{ n int }

func (f *fakeNumbers) Next(ctx context.Context, series string) (string, error) {
	f.n++
	return fmt.Sprintf("%s-%06d", series, f.n), nil
}

type capturedEvents struct {
	events []StatusChangedEvent
}

func (c *capturedEvents) TransferStatusChanged(ctx context.Context, e StatusChangedEvent) error {
	c.events = append(c.events, e)
	return nil
}

func newTestService(repo *fakeRepository) (*Service, *capturedEvents) {
	events := &capturedEvents{}
	svc := NewService(repo, fakeLocations{}, locTransit, &fakeNumbers{}, nil, events, nil)
	return svc, events
}

func TestCreateJourneyBuildsTwoLinkedLegs(t *testing.T) {
	repo := newFakeRepository()
	svc, _ := newTestService(repo)

	journey, err := svc.CreateJourney(context.Background(), CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "replenishment",
		Lines: []LineInput{{ItemID: 7, Qty: 4}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, journey.ID)
	require.Equal(t, journey.ID, journey.LegA.JourneyID)
	require.Equal(t, journey.ID, journey.LegB.JourneyID)
	require.Equal(t, locWarehouse, journey.LegA.SourceID)
	require.Equal(t, locTransit, journey.LegA.DestinationID)
	require.Equal(t, locTransit, journey.LegB.SourceID)
	require.Equal(t, locStore, journey.LegB.DestinationID)
	require.Equal(t, journey.LegA.Lines[0].RequestedQty, journey.LegB.Lines[0].RequestedQty)

	loaded, err := svc.GetJourney(context.Background(), journey.ID)
	require.NoError(t, err)
	require.Equal(t, journey.LegA.ID, loaded.LegA.ID)
	require.Equal(t, journey.LegB.ID, loaded.LegB.ID)
}

func TestCreateRejectsTransitEndpoints(t *testing.T) {
	repo := newFakeRepository()
	svc, _ := newTestService(repo)

	_, err := svc.CreateDraft(context.Background(), CreateInput{
		SourceID: locTransit, DestinationID: locStore, Purpose: "x",
		Lines: []LineInput{{ItemID: 7, Qty: 1}},
	})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = svc.CreateDraft(context.Background(), CreateInput{
		SourceID: locWarehouse, DestinationID: locWarehouse, Purpose: "x",
		Lines: []LineInput{{ItemID: 7, Qty: 1}},
	})
	require.ErrorAs(t, err, &validation)
}

func TestJourneyConservesStockAcrossLegs(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{locWarehouse, 7}] = 10
	svc, _ := newTestService(repo)
	ctx := context.Background()

	journey, err := svc.CreateJourney(ctx, CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "replenishment",
		Lines: []LineInput{{ItemID: 7, Qty: 4}},
	})
	require.NoError(t, err)

	legA, err := svc.Ship(ctx, journey.LegA.ID, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, legA.Status)
	require.NotNil(t, legA.ShippedAt)
	require.Equal(t, int64(6), repo.ledger.balances[balKey{locWarehouse, 7}])
	require.Equal(t, int64(4), repo.ledger.balances[balKey{locTransit, 7}])

	legA, err = svc.Receive(ctx, journey.LegA.ID, []ReceiptLine{{ItemID: 7, Qty: 4}}, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, legA.Status)
	require.Equal(t, int64(4), repo.ledger.balances[balKey{locTransit, 7}])

	legB, err := svc.Ship(ctx, journey.LegB.ID, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, legB.Status)
	require.Equal(t, int64(4), repo.ledger.balances[balKey{locTransit, 7}])
	require.Equal(t, int64(0), repo.ledger.balances[balKey{locStore, 7}])

	legB, err = svc.Receive(ctx, journey.LegB.ID, []ReceiptLine{{ItemID: 7, Qty: 3}}, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, legB.Status)
	require.Equal(t, int64(1), repo.ledger.balances[balKey{locTransit, 7}])
	require.Equal(t, int64(3), repo.ledger.balances[balKey{locStore, 7}])

	legB, err = svc.Receive(ctx, journey.LegB.ID, []ReceiptLine{{ItemID: 7, Qty: 1}}, "", 1)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, legB.Status)
	require.Equal(t, int64(0), repo.ledger.balances[balKey{locTransit, 7}])
	require.Equal(t, int64(4), repo.ledger.balances[balKey{locStore, 7}])

	total := repo.ledger.balances[balKey{locWarehouse, 7}] +
		repo.ledger.balances[balKey{locTransit, 7}] +
		repo.ledger.balances[balKey{locStore, 7}]
	require.Equal(t, int64(10), total)
}

func TestShipFailsAtomicallyOnInsufficientStock(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{locWarehouse, 7}] = 5
	repo.ledger.balances[balKey{locWarehouse, 8}] = 1
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateDraft(ctx, CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "mixed",
		Lines: []LineInput{{ItemID: 7, Qty: 3}, {ItemID: 8, Qty: 2}},
	})
	require.NoError(t, err)

	_, err = svc.Ship(ctx, created.ID, "", 1)
	var insufficient *shared.InsufficientQuantityError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(8), insufficient.ItemID)
	require.Equal(t, int64(1), insufficient.Available)
	require.Equal(t, int64(2), insufficient.Requested)

	require.Equal(t, int64(5), repo.ledger.balances[balKey{locWarehouse, 7}])
	require.Empty(t, repo.ledger.movements)
	current, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
}

func TestReceiveCapsAtRequestedQty(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{locWarehouse, 7}] = 10
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateDraft(ctx, CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "x",
		Lines: []LineInput{{ItemID: 7, Qty: 4}},
	})
	require.NoError(t, err)
	_, err = svc.Ship(ctx, created.ID, "", 1)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, created.ID, []ReceiptLine{{ItemID: 7, Qty: 3}}, "", 1)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, created.ID, []ReceiptLine{{ItemID: 7, Qty: 2}}, "", 1)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)

	current, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), current.Lines[0].ReceivedQty)
	require.Equal(t, StatusPartiallyReceived, current.Status)

	_, err = svc.Receive(ctx, created.ID, []ReceiptLine{{ItemID: 7, Qty: 1}}, "", 1)
	require.NoError(t, err)
	current, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, current.Status)
}

func TestShipRequiresDraft(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{locWarehouse, 7}] = 10
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateDraft(ctx, CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "x",
		Lines: []LineInput{{ItemID: 7, Qty: 2}},
	})
	require.NoError(t, err)
	_, err = svc.Ship(ctx, created.ID, "", 1)
	require.NoError(t, err)

	_, err = svc.Ship(ctx, created.ID, "", 1)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(8), repo.ledger.balances[balKey{locWarehouse, 7}])
}

func TestStatusChangesEmitEvents(t *testing.T) {
	repo := newFakeRepository()
	repo.ledger.balances[balKey{locWarehouse, 7}] = 10
	svc, events := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateDraft(ctx, CreateInput{
		SourceID: locWarehouse, DestinationID: locStore, Purpose: "x",
		Lines: []LineInput{{ItemID: 7, Qty: 2}},
	})
	require.NoError(t, err)

	_, err = svc.Ship(ctx, created.ID, "on the road", 1)
	require.NoError(t, err)
	_, err = svc.Receive(ctx, created.ID, []ReceiptLine{{ItemID: 7, Qty: 2}}, "", 1)
	require.NoError(t, err)

	require.Len(t, events.events, 2)
	require.Equal(t, StatusShipped, events.events[0].Status)
	require.Equal(t, created.ID, events.events[0].TransferID)
	require.Equal(t, "on the road", events.events[0].Note)
	require.Equal(t, StatusReceived, events.events[1].Status)
}
