package transfers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/locations"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Ledger() ledger.Tx
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	CreateTransfer(ctx context.Context, t Transfer) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, id int64, status Status, shippedAt *time.Time) error
	UpdateLineReceived(ctx context.Context, lineID, received int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	ListByJourney(ctx context.Context, journeyID string) ([]Transfer, error)
	List(ctx context.Context, limit int) ([]Transfer, error)
}

// LocationPort resolves locations for endpoint validation.
type LocationPort interface {
	Get(ctx context.Context, id int64) (locations.Location, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates transfer and journey workflows.
type Service struct {
	repo      RepositoryPort
	locations LocationPort
	transitID int64
	numbers   shared.NumberAllocator
	audit     AuditPort
	events    EventSink
	cache     *ledger.BalanceCache
}

// NewService builds Service. transitID is the startup-resolved in-transit
// location.
func NewService(repo RepositoryPort, locs LocationPort, transitID int64, numbers shared.NumberAllocator, audit AuditPort, events EventSink, cache *ledger.BalanceCache) *Service {
	return &Service{repo: repo, locations: locs, transitID: transitID, numbers: numbers, audit: audit, events: events, cache: cache}
}

// Get loads one transfer with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent transfers.
func (s *Service) List(ctx context.Context, limit int) ([]Transfer, error) {
	return s.repo.List(ctx, limit)
}

// GetJourney loads both legs of a journey.
func (s *Service) GetJourney(ctx context.Context, journeyID string) (Journey, error) {
	legs, err := s.repo.ListByJourney(ctx, journeyID)
	if err != nil {
		return Journey{}, err
	}
	if len(legs) != 2 {
		return Journey{}, shared.NewNotFoundError("journey", journeyID)
	}
	journey := Journey{ID: journeyID}
	for _, leg := range legs {
		if leg.DestinationID == s.transitID {
			journey.LegA = leg
		} else {
			journey.LegB = leg
		}
	}
	return journey, nil
}

// CreateDraft creates a single-leg transfer between two addressable
// locations. No stock effect until shipped.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput) (Transfer, error) {
	if err := s.validateEndpoints(ctx, input.SourceID, input.DestinationID); err != nil {
		return Transfer{}, err
	}
	if err := validateLines(input.Lines); err != nil {
		return Transfer{}, err
	}
	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = s.createLeg(ctx, tx, input, "")
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "TRANSFER_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// CreateJourney creates two linked DRAFT legs sharing one journey id:
// source to transit, transit to destination, with identical lines. The legs
// ship and receive independently; the transit balance makes partial progress
// observable without a separate in-flight concept.
func (s *Service) CreateJourney(ctx context.Context, input CreateInput) (Journey, error) {
	if err := s.validateEndpoints(ctx, input.SourceID, input.DestinationID); err != nil {
		return Journey{}, err
	}
	if err := validateLines(input.Lines); err != nil {
		return Journey{}, err
	}
	journeyID := uuid.NewString()
	var journey Journey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		legA := input
		legA.DestinationID = s.transitID
		a, err := s.createLeg(ctx, tx, legA, journeyID)
		if err != nil {
			return err
		}
		legB := input
		legB.SourceID = s.transitID
		b, err := s.createLeg(ctx, tx, legB, journeyID)
		if err != nil {
			return err
		}
		journey = Journey{ID: journeyID, LegA: a, LegB: b}
		return nil
	})
	if err != nil {
		return Journey{}, err
	}
	s.recordAudit(ctx, input.ActorID, "JOURNEY_CREATE", journey.LegA.ID, map[string]any{
		"journey_id": journeyID,
		"leg_b":      journey.LegB.ID,
	})
	return journey, nil
}

// Ship moves a DRAFT transfer to SHIPPED, applying one OUT per line at the
// source. When the leg ends at the in-transit location a matching IN makes
// stock in transit visible as a real balance. A leg leaving the in-transit
// location keeps its stock there until received at the destination, so
// shipping it is a status change only. Fully atomic across lines.
func (s *Service) Ship(ctx context.Context, id int64, note string, actorID int64) (Transfer, error) {
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanShip() {
			return shared.NewConflictError("transfer %s cannot ship from status %s", t.Number, t.Status)
		}
		lt := tx.Ledger()
		itemIDs := make([]int64, len(t.Lines))
		for i, line := range t.Lines {
			itemIDs[i] = line.ItemID
		}
		balances, err := lt.BalancesForUpdate(ctx, t.SourceID, itemIDs)
		if err != nil {
			return err
		}
		for _, line := range t.Lines {
			if balances[line.ItemID] < line.RequestedQty {
				return &shared.InsufficientQuantityError{
					LocationID: t.SourceID,
					ItemID:     line.ItemID,
					Available:  balances[line.ItemID],
					Requested:  line.RequestedQty,
				}
			}
		}
		for _, line := range t.Lines {
			if t.SourceID != s.transitID {
				if _, _, err := lt.Apply(ctx, ledger.MovementInput{
					Kind:       ledger.MovementOut,
					LocationID: t.SourceID,
					ItemID:     line.ItemID,
					Qty:        -line.RequestedQty,
					RefKind:    ledger.RefTransfer,
					RefID:      t.Number,
					TransferID: t.ID,
					Note:       note,
					ActorID:    actorID,
				}); err != nil {
					return err
				}
			}
			if t.DestinationID == s.transitID {
				if _, _, err := lt.Apply(ctx, ledger.MovementInput{
					Kind:       ledger.MovementIn,
					LocationID: s.transitID,
					ItemID:     line.ItemID,
					Qty:        line.RequestedQty,
					RefKind:    ledger.RefTransfer,
					RefID:      t.Number,
					TransferID: t.ID,
					Note:       note,
					ActorID:    actorID,
				}); err != nil {
					return err
				}
			}
		}
		now := time.Now().UTC()
		if err := tx.UpdateStatus(ctx, t.ID, StatusShipped, &now); err != nil {
			return err
		}
		t.Status = StatusShipped
		t.ShippedAt = &now
		result = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.afterStatusChange(ctx, result, note, actorID)
	return result, nil
}

// Receive records received quantities per line. The cumulative received
// quantity may never exceed the requested quantity; a violating line fails
// the whole call before any movement. When the leg starts at the in-transit
// location an OUT at transit precedes the IN at the destination.
func (s *Service) Receive(ctx context.Context, id int64, receipt []ReceiptLine, note string, actorID int64) (Transfer, error) {
	if len(receipt) == 0 {
		return Transfer{}, shared.NewValidationError("lines", "at least one line required")
	}
	received := make(map[int64]int64, len(receipt))
	for _, rl := range receipt {
		if rl.Qty < 0 {
			return Transfer{}, shared.NewValidationError("qty", "received quantity must be >= 0")
		}
		if _, dup := received[rl.ItemID]; dup {
			return Transfer{}, shared.NewConflictError("duplicate item %d in receipt", rl.ItemID)
		}
		received[rl.ItemID] = rl.Qty
	}
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanReceive() {
			return shared.NewConflictError("transfer %s cannot receive in status %s", t.Number, t.Status)
		}
		lines := make(map[int64]*Line, len(t.Lines))
		for i := range t.Lines {
			lines[t.Lines[i].ItemID] = &t.Lines[i]
		}
		var total int64
		for itemID, qty := range received {
			line, ok := lines[itemID]
			if !ok {
				return shared.NewValidationError("lines", fmt.Sprintf("item %d is not on transfer %s", itemID, t.Number))
			}
			if line.ReceivedQty+qty > line.RequestedQty {
				return shared.NewConflictError("item %d: received %d + %d exceeds requested %d",
					itemID, line.ReceivedQty, qty, line.RequestedQty)
			}
			total += qty
		}
		if total == 0 {
			return shared.NewValidationError("lines", "nothing to receive")
		}
		lt := tx.Ledger()
		for _, line := range t.Lines {
			qty := received[line.ItemID]
			if qty == 0 {
				continue
			}
			if t.SourceID == s.transitID {
				if _, _, err := lt.Apply(ctx, ledger.MovementInput{
					Kind:       ledger.MovementOut,
					LocationID: s.transitID,
					ItemID:     line.ItemID,
					Qty:        -qty,
					RefKind:    ledger.RefTransfer,
					RefID:      t.Number,
					TransferID: t.ID,
					Note:       note,
					ActorID:    actorID,
				}); err != nil {
					return err
				}
			}
			// A leg ending at transit already moved stock there on ship.
			if t.DestinationID != s.transitID {
				if _, _, err := lt.Apply(ctx, ledger.MovementInput{
					Kind:       ledger.MovementIn,
					LocationID: t.DestinationID,
					ItemID:     line.ItemID,
					Qty:        qty,
					RefKind:    ledger.RefTransfer,
					RefID:      t.Number,
					TransferID: t.ID,
					Note:       note,
					ActorID:    actorID,
				}); err != nil {
					return err
				}
			}
		}
		complete := true
		for i := range t.Lines {
			line := &t.Lines[i]
			if qty := received[line.ItemID]; qty > 0 {
				line.ReceivedQty += qty
				if err := tx.UpdateLineReceived(ctx, line.ID, line.ReceivedQty); err != nil {
					return err
				}
			}
			if line.ReceivedQty < line.RequestedQty {
				complete = false
			}
		}
		next := StatusPartiallyReceived
		if complete {
			next = StatusReceived
		}
		if err := tx.UpdateStatus(ctx, t.ID, next, nil); err != nil {
			return err
		}
		t.Status = next
		result = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.afterStatusChange(ctx, result, note, actorID)
	return result, nil
}

func (s *Service) createLeg(ctx context.Context, tx TxRepository, input CreateInput, journeyID string) (Transfer, error) {
	number, err := s.numbers.Next(ctx, "TRF")
	if err != nil {
		return Transfer{}, err
	}
	t := Transfer{
		Number:        number,
		Status:        StatusDraft,
		SourceID:      input.SourceID,
		DestinationID: input.DestinationID,
		JourneyID:     journeyID,
		Purpose:       input.Purpose,
		Note:          input.Note,
	}
	id, err := tx.CreateTransfer(ctx, t)
	if err != nil {
		return Transfer{}, err
	}
	t.ID = id
	for _, in := range input.Lines {
		line := Line{TransferID: id, ItemID: in.ItemID, RequestedQty: in.Qty}
		if err := tx.InsertLine(ctx, line); err != nil {
			return Transfer{}, err
		}
		t.Lines = append(t.Lines, line)
	}
	return t, nil
}

// validateEndpoints checks both locations exist and are user addressable.
// The in-transit buffer only ever appears as an implicit journey waypoint.
func (s *Service) validateEndpoints(ctx context.Context, sourceID, destinationID int64) error {
	if sourceID == 0 || destinationID == 0 {
		return shared.NewValidationError("source/destination", "required")
	}
	if sourceID == destinationID {
		return shared.NewValidationError("destination", "source and destination must differ")
	}
	for _, id := range []int64{sourceID, destinationID} {
		loc, err := s.locations.Get(ctx, id)
		if err != nil {
			return err
		}
		if loc.Kind == locations.KindTransit {
			return shared.NewValidationError("location", "in-transit location is not addressable")
		}
	}
	return nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return shared.NewValidationError("lines", "at least one line required")
	}
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == 0 {
			return shared.NewValidationError("item_id", "required")
		}
		if line.Qty <= 0 {
			return shared.NewValidationError("qty", "requested quantity must be positive")
		}
		if _, dup := seen[line.ItemID]; dup {
			return shared.NewConflictError("duplicate item %d in transfer lines", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (s *Service) afterStatusChange(ctx context.Context, t Transfer, note string, actorID int64) {
	if s.cache != nil {
		itemIDs := make([]int64, len(t.Lines))
		for i, line := range t.Lines {
			itemIDs[i] = line.ItemID
		}
		s.cache.Invalidate(ctx, t.SourceID, itemIDs...)
		s.cache.Invalidate(ctx, t.DestinationID, itemIDs...)
		s.cache.Invalidate(ctx, s.transitID, itemIDs...)
	}
	s.recordAudit(ctx, actorID, fmt.Sprintf("TRANSFER_%s", t.Status), t.ID, map[string]any{"number": t.Number})
	if s.events != nil {
		_ = s.events.TransferStatusChanged(ctx, StatusChangedEvent{
			TransferID: t.ID,
			JourneyID:  t.JourneyID,
			Status:     t.Status,
			Note:       note,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "transfer", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
