package stockcount

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/items"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Ledger() ledger.Tx
	GetForUpdate(ctx context.Context, id int64) (Document, error)
	CreateDocument(ctx context.Context, doc Document) (int64, error)
	CountLines(ctx context.Context, documentID int64) (int, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, id int64, status Status, note string, postedAt *time.Time) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, limit int) ([]Document, error)
}

// ItemPort lists the items a generated count covers.
type ItemPort interface {
	ListActive(ctx context.Context, categoryID int64) ([]items.Item, error)
	Get(ctx context.Context, id int64) (items.Item, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the physical-count reconciliation workflow.
type Service struct {
	repo    RepositoryPort
	items   ItemPort
	numbers shared.NumberAllocator
	audit   AuditPort
	cache   *ledger.BalanceCache
}

// NewService builds Service.
func NewService(repo RepositoryPort, itemPort ItemPort, numbers shared.NumberAllocator, audit AuditPort, cache *ledger.BalanceCache) *Service {
	return &Service{repo: repo, items: itemPort, numbers: numbers, audit: audit, cache: cache}
}

// Get loads one document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns recent documents without lines.
func (s *Service) List(ctx context.Context, limit int) ([]Document, error) {
	return s.repo.List(ctx, limit)
}

// Create opens a DRAFT count document for one location.
func (s *Service) Create(ctx context.Context, locationID int64, mode Mode, categoryID int64, actorID int64) (Document, error) {
	if locationID == 0 {
		return Document{}, shared.NewValidationError("location_id", "required")
	}
	if !mode.IsValid() {
		return Document{}, shared.NewValidationError("mode", "unknown count mode")
	}
	if mode == ModeByCategory && categoryID == 0 {
		return Document{}, shared.NewValidationError("category_id", "required for BY_CATEGORY counts")
	}
	if mode != ModeByCategory && categoryID != 0 {
		return Document{}, shared.NewValidationError("category_id", "only allowed for BY_CATEGORY counts")
	}
	number, err := s.numbers.Next(ctx, "CNT")
	if err != nil {
		return Document{}, err
	}
	doc := Document{Number: number, Status: StatusDraft, Mode: mode, LocationID: locationID, CategoryID: categoryID}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = id
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, actorID, "COUNT_CREATE", doc.ID, map[string]any{"number": doc.Number, "mode": mode})
	return doc, nil
}

// GenerateLines snapshots the current balance of every applicable item into
// one PENDING line each. Allowed once per document: regeneration is refused
// when lines already exist.
func (s *Service) GenerateLines(ctx context.Context, documentID int64, actorID int64) (Document, error) {
	var result Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewConflictError("count %s is %s, lines can only be generated while DRAFT", doc.Number, doc.Status)
		}
		if doc.Mode == ModeFree {
			return shared.NewValidationError("mode", "free-mode counts take lines individually")
		}
		existing, err := tx.CountLines(ctx, documentID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return shared.NewConflictError("count %s already has generated lines", doc.Number)
		}
		applicable, err := s.items.ListActive(ctx, doc.CategoryID)
		if err != nil {
			return err
		}
		if len(applicable) == 0 {
			return shared.NewValidationError("items", "no active items match the count scope")
		}
		itemIDs := make([]int64, len(applicable))
		for i, it := range applicable {
			itemIDs[i] = it.ID
		}
		balances, err := tx.Ledger().Balances(ctx, doc.LocationID, itemIDs)
		if err != nil {
			return err
		}
		for _, it := range applicable {
			line := Line{
				DocumentID:  documentID,
				ItemID:      it.ID,
				ExpectedQty: balances[it.ID],
				Status:      LinePending,
			}
			if line.ID, err = tx.InsertLine(ctx, line); err != nil {
				return err
			}
			doc.Lines = append(doc.Lines, line)
		}
		result = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, actorID, "COUNT_GENERATE", documentID, map[string]any{"lines": len(result.Lines)})
	return result, nil
}

// AddLine appends one item to a FREE-mode draft, snapshotting its current
// balance as the expected quantity.
func (s *Service) AddLine(ctx context.Context, documentID, itemID int64, actorID int64) (Line, error) {
	if itemID == 0 {
		return Line{}, shared.NewValidationError("item_id", "required")
	}
	if _, err := s.items.Get(ctx, itemID); err != nil {
		return Line{}, err
	}
	var line Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewConflictError("count %s is %s, lines can only be added while DRAFT", doc.Number, doc.Status)
		}
		if doc.Mode != ModeFree {
			return shared.NewValidationError("mode", "lines are generated, not added, for this count mode")
		}
		for _, existing := range doc.Lines {
			if existing.ItemID == itemID {
				return shared.NewConflictError("item %d already on count %s", itemID, doc.Number)
			}
		}
		balances, err := tx.Ledger().Balances(ctx, doc.LocationID, []int64{itemID})
		if err != nil {
			return err
		}
		line = Line{DocumentID: documentID, ItemID: itemID, ExpectedQty: balances[itemID], Status: LinePending}
		line.ID, err = tx.InsertLine(ctx, line)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "COUNT_ADD_LINE", documentID, map[string]any{"item_id": itemID})
	return line, nil
}

// RecordCount updates one line while the document is DRAFT. The delta is
// recomputed whenever a count is set; a line with a count and no explicit
// status becomes COUNTED.
func (s *Service) RecordCount(ctx context.Context, documentID, lineID int64, patch CountPatch, actorID int64) (Line, error) {
	if patch.CountedQty == nil && patch.Status == nil && patch.Note == "" {
		return Line{}, shared.NewValidationError("patch", "nothing to update")
	}
	if patch.CountedQty != nil && *patch.CountedQty < 0 {
		return Line{}, shared.NewValidationError("counted_qty", "must be >= 0")
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return Line{}, shared.NewValidationError("status", "unknown line status")
	}
	var result Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewConflictError("count %s is %s, counts can only be recorded while DRAFT", doc.Number, doc.Status)
		}
		var line *Line
		for i := range doc.Lines {
			if doc.Lines[i].ID == lineID {
				line = &doc.Lines[i]
				break
			}
		}
		if line == nil {
			return shared.NewNotFoundError("count line", lineID)
		}
		if patch.CountedQty != nil {
			line.CountedQty = patch.CountedQty
			line.Delta = *patch.CountedQty - line.ExpectedQty
		}
		switch {
		case patch.Status != nil:
			line.Status = *patch.Status
		case patch.CountedQty != nil:
			line.Status = LineCounted
		}
		if patch.Note != "" {
			line.Note = patch.Note
		}
		if err := tx.UpdateLine(ctx, *line); err != nil {
			return err
		}
		result = *line
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	return result, nil
}

// Post reconciles counted lines against the current balance and closes the
// document. Balances are re-read at post time, not taken from the stale
// expected snapshot, so drift between generation and posting is absorbed.
// The ADJUST movement documents the delta; the balance set to the counted
// quantity is the authoritative write.
func (s *Service) Post(ctx context.Context, documentID int64, note string, actorID int64) (Document, error) {
	if note == "" {
		return Document{}, shared.NewValidationError("note", "a closing note is required")
	}
	var result Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewConflictError("count %s cannot post from status %s", doc.Number, doc.Status)
		}
		if len(doc.Lines) == 0 {
			return shared.NewConflictError("count %s has no lines", doc.Number)
		}
		countable := make([]Line, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			if line.CountedQty != nil && line.Status != LineSkipped {
				countable = append(countable, line)
			}
		}
		if len(countable) == 0 {
			return shared.NewConflictError("count %s has nothing to post", doc.Number)
		}
		lt := tx.Ledger()
		itemIDs := make([]int64, len(countable))
		for i, line := range countable {
			itemIDs[i] = line.ItemID
		}
		current, err := lt.BalancesForUpdate(ctx, doc.LocationID, itemIDs)
		if err != nil {
			return err
		}
		for _, line := range countable {
			counted := *line.CountedQty
			delta := counted - current[line.ItemID]
			if delta != 0 {
				if _, _, err := lt.Apply(ctx, ledger.MovementInput{
					Kind:        ledger.MovementAdjust,
					LocationID:  doc.LocationID,
					ItemID:      line.ItemID,
					Qty:         delta,
					RefKind:     ledger.RefInventory,
					RefID:       doc.Number,
					InventoryID: doc.ID,
					Note:        note,
					ActorID:     actorID,
				}); err != nil {
					return err
				}
			}
			if err := lt.Set(ctx, doc.LocationID, line.ItemID, counted); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.UpdateStatus(ctx, doc.ID, StatusPosted, note, &now); err != nil {
			return err
		}
		doc.Status = StatusPosted
		doc.Note = note
		doc.PostedAt = &now
		result = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	if s.cache != nil {
		itemIDs := make([]int64, len(result.Lines))
		for i, line := range result.Lines {
			itemIDs[i] = line.ItemID
		}
		s.cache.Invalidate(ctx, result.LocationID, itemIDs...)
	}
	s.recordAudit(ctx, actorID, "COUNT_POST", documentID, map[string]any{"number": result.Number})
	return result, nil
}

// Cancel closes a draft without stock effect. POSTED is irreversible.
func (s *Service) Cancel(ctx context.Context, documentID int64, actorID int64) (Document, error) {
	var result Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return shared.NewConflictError("count %s cannot cancel from status %s", doc.Number, doc.Status)
		}
		if err := tx.UpdateStatus(ctx, doc.ID, StatusCancelled, doc.Note, nil); err != nil {
			return err
		}
		doc.Status = StatusCancelled
		result = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, actorID, "COUNT_CANCEL", documentID, map[string]any{"number": result.Number})
	return result, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "stock_count", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
