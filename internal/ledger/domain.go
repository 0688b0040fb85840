package ledger

import (
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementIn represents an inbound movement, delta > 0.
	MovementIn MovementKind = "IN"
	// MovementOut represents an outbound movement, delta < 0.
	MovementOut MovementKind = "OUT"
	// MovementAdjust indicates a reconciling adjustment, delta != 0.
	MovementAdjust MovementKind = "ADJUST"
)

// ReferenceKind names the document class that caused a movement.
type ReferenceKind string

const (
	RefSale            ReferenceKind = "SALE"
	RefPurchaseReceipt ReferenceKind = "PURCHASE_RECEIPT"
	RefTransfer        ReferenceKind = "TRANSFER"
	RefInventory       ReferenceKind = "INVENTORY"
	RefCorrection      ReferenceKind = "CORRECTION"
	RefReturn          ReferenceKind = "RETURN"
	RefLoss            ReferenceKind = "LOSS"
	RefLegacyInventory ReferenceKind = "LEGACY_INVENTORY"
)

// IsValid checks membership of the reference kind enum.
func (k ReferenceKind) IsValid() bool {
	switch k {
	case RefSale, RefPurchaseReceipt, RefTransfer, RefInventory, RefCorrection, RefReturn, RefLoss, RefLegacyInventory:
		return true
	default:
		return false
	}
}

// Movement is an immutable ledger entry recording one quantity change and
// its reason. Movements are never edited or deleted.
type Movement struct {
	ID          int64         `json:"id"`
	Kind        MovementKind  `json:"kind"`
	LocationID  int64         `json:"location_id"`
	ItemID      int64         `json:"item_id"`
	Qty         int64         `json:"qty"`
	RefKind     ReferenceKind `json:"ref_kind"`
	RefID       string        `json:"ref_id,omitempty"`
	TransferID  int64         `json:"transfer_id,omitempty"`
	InventoryID int64         `json:"inventory_id,omitempty"`
	Note        string        `json:"note,omitempty"`
	CreatedBy   int64         `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Balance is the materialized on-hand quantity of one item at one location.
// Created lazily on first movement, never deleted, only zeroed.
type Balance struct {
	LocationID int64     `json:"location_id"`
	ItemID     int64     `json:"item_id"`
	Qty        int64     `json:"qty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MovementInput describes a requested movement.
type MovementInput struct {
	Kind        MovementKind
	LocationID  int64
	ItemID      int64
	Qty         int64
	RefKind     ReferenceKind
	RefID       string
	TransferID  int64
	InventoryID int64
	Note        string
	ActorID     int64
}

// Validate enforces the sign convention and mandatory fields.
func (in MovementInput) Validate() error {
	if in.LocationID == 0 {
		return shared.NewValidationError("location_id", "required")
	}
	if in.ItemID == 0 {
		return shared.NewValidationError("item_id", "required")
	}
	if in.Qty == 0 {
		return shared.NewValidationError("qty", "must be non zero")
	}
	switch in.Kind {
	case MovementIn:
		if in.Qty < 0 {
			return shared.NewValidationError("qty", "IN movement requires a positive delta")
		}
	case MovementOut:
		if in.Qty > 0 {
			return shared.NewValidationError("qty", "OUT movement requires a negative delta")
		}
	case MovementAdjust:
		// any non-zero delta
	default:
		return shared.NewValidationError("kind", "unknown movement kind")
	}
	if !in.RefKind.IsValid() {
		return shared.NewValidationError("ref_kind", "unknown reference kind")
	}
	if in.RefKind == RefCorrection && in.Note == "" {
		return shared.NewValidationError("note", "manual corrections require a note")
	}
	return nil
}

// MovementFilter selects ledger entries for traceability listings.
type MovementFilter struct {
	LocationID  int64
	ItemID      int64
	TransferID  int64
	InventoryID int64
	Limit       int
}
