package stockcount

import (
	"time"
)

// Status enumerates the count document lifecycle. POSTED is terminal and
// irreversible; CANCELLED can be reached any time before posting.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Mode selects the item set a count covers.
type Mode string

const (
	// ModeFull counts every active item at the location.
	ModeFull Mode = "FULL"
	// ModeByCategory counts active items of one category.
	ModeByCategory Mode = "BY_CATEGORY"
	// ModeFree starts empty; lines are added one by one.
	ModeFree Mode = "FREE"
)

// IsValid checks membership of the mode enum.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFull, ModeByCategory, ModeFree:
		return true
	default:
		return false
	}
}

// LineStatus tracks counting progress per line.
type LineStatus string

const (
	LinePending LineStatus = "PENDING"
	LineCounted LineStatus = "COUNTED"
	LineSkipped LineStatus = "SKIPPED"
)

// IsValid checks membership of the line status enum.
func (s LineStatus) IsValid() bool {
	switch s {
	case LinePending, LineCounted, LineSkipped:
		return true
	default:
		return false
	}
}

// Document is a physical-count reconciliation workflow.
type Document struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	Mode       Mode       `json:"mode"`
	LocationID int64      `json:"location_id"`
	CategoryID int64      `json:"category_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines,omitempty"`
}

// Line snapshots the expected balance at generation time and records the
// physical count. Delta is counted minus expected.
type Line struct {
	ID          int64      `json:"id"`
	DocumentID  int64      `json:"document_id"`
	ItemID      int64      `json:"item_id"`
	ExpectedQty int64      `json:"expected_qty"`
	CountedQty  *int64     `json:"counted_qty,omitempty"`
	Delta       int64      `json:"delta"`
	Status      LineStatus `json:"status"`
	Note        string     `json:"note,omitempty"`
}

// CountPatch updates one line while the document is DRAFT.
type CountPatch struct {
	CountedQty *int64
	Status     *LineStatus
	Note       string
}
