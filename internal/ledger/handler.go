package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler wires HTTP endpoints for stock balances and movements.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.getBalances)
	r.Get("/movements", h.listMovements)
	r.Post("/movements", h.applyMovement)
}

type applyMovementRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=IN OUT ADJUST"`
	LocationID int64  `json:"location_id" validate:"required"`
	ItemID     int64  `json:"item_id" validate:"required"`
	Qty        int64  `json:"qty" validate:"required"`
	RefKind    string `json:"ref_kind" validate:"required,oneof=CORRECTION RETURN LOSS LEGACY_INVENTORY"`
	RefID      string `json:"ref_id"`
	Note       string `json:"note"`
	ActorID    int64  `json:"actor_id"`
}

type movementResponse struct {
	Movement Movement `json:"movement"`
	Balance  Balance  `json:"balance"`
}

func (h *Handler) getBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("location_id", "must be an integer"))
		return
	}
	rawIDs := q["item_id"]
	if len(rawIDs) == 0 {
		balances, err := h.service.ListBalances(r.Context(), locationID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, balances)
		return
	}
	itemIDs := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("item_id", "must be an integer"))
			return
		}
		itemIDs = append(itemIDs, id)
	}
	balances, err := h.service.GetBalances(r.Context(), locationID, itemIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{}
	for param, target := range map[string]*int64{
		"location_id":  &filter.LocationID,
		"item_id":      &filter.ItemID,
		"transfer_id":  &filter.TransferID,
		"inventory_id": &filter.InventoryID,
	} {
		if raw := q.Get(param); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpx.RespondError(w, shared.NewValidationError(param, "must be an integer"))
				return
			}
			*target = id
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("limit", "must be an integer"))
			return
		}
		filter.Limit = limit
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

// applyMovement posts a manual correction. Document-driven movements go
// through their own workflows, never this endpoint.
func (h *Handler) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req applyMovementRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	movement, balance, err := h.service.ApplyMovement(r.Context(), MovementInput{
		Kind:       MovementKind(req.Kind),
		LocationID: req.LocationID,
		ItemID:     req.ItemID,
		Qty:        req.Qty,
		RefKind:    ReferenceKind(req.RefKind),
		RefID:      req.RefID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Movement: movement, Balance: balance})
}
