package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.setStatus)
	r.Post("/{id}/receive", h.receive)
}

type lineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

type createOrderRequest struct {
	LocationID int64         `json:"location_id" validate:"required"`
	SupplierID int64         `json:"supplier_id"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID    int64         `json:"actor_id"`
}

type setStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

type receiptLineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"gte=0"`
}

type receiveRequest struct {
	Lines   []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID int64                `json:"actor_id"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.service.List(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	lines := make([]LineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = LineInput{ItemID: line.ItemID, Qty: line.Qty}
	}
	po, err := h.service.CreateDraft(r.Context(), CreateInput{
		LocationID: req.LocationID,
		SupplierID: req.SupplierID,
		Note:       req.Note,
		Lines:      lines,
		ActorID:    req.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setStatusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	po, err := h.service.SetStatus(r.Context(), id, Status(req.Status), req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	receipt := make([]ReceiptLine, len(req.Lines))
	for i, line := range req.Lines {
		receipt[i] = ReceiptLine{ItemID: line.ItemID, Qty: line.Qty}
	}
	po, err := h.service.Receive(r.Context(), id, receipt, r.Header.Get("Idempotency-Key"), req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		return 0, shared.NewValidationError(param, "must be an integer")
	}
	return id, nil
}
