package delivery

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler wires HTTP endpoints for deliveries.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.setStatus)
}

type lineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

// createDeliveryRequest accepts the three creation shapes: from a sale,
// from an order, or standalone. Exactly one of sale_id and order_id may be
// set; neither means standalone.
type createDeliveryRequest struct {
	SaleID     int64         `json:"sale_id"`
	OrderID    int64         `json:"order_id"`
	TransferID int64         `json:"transfer_id"`
	Address    string        `json:"address"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"dive"`
	ActorID    int64         `json:"actor_id"`
}

type deliveredLineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"gte=0"`
}

type setStatusRequest struct {
	Status  string                 `json:"status" validate:"required"`
	Message string                 `json:"message"`
	Lines   []deliveredLineRequest `json:"lines" validate:"dive"`
	ActorID int64                  `json:"actor_id"`
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
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	input, err := resolveOrigin(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
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
	lines := make([]DeliveredLine, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = DeliveredLine{ItemID: line.ItemID, Qty: line.Qty}
	}
	d, err := h.service.SetStatus(r.Context(), id, Status(req.Status), req.Message, lines, req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// resolveOrigin collapses the creation shapes into the single internal
// representation before the service sees the request.
func resolveOrigin(req createDeliveryRequest) (CreateInput, error) {
	if req.SaleID != 0 && req.OrderID != 0 {
		return CreateInput{}, shared.NewValidationError("origin", "sale_id and order_id are mutually exclusive")
	}
	lines := make([]LineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = LineInput{ItemID: line.ItemID, Qty: line.Qty}
	}
	input := CreateInput{
		TransferID: req.TransferID,
		Address:    req.Address,
		Note:       req.Note,
		Lines:      lines,
		ActorID:    req.ActorID,
	}
	switch {
	case req.SaleID != 0:
		input.OriginKind = OriginSale
		input.OriginID = req.SaleID
	case req.OrderID != 0:
		input.OriginKind = OriginOrder
		input.OriginID = req.OrderID
	default:
		input.OriginKind = OriginStandalone
	}
	return input, nil
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		return 0, shared.NewValidationError(param, "must be an integer")
	}
	return id, nil
}
