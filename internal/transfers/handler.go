package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler wires HTTP endpoints for transfers and journeys.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.createDraft)
	r.Get("/{id}", h.get)
	r.Post("/{id}/ship", h.ship)
	r.Post("/{id}/receive", h.receive)
	r.Post("/journeys", h.createJourney)
	r.Get("/journeys/{journeyID}", h.getJourney)
}

type lineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

type createTransferRequest struct {
	SourceID      int64         `json:"source_id" validate:"required"`
	DestinationID int64         `json:"destination_id" validate:"required"`
	Purpose       string        `json:"purpose" validate:"required"`
	Note          string        `json:"note"`
	Lines         []lineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID       int64         `json:"actor_id"`
}

type shipRequest struct {
	Note    string `json:"note"`
	ActorID int64  `json:"actor_id"`
}

type receiptLineRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"gte=0"`
}

type receiveRequest struct {
	Lines   []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
	Note    string               `json:"note"`
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
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeCreate(w, r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.CreateDraft(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) createJourney(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeCreate(w, r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	journey, err := h.service.CreateJourney(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, journey)
}

func (h *Handler) getJourney(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyID")
	journey, err := h.service.GetJourney(r.Context(), journeyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journey)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req shipRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	t, err := h.service.Ship(r.Context(), id, req.Note, req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
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
	t, err := h.service.Receive(r.Context(), id, receipt, req.Note, req.ActorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) decodeCreate(w http.ResponseWriter, r *http.Request) (CreateInput, error) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		return CreateInput{}, shared.NewValidationError("body", "invalid json")
	}
	if err := h.validate.Struct(req); err != nil {
		return CreateInput{}, shared.NewValidationError("body", err.Error())
	}
	lines := make([]LineInput, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = LineInput{ItemID: line.ItemID, Qty: line.Qty}
	}
	return CreateInput{
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Purpose:       req.Purpose,
		Note:          req.Note,
		Lines:         lines,
		ActorID:       req.ActorID,
	}, nil
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		return 0, shared.NewValidationError(param, "must be an integer")
	}
	return id, nil
}
