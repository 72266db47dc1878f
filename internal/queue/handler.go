package queue

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/leads"
	"github.com/bissquit/lead-garden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEntryNotFound, Status: http.StatusNotFound, Message: "queue entry not found"},
	{Error: ErrAlreadySent, Status: http.StatusConflict, Message: "step already sent to this lead"},
	{Error: ErrNotFailed, Status: http.StatusConflict, Message: "entry is not in failed state"},
	{Error: ErrLeadNotContactable, Status: http.StatusConflict, Message: "lead is flagged do-not-contact"},
	{Error: ErrNoRecipient, Status: http.StatusUnprocessableEntity, Message: "lead has no address for the step's channel"},
	{Error: leads.ErrLeadNotFound, Status: http.StatusNotFound, Message: "lead not found"},
	{Error: catalog.ErrStepNotFound, Status: http.StatusNotFound, Message: "sequence step not found"},
}

// Handler handles HTTP requests for queue operations.
type Handler struct {
	service   *Service
	processor *Processor
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service, processor *Processor) *Handler {
	return &Handler{
		service:   service,
		processor: processor,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Post("/manual-send", h.ManualSend)
		r.Get("/failed", h.ListFailed)
		r.Post("/failed/{id}/retry", h.RetryFailed)
		r.Get("/stats", h.GetStats)
	})
}

// ManualSendRequest represents request body for a forced step send.
type ManualSendRequest struct {
	LeadID string `json:"lead_id" validate:"required"`
	StepID string `json:"step_id" validate:"required"`
}

// ManualSend handles POST /queue/manual-send.
func (h *Handler) ManualSend(w http.ResponseWriter, r *http.Request) {
	var req ManualSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	records, err := h.service.ManualSend(r.Context(), req.LeadID, req.StepID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

// ListFailed handles GET /queue/failed.
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.ListFailed(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, entries)
}

// RetryFailed handles POST /queue/failed/{id}/retry.
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RetryFailed(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if h.processor != nil {
		h.processor.Wake()
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "pending"})
}

// GetStats handles GET /queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}
