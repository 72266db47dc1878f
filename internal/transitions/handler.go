package transitions

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/enrollment"
	"github.com/bissquit/lead-garden/internal/leads"
	"github.com/bissquit/lead-garden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: leads.ErrLeadNotFound, Status: http.StatusNotFound, Message: "lead not found"},
	{Error: catalog.ErrSequenceNotFound, Status: http.StatusNotFound, Message: "sequence not found"},
	{Error: enrollment.ErrEnrollmentNotFound, Status: http.StatusNotFound, Message: "no active enrollment for lead"},
}

// Handler handles inbound lifecycle events from the ingestion layer.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new transitions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers event routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/meeting-booked", h.MeetingBooked)
		r.Post("/no-show", h.NoShow)
		r.Post("/meeting-completed", h.MeetingCompleted)
		r.Post("/reschedule", h.Reschedule)
		r.Post("/cancellation", h.Cancellation)
	})
}

// EventRequest represents a lifecycle event payload. EventTime is required
// for meeting-booked and reschedule events.
type EventRequest struct {
	LeadID    string     `json:"lead_id" validate:"required"`
	EventTime *time.Time `json:"event_time"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, needsTime bool) (*EventRequest, bool) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return nil, false
	}
	if needsTime && req.EventTime == nil {
		httputil.Error(w, http.StatusBadRequest, "event_time is required")
		return nil, false
	}
	return &req, true
}

// MeetingBooked handles POST /events/meeting-booked.
func (h *Handler) MeetingBooked(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, true)
	if !ok {
		return
	}

	enr, err := h.service.OnMeetingBooked(r.Context(), req.LeadID, *req.EventTime)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, enr)
}

// NoShow handles POST /events/no-show.
func (h *Handler) NoShow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, false)
	if !ok {
		return
	}

	enr, err := h.service.OnNoShow(r.Context(), req.LeadID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, enr)
}

// MeetingCompleted handles POST /events/meeting-completed.
func (h *Handler) MeetingCompleted(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, false)
	if !ok {
		return
	}

	if err := h.service.OnMeetingCompleted(r.Context(), req.LeadID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "converted"})
}

// Reschedule handles POST /events/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, true)
	if !ok {
		return
	}

	enr, err := h.service.OnReschedule(r.Context(), req.LeadID, *req.EventTime)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, enr)
}

// Cancellation handles POST /events/cancellation.
func (h *Handler) Cancellation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, false)
	if !ok {
		return
	}

	if err := h.service.OnCancellation(r.Context(), req.LeadID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
