package enrollment

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEnrollmentNotFound, Status: http.StatusNotFound, Message: "enrollment not found"},
	{Error: catalog.ErrSequenceNotFound, Status: http.StatusNotFound, Message: "sequence not found"},
	{Error: ErrNotActive, Status: http.StatusConflict, Message: "enrollment is not active"},
	{Error: ErrNotPaused, Status: http.StatusConflict, Message: "enrollment is not paused"},
}

// Handler handles HTTP requests for enrollments.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new enrollment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers enrollment routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/enrollments", func(r chi.Router) {
		r.Get("/", h.ListActive)
		r.Post("/", h.Enroll)
		r.Post("/cancel", h.Cancel)
		r.Get("/{id}", h.GetEnrollment)
		r.Post("/{id}/pause", h.Pause)
		r.Post("/{id}/resume", h.Resume)
	})
}

// EnrollRequest represents request body for enrolling a lead.
type EnrollRequest struct {
	LeadID         string     `json:"lead_id" validate:"required"`
	SequenceSlug   string     `json:"sequence_slug" validate:"required"`
	EnrolledBy     string     `json:"enrolled_by"`
	AnchorOverride *time.Time `json:"anchor_override"`
}

// CancelRequest represents request body for cancelling enrollments. An empty
// sequence slug cancels all of the lead's active enrollments.
type CancelRequest struct {
	LeadID       string `json:"lead_id" validate:"required"`
	SequenceSlug string `json:"sequence_slug"`
	Reason       string `json:"reason" validate:"required"`
}

// Enroll handles POST /enrollments.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	enrolledBy := req.EnrolledBy
	if enrolledBy == "" {
		enrolledBy = httputil.GetCaller(r.Context())
	}

	enr, err := h.service.Enroll(r.Context(), EnrollParams{
		LeadID:         req.LeadID,
		SequenceSlug:   req.SequenceSlug,
		EnrolledBy:     enrolledBy,
		AnchorOverride: req.AnchorOverride,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, enr)
}

// Cancel handles POST /enrollments/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var err error
	if req.SequenceSlug == "" {
		err = h.service.CancelAll(r.Context(), req.LeadID, req.Reason)
	} else {
		err = h.service.Cancel(r.Context(), req.LeadID, req.SequenceSlug, req.Reason)
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ListActive handles GET /enrollments?lead_id=...
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	leadID := r.URL.Query().Get("lead_id")
	if leadID == "" {
		httputil.Error(w, http.StatusBadRequest, "lead_id query parameter is required")
		return
	}

	enrollments, err := h.service.ListActive(r.Context(), leadID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, enrollments)
}

// GetEnrollment handles GET /enrollments/{id}.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	enr, err := h.service.GetEnrollment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, enr)
}

// Pause handles POST /enrollments/{id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "paused"})
}

// Resume handles POST /enrollments/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "active"})
}
