package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSequenceNotFound, Status: http.StatusNotFound, Message: "sequence not found"},
	{Error: ErrStepNotFound, Status: http.StatusNotFound, Message: "sequence step not found"},
	{Error: ErrContentNotFound, Status: http.StatusNotFound, Message: "content item not found"},
	{Error: ErrSlugTaken, Status: http.StatusConflict, Message: "sequence slug already exists"},
	{Error: ErrContentKeyTaken, Status: http.StatusConflict, Message: "content key already exists"},
	{Error: ErrInvalidSequence, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the catalog module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers catalog routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sequences", func(r chi.Router) {
		r.Get("/", h.ListSequences)
		r.Post("/", h.CreateSequence)
		r.Get("/{slug}", h.GetSequence)
	})
	r.Route("/content", func(r chi.Router) {
		r.Get("/", h.ListContent)
		r.Post("/", h.CreateContentItem)
	})
}

// StepRequest is one step inside a sequence creation request.
type StepRequest struct {
	StepOrder   int    `json:"step_order" validate:"required,gt=0"`
	DelayValue  int    `json:"delay_value"`
	DelayUnit   string `json:"delay_unit" validate:"required,oneof=minutes hours days"`
	Channel     string `json:"channel" validate:"required,oneof=email chat both"`
	ContentKind string `json:"content_kind" validate:"required,oneof=fixed rotating"`
	ContentKey  string `json:"content_key"`
	Active      *bool  `json:"active"`
}

// CreateSequenceRequest represents request body for creating a sequence.
type CreateSequenceRequest struct {
	Slug    string        `json:"slug" validate:"required,min=2,max=64"`
	Name    string        `json:"name" validate:"required"`
	Trigger string        `json:"trigger" validate:"required,oneof=manual form_submission meeting_booked no_show"`
	Steps   []StepRequest `json:"steps" validate:"required,min=1,dive"`
}

// ListSequences handles GET /sequences.
func (h *Handler) ListSequences(w http.ResponseWriter, r *http.Request) {
	sequences, err := h.service.ListSequences(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sequences)
}

// GetSequence handles GET /sequences/{slug}.
func (h *Handler) GetSequence(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	seq, err := h.service.GetSequence(r.Context(), slug)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, seq)
}

// CreateSequence handles POST /sequences.
func (h *Handler) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var req CreateSequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	seq := &domain.SequenceDefinition{
		Slug:    req.Slug,
		Name:    req.Name,
		Trigger: domain.TriggerType(req.Trigger),
		Active:  true,
	}
	for _, s := range req.Steps {
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		seq.Steps = append(seq.Steps, domain.SequenceStep{
			StepOrder:   s.StepOrder,
			DelayValue:  s.DelayValue,
			DelayUnit:   domain.DelayUnit(s.DelayUnit),
			Channel:     domain.Channel(s.Channel),
			ContentKind: domain.ContentKind(s.ContentKind),
			ContentKey:  s.ContentKey,
			Active:      active,
		})
	}

	created, err := h.service.CreateSequence(r.Context(), seq)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, created)
}

// CreateContentRequest represents request body for creating a content item.
type CreateContentRequest struct {
	Key     string `json:"key" validate:"required,min=2,max=64"`
	Kind    string `json:"kind" validate:"required,oneof=fixed rotating"`
	Subject string `json:"subject"`
	Body    string `json:"body" validate:"required"`
}

// ListContent handles GET /content?kind=.
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	kind := domain.ContentKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.ContentRotating
	}

	items, err := h.service.ListContent(r.Context(), kind)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, items)
}

// CreateContentItem handles POST /content.
func (h *Handler) CreateContentItem(w http.ResponseWriter, r *http.Request) {
	var req CreateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.CreateContentItem(r.Context(), &domain.ContentItem{
		Key:     req.Key,
		Kind:    domain.ContentKind(req.Kind),
		Subject: req.Subject,
		Body:    req.Body,
		Active:  true,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, item)
}
