package leads

import (
	"net/http"

	"github.com/bissquit/lead-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrLeadNotFound, Status: http.StatusNotFound, Message: "lead not found"},
	{Error: ErrInvalidToken, Status: http.StatusBadRequest, Message: "invalid or expired token"},
}

// Handler handles HTTP requests for leads.
type Handler struct {
	service *Service
}

// NewHandler creates a new lead handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers authenticated lead routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/leads/{id}", func(r chi.Router) {
		r.Get("/", h.GetLead)
		r.Post("/newsletter", h.SubscribeNewsletter)
	})
}

// RegisterPublicRoutes registers routes reachable without an API key.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/unsubscribe", h.Unsubscribe)
}

// GetLead handles GET /leads/{id}.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.service.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, lead)
}

// SubscribeNewsletter handles POST /leads/{id}/newsletter.
func (h *Handler) SubscribeNewsletter(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SubscribeNewsletter(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

// Unsubscribe handles GET /unsubscribe?token=...
//
// It is linked from email footers, so it answers with a small HTML page
// instead of the JSON envelope.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	if err := h.service.Unsubscribe(r.Context(), token); err != nil {
		http.Error(w, "invalid or expired unsubscribe link", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><p>You have been unsubscribed. You will not receive further messages from us.</p></body></html>"))
}
