package rules

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrRuleNotFound, Status: http.StatusNotFound, Message: "alert rule not found"},
	{Error: domain.ErrRuleInvalid, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the rules module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new rules handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers alert rule routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// CreateRuleRequest represents the request body for creating a rule.
type CreateRuleRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=255"`
	Enabled     *bool    `json:"enabled"`
	MinSeverity *string  `json:"min_severity" validate:"omitempty,oneof=low medium high critical"`
	EventTypes  []string `json:"event_types" validate:"omitempty,dive,oneof=created status_changed comment_added severity_changed"`
	Keywords    []string `json:"keywords"`
	Channels    []string `json:"channels" validate:"required,min=1,dive,oneof=email sms webhook"`
	Recipients  []string `json:"recipients" validate:"required,min=1,dive,min=1"`
}

// UpdateRuleRequest represents the request body for updating a rule.
type UpdateRuleRequest struct {
	Name        *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Enabled     *bool    `json:"enabled"`
	MinSeverity *string  `json:"min_severity" validate:"omitempty,oneof=low medium high critical"`
	EventTypes  []string `json:"event_types" validate:"omitempty,dive,oneof=created status_changed comment_added severity_changed"`
	Keywords    []string `json:"keywords"`
	Channels    []string `json:"channels" validate:"omitempty,min=1,dive,oneof=email sms webhook"`
	Recipients  []string `json:"recipients" validate:"omitempty,min=1,dive,min=1"`
}

// Create handles POST /rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	input := CreateInput{
		Name:       req.Name,
		Enabled:    enabled,
		EventTypes: toEventTypes(req.EventTypes),
		Keywords:   req.Keywords,
		Channels:   toChannels(req.Channels),
		Recipients: req.Recipients,
	}
	if req.MinSeverity != nil {
		severity := domain.Severity(*req.MinSeverity)
		input.MinSeverity = &severity
	}

	rule, err := h.service.Create(r.Context(), input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, rule)
}

// Get handles GET /rules/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// List handles GET /rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.List(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rules)
}

// Update handles PATCH /rules/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateInput{
		Name:       req.Name,
		Enabled:    req.Enabled,
		Keywords:   req.Keywords,
		Recipients: req.Recipients,
	}
	if req.MinSeverity != nil {
		severity := domain.Severity(*req.MinSeverity)
		input.MinSeverity = &severity
	}
	if req.EventTypes != nil {
		input.EventTypes = toEventTypes(req.EventTypes)
	}
	if req.Channels != nil {
		input.Channels = toChannels(req.Channels)
	}

	rule, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// Delete handles DELETE /rules/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toEventTypes(in []string) []domain.EventType {
	if in == nil {
		return nil
	}
	out := make([]domain.EventType, len(in))
	for i, v := range in {
		out[i] = domain.EventType(v)
	}
	return out
}

func toChannels(in []string) []domain.ChannelType {
	if in == nil {
		return nil
	}
	out := make([]domain.ChannelType, len(in))
	for i, v := range in {
		out[i] = domain.ChannelType(v)
	}
	return out
}
