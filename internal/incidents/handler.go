package incidents

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/pkg/httputil"
)

// Pagination limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrVersionConflict, Status: http.StatusConflict, Message: "incident was modified concurrently, re-read and retry"},
	{Error: ErrInvalidTransition, Status: http.StatusUnprocessableEntity},
	{Error: ErrIncidentClosed, Status: http.StatusUnprocessableEntity, Message: "incident is closed"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Put("/{id}/status", h.Transition)
		r.Get("/{id}/comments", h.ListComments)
		r.Post("/{id}/comments", h.AddComment)
		r.Get("/{id}/attachments", h.ListAttachments)
		r.Post("/{id}/attachments", h.AddAttachment)
		r.Get("/{id}/audit", h.ListTransitions)
	})
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=255"`
	Description string   `json:"description" validate:"required"`
	Severity    string   `json:"severity" validate:"required,oneof=low medium high critical"`
	Assignee    *string  `json:"assignee"`
	Tags        []string `json:"tags" validate:"omitempty,dive,min=1,max=64"`
}

// UpdateIncidentRequest represents the request body for updating incident
// fields. Version is the caller's last-known version for optimistic
// concurrency; zero skips the staleness check.
type UpdateIncidentRequest struct {
	Title       *string  `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string  `json:"description"`
	Severity    *string  `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Assignee    *string  `json:"assignee"`
	Tags        []string `json:"tags"`
	Version     int      `json:"version" validate:"omitempty,min=1"`
}

// TransitionRequest represents the request body for a status transition.
type TransitionRequest struct {
	Status  string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
	Version int    `json:"version" validate:"omitempty,min=1"`
}

// AddCommentRequest represents the request body for appending a comment.
type AddCommentRequest struct {
	Text string `json:"text" validate:"required,min=1,max=10000"`
}

// AddAttachmentRequest registers an object-store key on the incident.
// The blob itself lives in external object storage.
type AddAttachmentRequest struct {
	ObjectKey string `json:"object_key" validate:"required,min=1,max=1024"`
	FileName  string `json:"file_name" validate:"required,min=1,max=255"`
}

// Create handles POST /incidents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	incident, err := h.service.Create(r.Context(), CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.Severity(req.Severity),
		Assignee:    req.Assignee,
		Tags:        req.Tags,
	}, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// Get handles GET /incidents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// List handles GET /incidents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Limit: DefaultListLimit}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.Severity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		filter.Severity = &severity
	}
	if v := q.Get("assignee"); v != "" {
		filter.Assignee = &v
	}
	if v := q.Get("tag"); v != "" {
		filter.Tag = &v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(limit, MaxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	incidents, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// Update handles PUT /incidents/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
		Tags:        req.Tags,
		Version:     req.Version,
	}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}

	incident, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Transition handles PUT /incidents/{id}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	incident, err := h.service.Transition(r.Context(), id, domain.IncidentStatus(req.Status), req.Version, actor)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			httputil.Error(w, http.StatusUnprocessableEntity, invalid.Error())
			return
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// AddComment handles POST /incidents/{id}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := httputil.GetActor(r.Context())

	comment, err := h.service.AddComment(r.Context(), id, req.Text, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, comment)
}

// ListComments handles GET /incidents/{id}/comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	comments, err := h.service.ListComments(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, comments)
}

// AddAttachment handles POST /incidents/{id}/attachments.
func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	attachment, err := h.service.AddAttachment(r.Context(), id, req.ObjectKey, req.FileName)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, attachment)
}

// ListAttachments handles GET /incidents/{id}/attachments.
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	attachments, err := h.service.ListAttachments(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, attachments)
}

// ListTransitions handles GET /incidents/{id}/audit.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.service.ListTransitions(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}
