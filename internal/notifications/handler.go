package notifications

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/incidents"
	"github.com/opsrelay/incident-backend/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEventNotFound, Status: http.StatusNotFound, Message: "notification event not found"},
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notify", h.NotifyAdHoc)
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/stats", h.QueueStats)
		r.Get("/{dedupeKey}", h.GetReceipt)
	})
}

// NotifyRequest represents the request body for an ad hoc notification.
type NotifyRequest struct {
	IncidentID     string   `json:"incident_id" validate:"required,uuid4"`
	Subject        string   `json:"subject" validate:"required,min=1,max=255"`
	Message        string   `json:"message" validate:"required,min=1,max=10000"`
	Channels       []string `json:"channels" validate:"required,min=1,dive,oneof=email sms webhook"`
	Recipients     []string `json:"recipients" validate:"required,min=1,dive,min=1,max=512"`
	IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,min=1,max=255"`
}

// NotifyAdHoc handles POST /notify.
func (h *Handler) NotifyAdHoc(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channels := make([]domain.ChannelType, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = domain.ChannelType(c)
	}

	receipt, err := h.service.NotifyAdHoc(r.Context(), AdHocInput{
		IncidentID:     req.IncidentID,
		Subject:        req.Subject,
		Message:        req.Message,
		Channels:       channels,
		Recipients:     req.Recipients,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusAccepted
	if receipt.Deduplicated {
		status = http.StatusOK
	}
	httputil.Success(w, status, receipt)
}

// GetReceipt handles GET /notifications/{dedupeKey}.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	dedupeKey := chi.URLParam(r, "dedupeKey")

	receipt, err := h.service.GetReceipt(r.Context(), dedupeKey)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, receipt)
}

// QueueStats handles GET /notifications/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}
