package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrDeliveryNotFound, Status: http.StatusNotFound, Message: "delivery record not found"},
	{Error: ErrChannelUnavailable, Status: http.StatusBadRequest, Message: "channel is not available"},
	{Error: ErrNoAudience, Status: http.StatusBadRequest},
	{Error: ErrInvalidAudience, Status: http.StatusBadRequest},
	{Error: ErrAudienceNotSupported, Status: http.StatusBadRequest},
	{Error: ErrInvalidState, Status: http.StatusBadRequest},
	{Error: domain.ErrEmptyBody, Status: http.StatusBadRequest},
	{Error: domain.ErrMissingTitle, Status: http.StatusBadRequest},
	{Error: domain.ErrMissingSubject, Status: http.StatusBadRequest},
	{Error: domain.ErrUnknownChannel, Status: http.StatusBadRequest},
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

// RegisterRoutes registers notification routes (require API key).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Dispatch)
		r.Get("/", h.ListDeliveries)
		r.Get("/config", h.GetNotificationsConfig)
		r.Get("/process-scheduled", h.ProcessScheduled)
		r.Get("/{id}", h.GetDelivery)
	})
}

// CustomData carries caller-supplied recipients for the custom user group.
type CustomData struct {
	Tokens []string `json:"tokens"`
	Phones []string `json:"phones"`
	Emails []string `json:"emails"`
}

// DispatchNotificationRequest represents request body for sending a notification.
type DispatchNotificationRequest struct {
	Channel      string               `json:"channel" validate:"required,oneof=push whatsapp email"`
	UserGroups   []string             `json:"user_groups" validate:"omitempty,dive,required"`
	UserGroup    string               `json:"user_group"`
	Title        string               `json:"title" validate:"max=256"`
	Subject      string               `json:"subject" validate:"max=256"`
	Body         string               `json:"body" validate:"required"`
	ImageURL     string               `json:"image_url" validate:"omitempty,url"`
	TemplateID   string               `json:"template_id"`
	ScheduledFor *time.Time           `json:"scheduled_for"`
	CustomData   *CustomData          `json:"custom_data"`
	CampaignMeta *domain.CampaignMeta `json:"campaign_meta"`
}

func (req DispatchNotificationRequest) audiences() []domain.Audience {
	groups := req.UserGroups
	if len(groups) == 0 && req.UserGroup != "" {
		groups = []string{req.UserGroup}
	}
	out := make([]domain.Audience, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.Audience(g))
	}
	return out
}

func (req DispatchNotificationRequest) custom(channel domain.Channel) []string {
	if req.CustomData == nil {
		return nil
	}
	switch channel {
	case domain.ChannelPush:
		return req.CustomData.Tokens
	case domain.ChannelWhatsApp:
		return req.CustomData.Phones
	case domain.ChannelEmail:
		return req.CustomData.Emails
	}
	return nil
}

// DeliverySummary is the per-group view returned by the dispatch endpoint.
type DeliverySummary struct {
	ID             string               `json:"id"`
	Channel        domain.Channel       `json:"channel"`
	UserGroup      domain.Audience      `json:"user_group"`
	State          domain.DeliveryState `json:"state"`
	ScheduledFor   *time.Time           `json:"scheduled_for,omitempty"`
	SentCount      int                  `json:"sent_count"`
	DeliveredCount int                  `json:"delivered_count"`
	FailedCount    int                  `json:"failed_count"`
	Error          string               `json:"error,omitempty"`
}

// DispatchNotificationResponse represents the dispatch endpoint result.
type DispatchNotificationResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Deliveries   []DeliverySummary `json:"deliveries"`
}

// ProcessScheduledResponse represents the sweep endpoint result.
type ProcessScheduledResponse struct {
	Processed int            `json:"processed"`
	Results   []SweepOutcome `json:"results"`
}

// Dispatch handles POST /notifications.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channel := domain.Channel(req.Channel)
	content, err := domain.NewContent(channel, req.Title, req.Subject, req.Body, req.ImageURL)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	result, err := h.service.Dispatch(r.Context(), DispatchRequest{
		Content:      content,
		Audiences:    req.audiences(),
		Custom:       req.custom(channel),
		TemplateID:   req.TemplateID,
		CampaignMeta: req.CampaignMeta,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := DispatchNotificationResponse{
		Success:      true,
		ScheduledFor: result.ScheduledFor,
		Deliveries:   make([]DeliverySummary, 0, len(result.Records)),
	}
	for _, rec := range result.Records {
		resp.Deliveries = append(resp.Deliveries, summarize(rec))
	}

	status := http.StatusOK
	resp.Message = "notification processed"
	if result.Scheduled {
		status = http.StatusAccepted
		resp.Message = "notification scheduled"
	}

	httputil.Success(w, status, resp)
}

func summarize(rec *domain.DeliveryRecord) DeliverySummary {
	s := DeliverySummary{
		ID:             rec.ID,
		Channel:        rec.Channel,
		UserGroup:      rec.Audience,
		State:          rec.State,
		ScheduledFor:   rec.ScheduledFor,
		SentCount:      rec.SentCount,
		DeliveredCount: rec.DeliveredCount,
		FailedCount:    rec.FailedCount,
	}
	if rec.ResultMeta != nil {
		s.Error = rec.ResultMeta.Error
	}
	return s
}

// ProcessScheduled handles GET /notifications/process-scheduled.
func (h *Handler) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.ProcessScheduled(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, ProcessScheduledResponse{
		Processed: len(outcomes),
		Results:   outcomes,
	})
}

// GetDelivery handles GET /notifications/{id}.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rec)
}

// ListDeliveries handles GET /notifications.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := DeliveryFilter{
		Channel: domain.Channel(q.Get("channel")),
		State:   domain.DeliveryState(q.Get("state")),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}

	records, err := h.service.ListDeliveries(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, records)
}

// GetNotificationsConfig handles GET /notifications/config.
func (h *Handler) GetNotificationsConfig(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"available_channels": h.service.AvailableChannels(),
	})
}
