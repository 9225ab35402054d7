// Package api provides HTTP handlers for the realtime server REST API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coregx/realtime"
	"github.com/coregx/realtime/model"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	channels   *realtime.ChannelService
	messages   *realtime.MessageService
	dispatcher *realtime.Dispatcher
	listener   *realtime.ChangeListener // nil when the driver has no LISTEN/NOTIFY
	logger     realtime.Logger
}

// NewHandler creates a new API handler. The listener may be nil on databases
// without change notifications; health reporting degrades accordingly.
func NewHandler(
	channels *realtime.ChannelService,
	messages *realtime.MessageService,
	dispatcher *realtime.Dispatcher,
	listener *realtime.ChangeListener,
	logger realtime.Logger,
) *Handler {
	return &Handler{
		channels:   channels,
		messages:   messages,
		dispatcher: dispatcher,
		listener:   listener,
		logger:     logger,
	}
}

// PublishRequest represents a client publish request body.
type PublishRequest struct {
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// EventRequest represents a system event insert request body.
type EventRequest struct {
	Channel   string          `json:"channel"`
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleCreateChannel handles POST /api/v1/channels
func (h *Handler) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var in realtime.CreateChannelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	ch, err := h.channels.Create(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err, "Failed to create channel")
		return
	}

	h.respondSuccess(w, http.StatusCreated, ch, "Channel created successfully")
}

// HandleListChannels handles GET /api/v1/channels
func (h *Handler) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.List(r.Context())
	if err != nil {
		h.respondServiceError(w, err, "Failed to list channels")
		return
	}

	h.respondSuccess(w, http.StatusOK, channels, "")
}

// HandleGetChannel handles GET /api/v1/channels/{name}
func (h *Handler) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err, "Failed to load channel")
		return
	}

	h.respondSuccess(w, http.StatusOK, ch, "")
}

// HandleUpdateChannel handles PUT /api/v1/channels/{id}
func (h *Handler) HandleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var in realtime.UpdateChannelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	ch, err := h.channels.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.respondServiceError(w, err, "Failed to update channel")
		return
	}

	h.respondSuccess(w, http.StatusOK, ch, "Channel updated successfully")
}

// HandleDeleteChannel handles DELETE /api/v1/channels/{id}
func (h *Handler) HandleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.channels.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err, "Failed to delete channel")
		return
	}

	h.respondSuccess(w, http.StatusOK, nil, "Channel deleted successfully")
}

// HandlePublish handles POST /api/v1/channels/{name}/publish
//
// The caller identity and role arrive in the X-Caller-ID and X-Caller-Role
// headers; session handling belongs to whatever fronts this server.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	role := r.Header.Get("X-Caller-Role")
	if role == "" {
		role = model.RoleAuthenticated
	}

	result, err := h.dispatcher.Publish(r.Context(), realtime.PublishRequest{
		ChannelName: r.PathValue("name"),
		EventName:   req.EventName,
		Payload:     req.Payload,
		CallerID:    r.Header.Get("X-Caller-ID"),
		CallerRole:  role,
	})
	if err != nil {
		h.respondServiceError(w, err, "Failed to publish")
		return
	}

	h.respondSuccess(w, http.StatusCreated, result, "Event published successfully")
}

// HandleCreateEvent handles POST /api/v1/events
//
// Records a system event; delivery happens asynchronously through the
// change-notification listener.
func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	msg, err := h.messages.RecordSystemEvent(r.Context(), req.Channel, req.EventName, req.Payload)
	if err != nil {
		h.respondServiceError(w, err, "Failed to record event")
		return
	}

	h.respondSuccess(w, http.StatusAccepted, msg, "Event recorded, delivery pending")
}

// HandleListMessages handles GET /api/v1/messages
//
// Supported query parameters: channel, event, sender, limit, offset.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	messages, err := h.messages.List(r.Context(), realtime.MessageFilter{
		ChannelName: q.Get("channel"),
		EventName:   q.Get("event"),
		SenderType:  model.SenderType(q.Get("sender")),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.respondServiceError(w, err, "Failed to list messages")
		return
	}

	h.respondSuccess(w, http.StatusOK, messages, "")
}

// HandleMessageStats handles GET /api/v1/messages/stats
func (h *Handler) HandleMessageStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stats, err := h.messages.Stats(r.Context(), realtime.MessageFilter{
		ChannelName: q.Get("channel"),
		EventName:   q.Get("event"),
		SenderType:  model.SenderType(q.Get("sender")),
	})
	if err != nil {
		h.respondServiceError(w, err, "Failed to compute stats")
		return
	}

	h.respondSuccess(w, http.StatusOK, stats, "")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "0.1.0",
	}

	if h.listener != nil {
		health["listener"] = string(h.listener.State())
		if !h.listener.IsHealthy() {
			health["status"] = "degraded"
		}
	} else {
		health["listener"] = "unsupported"
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// respondServiceError maps service error codes onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var rtErr *realtime.Error
	if errors.As(err, &rtErr) {
		switch rtErr.Code {
		case realtime.ErrCodeNoData:
			h.respondError(w, http.StatusNotFound, rtErr.Message, rtErr.Code)
			return
		case realtime.ErrCodeValidation:
			h.respondError(w, http.StatusBadRequest, rtErr.Message, rtErr.Code)
			return
		case realtime.ErrCodeUnauthorized:
			h.respondError(w, http.StatusForbidden, rtErr.Message, rtErr.Code)
			return
		}
	}

	h.logger.Errorf("%s: %v", fallback, err)
	h.respondError(w, http.StatusInternalServerError, fallback, "INTERNAL_ERROR")
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
