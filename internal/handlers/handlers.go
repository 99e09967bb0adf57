package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"cubeos-upsmon/internal/monitor"
)

// StatusSource is the read side of the monitor controller.
type StatusSource interface {
	Status() monitor.Status
	Events() []monitor.Event
}

// UPSHandler serves the UPS monitor API.
type UPSHandler struct {
	src StatusSource
	log zerolog.Logger
}

// NewUPSHandler creates a handler backed by src.
func NewUPSHandler(src StatusSource, log zerolog.Logger) *UPSHandler {
	return &UPSHandler{
		src: src,
		log: log.With().Str("component", "HTTP").Logger(),
	}
}

// ErrorResponse is the body of every non-2xx reply.
// @Description Error response
type ErrorResponse struct {
	Error string `json:"error" example:"unknown event type"`
	Code  int    `json:"code" example:"400"`
}

// HealthResponse is the body of GET /health.
// @Description Service health
type HealthResponse struct {
	Status    string `json:"status" example:"ok"`
	Service   string `json:"service" example:"cubeos-upsmon"`
	Lifecycle string `json:"lifecycle" example:"attached"`
}

// EventsResponse is the body of GET /ups/events.
// @Description Recent power events, oldest first
type EventsResponse struct {
	Events []monitor.Event `json:"events"`
	Count  int             `json:"count" example:"3"`
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message, Code: status})
}

// HealthCheck reports whether monitoring is attached.
// @Summary Health check
// @Description Returns 200 while the monitor is attached, 503 otherwise
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *UPSHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	lifecycle := h.src.Status().Lifecycle
	resp := HealthResponse{Status: "ok", Service: "cubeos-upsmon", Lifecycle: lifecycle}
	if lifecycle != monitor.Attached.String() {
		resp.Status = "unavailable"
		jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// GetStatus returns the monitor snapshot.
// @Summary Get UPS monitor status
// @Description Returns power state, pending shutdown deadline, UPS heartbeat state and recent events
// @Tags UPS
// @Produce json
// @Success 200 {object} monitor.Status
// @Router /ups/status [get]
func (h *UPSHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.src.Status())
}

// GetEvents returns recent power events.
// @Summary Get power events
// @Description Returns the recent event ring, optionally filtered by type and limited to the newest N
// @Tags UPS
// @Produce json
// @Param type query string false "Event type" example(ac_lost)
// @Param limit query int false "Newest N events" example(10)
// @Success 200 {object} EventsResponse
// @Failure 400 {object} ErrorResponse
// @Router /ups/events [get]
func (h *UPSHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events := h.src.Events()

	if t := r.URL.Query().Get("type"); t != "" {
		if !validEventType(monitor.EventType(t)) {
			errorResponse(w, http.StatusBadRequest, "unknown event type: "+t)
			return
		}
		filtered := make([]monitor.Event, 0, len(events))
		for _, ev := range events {
			if ev.Type == monitor.EventType(t) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < len(events) {
			events = events[len(events)-n:]
		}
	}

	jsonResponse(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func validEventType(t monitor.EventType) bool {
	switch t {
	case monitor.EventStarted, monitor.EventStopped,
		monitor.EventACLost, monitor.EventACRestored,
		monitor.EventShutdownPending, monitor.EventShutdownCancelled,
		monitor.EventShutdownExecuting, monitor.EventShutdownFailed,
		monitor.EventUPSOnline, monitor.EventUPSOffline, monitor.EventHeartbeatMissing:
		return true
	}
	return false
}
