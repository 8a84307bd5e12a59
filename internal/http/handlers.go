package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fayispachu/weather-widget/internal/catalog"
	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/lifecycle"
	"github.com/fayispachu/weather-widget/internal/session"
	"github.com/fayispachu/weather-widget/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 10

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	Thresholds lifecycle.Thresholds
	// BreakerState, when set, reports the provider circuit breaker state.
	BreakerState func() string
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions         *session.Manager
	catalog          *catalog.Catalog
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev lifecycle.Status
}

// NewHandler returns a new Handler.
func NewHandler(
	sessions *session.Manager,
	cat *catalog.Catalog,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Handler{
		sessions:     sessions,
		catalog:      cat,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type createSessionRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type searchRequest struct {
	Text *string `json:"text"`
}

type selectRequest struct {
	City string `json:"city"`
}

// CreateSession handles POST /sessions. An optional body carries the
// browser-reported position; without it the server's locator is used.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "request body must be JSON with latitude and longitude")
		return
	}

	var locator geo.Locator
	switch {
	case body.Latitude == nil && body.Longitude == nil:
	case body.Latitude == nil || body.Longitude == nil:
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "latitude and longitude must be given together")
		return
	default:
		coords, err := validation.ValidateCoordinates(*body.Latitude, *body.Longitude)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
			return
		}
		locator = geo.Static(coords)
	}

	s, err := h.sessions.Create(locator)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			writeError(w, r, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS", "Too many active sessions")
			return
		}
		loggerFrom(r, h.logger).Error("create session", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to create session")
		return
	}
	loggerFrom(r, h.logger).Info("session created", zap.String("session_id", s.ID()), zap.Bool("browser_position", locator != nil))
	writeJSON(w, http.StatusCreated, s.View())
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// PutSearch handles PUT /sessions/{id}/search, the text-input-changed event.
func (h *Handler) PutSearch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body searchRequest
	if err := decodeBody(r, &body, false); err != nil || body.Text == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SEARCH", "request body must be JSON with text")
		return
	}
	text, err := validation.ValidateSearch(*body.Text)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SEARCH", err.Error())
		return
	}
	view, err := s.SetSearch(text)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// PostSelect handles POST /sessions/{id}/select, the city-clicked event.
func (h *Handler) PostSelect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body selectRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", "request body must be JSON with city")
		return
	}
	city, err := validation.ValidateCity(body.City)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	view, err := s.SelectCity(city)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Delete(id); err != nil {
		writeSessionError(w, r, err)
		return
	}
	loggerFrom(r, h.logger).Info("session deleted", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// GetCities handles GET /cities?q=term. An empty term lists the whole catalog.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	q, err := validation.ValidateSearch(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SEARCH", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":  q,
		"cities": h.catalog.Filter(q),
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	var th lifecycle.Thresholds
	version := "dev"
	if h.healthConfig != nil {
		th = h.healthConfig.Thresholds
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	result := lifecycle.Evaluate(th)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(result.Status)),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.Status == lifecycle.StatusDegraded {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.BreakerState != nil {
		checks["circuitBreaker"] = h.healthConfig.BreakerState()
	}
	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   "weather-widget",
		"version":   version,
		"sessions":  h.sessions.Len(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeSessionError(w, r, err)
		return nil, false
	}
	return s, true
}

// decodeBody decodes a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// loggerFrom returns the request-scoped logger set by CorrelationIDMiddleware,
// falling back to fallback.
func loggerFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if l, ok := r.Context().Value("logger").(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeSessionError maps session errors. A closed session is reported as not
// found since it is about to leave the registry.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, session.ErrEmptyCity):
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unexpected session error")
	}
}
