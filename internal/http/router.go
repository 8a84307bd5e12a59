package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fayispachu/weather-widget/internal/observability"
)

// RouterConfig controls middleware on the session API.
type RouterConfig struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter wires the widget API. Rate limiting covers the session and city
// routes; the request timeout skips the events stream.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.HandleFunc("/sessions/{id}/events", h.Events).Methods(http.MethodGet)

	short := api.NewRoute().Subrouter()
	if cfg.RequestTimeout > 0 {
		short.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	short.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet)
	short.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	short.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	short.HandleFunc("/sessions/{id}", h.DeleteSession).Methods(http.MethodDelete)
	short.HandleFunc("/sessions/{id}/search", h.PutSearch).Methods(http.MethodPut)
	short.HandleFunc("/sessions/{id}/select", h.PostSelect).Methods(http.MethodPost)

	return router
}
