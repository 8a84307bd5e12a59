package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fayispachu/weather-widget/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap call rate by lookup kind (city, coordinates). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Widget fetch cycles by outcome (loaded, errored, superseded).
	WidgetFetchesTotal *prometheus.CounterVec

	// Live widget sessions.
	WidgetSessionsActive prometheus.Gauge

	// Sessions closed by the idle reaper.
	WidgetSessionsReapedTotal prometheus.Counter

	// Geolocation outcomes per session start (unavailable, timeout, resolved, lookup_failed).
	WidgetGeolocationTotal *prometheus.CounterVec

	// Debounced search terms that reached the catalog filter.
	WidgetDebounceEmitsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"kind", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind", "status"},
	)
	WidgetFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetFetchesTotal",
			Help: "Widget fetch cycles by outcome",
		},
		[]string{"outcome"},
	)
	WidgetSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "widgetSessionsActive",
			Help: "Number of live widget sessions",
		},
	)
	WidgetSessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "widgetSessionsReapedTotal",
			Help: "Total number of sessions closed for inactivity",
		},
	)
	WidgetGeolocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetGeolocationTotal",
			Help: "Geolocation attempts by outcome",
		},
		[]string{"outcome"},
	)
	WidgetDebounceEmitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "widgetDebounceEmitsTotal",
			Help: "Total number of debounced search terms applied",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration,
		WidgetFetchesTotal, WidgetSessionsActive, WidgetSessionsReapedTotal,
		WidgetGeolocationTotal, WidgetDebounceEmitsTotal,
		RateLimitDeniedTotal, CircuitBreakerState,
	)
}

// RegisterTrafficGauges registers sliding-window gauges for provider outcomes and
// rate-limit denials. Call from main after config load.
func RegisterTrafficGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherApiErrorsInWindow",
					Help: "Failed provider lookups in sliding window",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
