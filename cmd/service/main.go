package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fayispachu/weather-widget/internal/catalog"
	"github.com/fayispachu/weather-widget/internal/client"
	"github.com/fayispachu/weather-widget/internal/config"
	"github.com/fayispachu/weather-widget/internal/geo"
	httphandler "github.com/fayispachu/weather-widget/internal/http"
	"github.com/fayispachu/weather-widget/internal/lifecycle"
	"github.com/fayispachu/weather-widget/internal/observability"
	"github.com/fayispachu/weather-widget/internal/session"
)

var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:      cfg.WeatherAPIKey,
		APIURL:      cfg.WeatherAPIURL,
		CountryCode: cfg.CountryCode,
		Timeout:     cfg.WeatherAPITimeout,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreaker.Enabled {
		weatherClient.EnableCircuitBreaker(client.BreakerConfig{
			Name:                "weather_api",
			MaxRequests:         cfg.CircuitBreaker.MaxRequests,
			Interval:            cfg.CircuitBreaker.Interval,
			Timeout:             cfg.CircuitBreaker.Timeout,
			ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
		})
		logger.Info("circuit breaker enabled",
			zap.Uint32("consecutive_failures", cfg.CircuitBreaker.ConsecutiveFailures),
			zap.Duration("timeout", cfg.CircuitBreaker.Timeout))
	}

	validateCtx, validateCancel := context.WithTimeout(context.Background(), cfg.WeatherAPITimeout)
	if err := weatherClient.ValidateAPIKey(validateCtx, cfg.DefaultCity); err != nil {
		logger.Warn("weather API key check failed; lookups may fail", zap.Error(err))
	}
	validateCancel()

	cities, err := catalog.New(cfg.Cities)
	if err != nil {
		logger.Fatal("city catalog", zap.Error(err))
	}

	sessions := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Client:      weatherClient,
			Catalog:     cities,
			DefaultCity: cfg.DefaultCity,
			Debounce:    cfg.Debounce,
			Logger:      logger,
		},
		Locator:    serverLocator(cfg, logger),
		GeoTimeout: cfg.GeoTimeout,
		Max:        cfg.MaxSessions,
	})

	reapCtx, stopReaper := context.WithCancel(context.Background())
	go sessions.Reap(reapCtx, cfg.SessionReapInterval, cfg.SessionIdleTTL)

	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	healthConfig := &httphandler.HealthConfig{
		Thresholds: lifecycle.Thresholds{
			OverloadWindow:       cfg.OverloadWindow,
			OverloadThresholdPct: cfg.OverloadThresholdPct,
			RateLimitRPS:         cfg.RateLimitRPS,
			DegradedWindow:       cfg.DegradedWindow,
			DegradedErrorPct:     cfg.DegradedErrorPct,
		},
		BreakerState: weatherClient.BreakerState,
		Version:      version,
	}
	handler := httphandler.NewHandler(sessions, cities, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	// No WriteTimeout: event streams stay open for the life of a session.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("default_city", cfg.DefaultCity),
			zap.Int("cities", cities.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	// Closing sessions ends their event streams, which Shutdown does not track.
	logger.Info("closing sessions", zap.Int("count", sessions.Len()))
	sessions.CloseAll()

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.Flush(logger); err != nil {
		fmt.Fprintf(os.Stderr, "log flush: %v\n", err)
	}
	logger.Info("shutdown complete")
}

func serverLocator(cfg *config.Config, logger *zap.Logger) geo.Locator {
	l, source := cfg.Locator()
	switch source {
	case "coordinates":
		lat, lon, _ := cfg.StaticPosition()
		logger.Info("geolocation from configured coordinates", zap.Float64("latitude", lat), zap.Float64("longitude", lon))
	case "address":
		logger.Info("geolocation from geocoded address", zap.String("city", cfg.GeoAddress.City), zap.String("country", cfg.GeoAddress.Country))
	default:
		logger.Info("geolocation unavailable; sessions start on the default city")
	}
	return l
}
