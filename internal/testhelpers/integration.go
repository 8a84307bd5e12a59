//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fayispachu/weather-widget/internal/client"
	"github.com/fayispachu/weather-widget/internal/observability"
	"github.com/fayispachu/weather-widget/internal/session"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey      string
	APIURL      string
	CountryCode string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}

	country, ok := os.LookupEnv("WEATHER_COUNTRY_CODE")
	if !ok {
		country = "IN"
	}

	return IntegrationTestConfig{APIKey: apiKey, APIURL: apiURL, CountryCode: country}
}

// SetupIntegrationClient creates a live OpenWeatherMap client with the circuit
// breaker enabled, as the service runs it.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(client.Options{
		APIKey:      cfg.APIKey,
		APIURL:      cfg.APIURL,
		CountryCode: cfg.CountryCode,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	c.EnableCircuitBreaker(client.BreakerConfig{Name: "weather_api_integration", Timeout: 30 * time.Second})
	return c
}

// SetupIntegrationManager returns a session manager backed by the live client.
// Sessions are closed when the test ends.
func SetupIntegrationManager(t *testing.T, cfg IntegrationTestConfig) *session.Manager {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	m := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Client: SetupIntegrationClient(t, cfg),
			Logger: logger.With(zap.String("test", t.Name())),
		},
		GeoTimeout: 2 * time.Second,
	})
	t.Cleanup(m.CloseAll)
	return m
}
