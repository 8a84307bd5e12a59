package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fayispachu/weather-widget/internal/models"
	"github.com/fayispachu/weather-widget/internal/observability"
	"github.com/fayispachu/weather-widget/internal/traffic"
)

// WeatherClient looks up current weather by city name or by coordinates.
// Every call is a single attempt; callers decide what a failure means.
type WeatherClient interface {
	GetByCity(ctx context.Context, city string) (models.Snapshot, error)
	GetByCoordinates(ctx context.Context, coords models.Coordinates) (models.Snapshot, error)
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

const (
	kindCity        = "city"
	kindCoordinates = "coordinates"
)

// Options configures an OpenWeatherClient.
type Options struct {
	APIKey      string
	APIURL      string
	CountryCode string // appended to city lookups as "q={city},{country}"; empty omits it
	Timeout     time.Duration
	HTTPClient  *http.Client // defaults to a client with Timeout
}

// OpenWeatherClient calls the OpenWeatherMap current-weather endpoint.
type OpenWeatherClient struct {
	apiKey      string
	apiURL      string
	countryCode string
	timeout     time.Duration
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient validates opts and returns a client.
func NewOpenWeatherClient(opts Options) (*OpenWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(opts.APIURL); err != nil || opts.APIURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", opts.APIURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &OpenWeatherClient{
		apiKey:      opts.APIKey,
		apiURL:      opts.APIURL,
		countryCode: strings.TrimSpace(opts.CountryCode),
		timeout:     opts.Timeout,
		client:      hc,
	}, nil
}

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open duration before half-open
	ConsecutiveFailures uint32        // trips the breaker
}

// EnableCircuitBreaker wraps every provider call in a gobreaker.CircuitBreaker.
// While open, calls fail with ErrCircuitOpen without touching the network.
func (c *OpenWeatherClient) EnableCircuitBreaker(cfg BreakerConfig) {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	threshold := cfg.ConsecutiveFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Unknown cities and superseded requests say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrLocationNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
}

// BreakerState returns the breaker state, or "disabled".
func (c *OpenWeatherClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// GetByCity looks up a city, qualified with the configured country code.
func (c *OpenWeatherClient) GetByCity(ctx context.Context, city string) (models.Snapshot, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return models.Snapshot{}, fmt.Errorf("%w: empty city", ErrLocationNotFound)
	}
	q := city
	if c.countryCode != "" {
		q = city + "," + c.countryCode
	}
	params := url.Values{}
	params.Set("q", q)
	return c.call(ctx, kindCity, params, city)
}

// GetByCoordinates is the reverse lookup: the provider reports the name of the
// place nearest to coords.
func (c *OpenWeatherClient) GetByCoordinates(ctx context.Context, coords models.Coordinates) (models.Snapshot, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	snap, err := c.call(ctx, kindCoordinates, params, "")
	if err != nil {
		return models.Snapshot{}, err
	}
	if snap.Location == "" {
		return models.Snapshot{}, fmt.Errorf("%w: reverse lookup returned no name", ErrMalformedResponse)
	}
	return snap, nil
}

func (c *OpenWeatherClient) call(ctx context.Context, kind string, params url.Values, fallbackName string) (models.Snapshot, error) {
	var snap models.Snapshot
	var err error
	if c.breaker != nil {
		var res interface{}
		res, err = c.breaker.Execute(func() (interface{}, error) {
			return c.callAPI(ctx, kind, params, fallbackName)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		} else if err == nil {
			snap = res.(models.Snapshot)
		}
	} else {
		snap, err = c.callAPI(ctx, kind, params, fallbackName)
	}

	switch {
	case err == nil, errors.Is(err, ErrLocationNotFound):
		// An unknown city is a healthy provider answer.
		traffic.RecordSuccess()
	case !errors.Is(err, context.Canceled):
		traffic.RecordError()
	}
	if err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, kind string, params url.Values, fallbackName string) (models.Snapshot, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(kind, "error").Inc()
		return models.Snapshot{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(kind, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(kind, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.Canceled) {
			return models.Snapshot{}, fmt.Errorf("request canceled: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Snapshot{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Snapshot{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(kind, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return models.Snapshot{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return mapResponse(apiResp, fallbackName)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// mapResponse requires main and at least one weather entry; anything less is
// malformed. An empty name falls back to the requested city.
func mapResponse(apiResp openWeatherResponse, fallbackName string) (models.Snapshot, error) {
	if apiResp.Main == nil {
		return models.Snapshot{}, fmt.Errorf("%w: missing main", ErrMalformedResponse)
	}
	if len(apiResp.Weather) == 0 {
		return models.Snapshot{}, fmt.Errorf("%w: missing weather", ErrMalformedResponse)
	}

	name := apiResp.Name
	if name == "" {
		name = fallbackName
	}

	w := apiResp.Weather[0]
	return models.Snapshot{
		Location:    name,
		Temperature: apiResp.Main.Temp,
		Condition:   w.Main,
		Description: w.Description,
		Icon:        w.Icon,
		Timestamp:   time.Now(),
	}, nil
}

// correlationIDKey matches the key the HTTP middleware stores the request's
// correlation ID under.
const correlationIDKey = "correlation_id"

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value(correlationIDKey); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one lookup for city and reports whether the provider
// accepted the key. Used once at startup.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context, city string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", city)
	req, err := c.buildRequest(ctx, params)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
