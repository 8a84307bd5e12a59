package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fayispachu/weather-widget/internal/catalog"
	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/models"
)

// Config holds widget and service configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	WeatherAPIKey     string        `validate:"required"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`
	CountryCode       string        `validate:"omitempty,alpha,len=2"`

	CircuitBreaker CircuitBreaker

	DefaultCity string        `validate:"required"`
	Cities      []string      `validate:"min=1,dive,required"`
	Debounce    time.Duration `validate:"gt=0"`

	GeoTimeout     time.Duration `validate:"gt=0"`
	GeoLatitude    *float64      `validate:"required_with=GeoLongitude,omitempty,gte=-90,lte=90"`
	GeoLongitude   *float64      `validate:"required_with=GeoLatitude,omitempty,gte=-180,lte=180"`
	GeoAddress     Address
	GeocoderAPIKey string

	MaxSessions         int           `validate:"gte=0"`
	SessionIdleTTL      time.Duration `validate:"gt=0"`
	SessionReapInterval time.Duration `validate:"gt=0"`

	RateLimitRPS   int `validate:"gt=0"`
	RateLimitBurst int `validate:"gt=0"`

	RequestTimeout time.Duration `validate:"gtfield=WeatherAPITimeout"`

	ShutdownTimeout               time.Duration `validate:"gt=0"`
	ShutdownInFlightTimeout       time.Duration `validate:"gt=0"`
	ShutdownInFlightCheckInterval time.Duration `validate:"gt=0"`

	DegradedWindow       time.Duration `validate:"gt=0,lte=5m"`
	DegradedErrorPct     int           `validate:"gt=0,lte=100"`
	OverloadWindow       time.Duration `validate:"gt=0,lte=5m"`
	OverloadThresholdPct int           `validate:"gt=0,lte=100"`
}

// CircuitBreaker configures the breaker around provider calls.
type CircuitBreaker struct {
	Enabled             bool
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Address is the street address geocoded into a server-side position.
type Address struct {
	City    string
	State   string
	Country string
}

// StaticPosition reports the configured latitude/longitude, if both are set.
func (c *Config) StaticPosition() (lat, lon float64, ok bool) {
	if c.GeoLatitude == nil || c.GeoLongitude == nil {
		return 0, 0, false
	}
	return *c.GeoLatitude, *c.GeoLongitude, true
}

// Locator picks where a session's position comes from when the client does
// not send one: fixed coordinates first, then a geocoded address. source is
// "coordinates", "address" or "none".
func (c *Config) Locator() (l geo.Locator, source string) {
	if lat, lon, ok := c.StaticPosition(); ok {
		return geo.Static(models.Coordinates{Latitude: lat, Longitude: lon}), "coordinates"
	}
	addr := geo.Address{City: c.GeoAddress.City, State: c.GeoAddress.State, Country: c.GeoAddress.Country}
	if strings.TrimSpace(c.GeocoderAPIKey) != "" && (addr.City != "" || addr.State != "" || addr.Country != "") {
		return geo.NewGeocodeLocator(c.GeocoderAPIKey, addr), "address"
	}
	return geo.Unavailable, "none"
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string  `yaml:"url"`
		Timeout        string  `yaml:"timeout"`
		CountryCode    *string `yaml:"country_code"`
		CircuitBreaker struct {
			Enabled             bool   `yaml:"enabled"`
			MaxRequests         uint32 `yaml:"max_requests"`
			Interval            string `yaml:"interval"`
			Timeout             string `yaml:"timeout"`
			ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Widget struct {
		DefaultCity string   `yaml:"default_city"`
		Cities      []string `yaml:"cities"`
		Debounce    string   `yaml:"debounce"`
	} `yaml:"widget"`

	Geolocation struct {
		Timeout   string   `yaml:"timeout"`
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
		Address   struct {
			City    string `yaml:"city"`
			State   string `yaml:"state"`
			Country string `yaml:"country"`
		} `yaml:"address"`
	} `yaml:"geolocation"`

	Sessions struct {
		Max          *int   `yaml:"max"`
		IdleTTL      string `yaml:"idle_ttl"`
		ReapInterval string `yaml:"reap_interval"`
	} `yaml:"sessions"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weather_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
}

var validate = validator.New()

// Dir returns the config directory: CONFIG_DIR if set, else ./config.
func Dir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("CONFIG_DIR")); dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}
	return filepath.Join(cwd, "config"), nil
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. Env vars override file values.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := fromFile(fc)
	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	cfg.GeocoderAPIKey = firstNonEmpty(os.Getenv("GEOCODER_API_KEY"), sec.GeocoderAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(strings.TrimSpace(fc.Server.Port), "8080")

	cfg.WeatherAPIURL = firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.URL), "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.CountryCode = "IN"
	if fc.WeatherAPI.CountryCode != nil {
		cfg.CountryCode = strings.ToUpper(strings.TrimSpace(*fc.WeatherAPI.CountryCode))
	}
	cb := fc.WeatherAPI.CircuitBreaker
	cfg.CircuitBreaker = CircuitBreaker{
		Enabled:             cb.Enabled,
		MaxRequests:         cb.MaxRequests,
		Interval:            parseDuration(cb.Interval, 60*time.Second),
		Timeout:             parseDuration(cb.Timeout, 30*time.Second),
		ConsecutiveFailures: cb.ConsecutiveFailures,
	}
	if cfg.CircuitBreaker.MaxRequests == 0 {
		cfg.CircuitBreaker.MaxRequests = 1
	}
	if cfg.CircuitBreaker.ConsecutiveFailures == 0 {
		cfg.CircuitBreaker.ConsecutiveFailures = 5
	}

	cfg.DefaultCity = firstNonEmpty(strings.TrimSpace(fc.Widget.DefaultCity), "Kozhikode")
	cfg.Cities = fc.Widget.Cities
	if len(cfg.Cities) == 0 {
		cfg.Cities = catalog.DefaultCities
	}
	cfg.Debounce = parseDuration(fc.Widget.Debounce, 300*time.Millisecond)

	cfg.GeoTimeout = parseDuration(fc.Geolocation.Timeout, 10*time.Second)
	cfg.GeoLatitude = fc.Geolocation.Latitude
	cfg.GeoLongitude = fc.Geolocation.Longitude
	cfg.GeoAddress = Address{
		City:    strings.TrimSpace(fc.Geolocation.Address.City),
		State:   strings.TrimSpace(fc.Geolocation.Address.State),
		Country: strings.TrimSpace(fc.Geolocation.Address.Country),
	}

	cfg.MaxSessions = 1000
	if fc.Sessions.Max != nil {
		cfg.MaxSessions = *fc.Sessions.Max
	}
	cfg.SessionIdleTTL = parseDuration(fc.Sessions.IdleTTL, 30*time.Minute)
	cfg.SessionReapInterval = parseDuration(fc.Sessions.ReapInterval, time.Minute)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	// An unset request timeout leaves room for one provider call.
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, cfg.WeatherAPITimeout+time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_URL")); v != "" {
		cfg.WeatherAPIURL = v
	}
	if v, ok := os.LookupEnv("WEATHER_COUNTRY_CODE"); ok {
		cfg.CountryCode = strings.ToUpper(strings.TrimSpace(v))
	}
	if v := strings.TrimSpace(os.Getenv("WEATHER_DEFAULT_CITY")); v != "" {
		cfg.DefaultCity = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		cfg.ServerPort = v
	}
}

// Validate checks field constraints and that the city list is a valid catalog.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := catalog.New(cfg.Cities); err != nil {
		return fmt.Errorf("invalid config: widget.cities: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
