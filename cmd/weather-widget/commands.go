package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fayispachu/weather-widget/internal/catalog"
	"github.com/fayispachu/weather-widget/internal/client"
	"github.com/fayispachu/weather-widget/internal/config"
	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/observability"
	"github.com/fayispachu/weather-widget/internal/session"
	"github.com/fayispachu/weather-widget/internal/tui"
	"github.com/fayispachu/weather-widget/internal/validation"
)

// Widget flags
var (
	configEnv  string
	city       string
	country    string
	latitude   float64
	longitude  float64
	debounce   time.Duration
	geoTimeout time.Duration
	logFile    string
)

var errNotTerminal = errors.New("weather-widget needs an interactive terminal; try 'weather-widget cities' for plain output")

func init() {
	bindWidgetFlags(rootCmd)
}

func bindWidgetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configEnv, "config-env", "", "Config environment name (reads config/<name>.yaml)")
	f.StringVar(&city, "city", "", "Starting city (overrides default_city)")
	f.StringVar(&country, "country", "", "ISO 3166 country code appended to city lookups")
	f.Float64Var(&latitude, "lat", 0, "Latitude of the current position")
	f.Float64Var(&longitude, "lon", 0, "Longitude of the current position")
	f.DurationVar(&debounce, "debounce", 0, "Search debounce delay (e.g. 300ms)")
	f.DurationVar(&geoTimeout, "geo-timeout", 0, "How long to wait for a position")
	f.StringVar(&logFile, "log-file", "", "Write logs to this file (default: no logs)")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
}

var citiesCmd = &cobra.Command{
	Use:   "cities [term]",
	Short: "List catalog cities matching term",
	Long: `Print the built-in cities whose names contain term, ignoring case.
Without a term every city is listed.`,
	Example: `  weather-widget cities
  weather-widget cities kol`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCities,
}

func runCities(cmd *cobra.Command, args []string) error {
	q := ""
	if len(args) == 1 {
		t, err := validation.ValidateSearch(args[0])
		if err != nil {
			return err
		}
		q = t
	}
	matches := catalog.Default().Filter(q)
	if len(matches) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No cities match %q.\n", q)
		return nil
	}
	for _, name := range matches {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runWidget(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return errNotTerminal
	}

	logger, err := observability.NewFileLogger(logFile)
	if err != nil {
		return err
	}
	defer func() { _ = observability.Flush(logger) }()

	if configEnv != "" {
		if err := os.Setenv("ENV_NAME", configEnv); err != nil {
			return fmt.Errorf("set ENV_NAME: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:      cfg.WeatherAPIKey,
		APIURL:      cfg.WeatherAPIURL,
		CountryCode: cfg.CountryCode,
		Timeout:     cfg.WeatherAPITimeout,
	})
	if err != nil {
		return err
	}
	if cfg.CircuitBreaker.Enabled {
		weatherClient.EnableCircuitBreaker(client.BreakerConfig{
			Name:                "weather_api",
			MaxRequests:         cfg.CircuitBreaker.MaxRequests,
			Interval:            cfg.CircuitBreaker.Interval,
			Timeout:             cfg.CircuitBreaker.Timeout,
			ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
		})
	}

	cities, err := catalog.New(cfg.Cities)
	if err != nil {
		return err
	}
	locator, source := cfg.Locator()
	logger.Info("widget starting",
		zap.String("default_city", cfg.DefaultCity),
		zap.String("geolocation", source))

	s, err := session.New(session.Config{
		Client:      weatherClient,
		Catalog:     cities,
		DefaultCity: cfg.DefaultCity,
		Debounce:    cfg.Debounce,
		Resolver:    geo.NewResolver(locator, cfg.GeoTimeout),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Start(); err != nil {
		return err
	}

	model := tui.New(s)
	defer model.Close()
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("widget: %w", err)
	}
	return nil
}

// applyFlags layers explicitly set flags over the loaded config and
// re-validates it.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("city") {
		c, err := validation.ValidateCity(city)
		if err != nil {
			return fmt.Errorf("--city: %w", err)
		}
		cfg.DefaultCity = c
	}
	if flags.Changed("country") {
		cfg.CountryCode = strings.ToUpper(strings.TrimSpace(country))
	}
	if flags.Changed("lat") && flags.Changed("lon") {
		coords, err := validation.ValidateCoordinates(latitude, longitude)
		if err != nil {
			return fmt.Errorf("--lat/--lon: %w", err)
		}
		lat, lon := coords.Latitude, coords.Longitude
		cfg.GeoLatitude, cfg.GeoLongitude = &lat, &lon
	}
	if flags.Changed("debounce") {
		cfg.Debounce = debounce
	}
	if flags.Changed("geo-timeout") {
		cfg.GeoTimeout = geoTimeout
	}
	return config.Validate(cfg)
}
