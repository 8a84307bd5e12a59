package geo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/fayispachu/weather-widget/internal/models"
)

// Address is the street address a GeocodeLocator resolves.
type Address struct {
	City    string
	State   string
	Country string
}

func (a Address) empty() bool {
	return strings.TrimSpace(a.City) == "" && strings.TrimSpace(a.State) == "" && strings.TrimSpace(a.Country) == ""
}

// geocoder keeps its API key in a package variable.
var geocoderKeyMu sync.Mutex

// geocodeFunc is swapped in tests.
var geocodeFunc = func(apiKey string, a geocoder.Address) (geocoder.Location, error) {
	geocoderKeyMu.Lock()
	defer geocoderKeyMu.Unlock()
	geocoder.ApiKey = apiKey
	return geocoder.Geocoding(a)
}

// GeocodeLocator turns a configured address into a position through Google
// Geocoding. The position is looked up once and remembered.
type GeocodeLocator struct {
	apiKey  string
	address Address

	once   sync.Once
	coords models.Coordinates
	err    error
}

// NewGeocodeLocator returns a locator for address. It reports ErrUnavailable
// when the key or address is missing.
func NewGeocodeLocator(apiKey string, address Address) *GeocodeLocator {
	return &GeocodeLocator{apiKey: strings.TrimSpace(apiKey), address: address}
}

// CurrentPosition geocodes the address on first use.
func (g *GeocodeLocator) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if g.apiKey == "" || g.address.empty() {
		return models.Coordinates{}, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	g.once.Do(func() {
		loc, err := geocodeFunc(g.apiKey, geocoder.Address{
			City:    g.address.City,
			State:   g.address.State,
			Country: g.address.Country,
		})
		if err != nil {
			g.err = fmt.Errorf("geocode %s: %w", g.address.City, err)
			return
		}
		g.coords = models.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}
	})
	if g.err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, g.err)
	}
	return g.coords, nil
}
