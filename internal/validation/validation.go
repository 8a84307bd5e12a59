package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/fayispachu/weather-widget/internal/models"
)

const (
	// MaxCityLength bounds a city name in runes.
	MaxCityLength = 100
	// MaxSearchLength bounds the raw search box text in runes.
	MaxSearchLength = 100
)

// ErrCityEmpty is returned when a city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when a city name exceeds MaxCityLength.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when a city name contains disallowed characters.
// Commas are rejected because the provider query uses one to separate the country.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrSearchTooLong is returned when search text exceeds MaxSearchLength.
var ErrSearchTooLong = errors.New("search text too long")

// ErrSearchInvalidChars is returned when search text contains control characters.
var ErrSearchInvalidChars = errors.New("search text contains control characters")

// ErrCoordinatesOutOfRange is returned for latitude outside [-90, 90] or
// longitude outside [-180, 180].
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ValidateCity trims the input, enforces MaxCityLength and restricts to
// letters (Unicode), digits, space, hyphen, apostrophe and period.
// Returns the trimmed name or an error suitable for 400 INVALID_CITY responses.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > MaxCityLength {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// ValidateSearch accepts any printable text up to MaxSearchLength, including
// the empty string. The text is returned unchanged; lowercasing belongs to
// the session.
func ValidateSearch(input string) (string, error) {
	if len([]rune(input)) > MaxSearchLength {
		return "", ErrSearchTooLong
	}
	for _, c := range input {
		if unicode.IsControl(c) {
			return "", ErrSearchInvalidChars
		}
	}
	return input, nil
}

// ValidateCoordinates checks a browser-reported position.
func ValidateCoordinates(lat, lon float64) (models.Coordinates, error) {
	c := models.Coordinates{Latitude: lat, Longitude: lon}
	if !c.Valid() {
		return models.Coordinates{}, ErrCoordinatesOutOfRange
	}
	return c, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', '-', '\'', '.':
		return true
	}
	return false
}
