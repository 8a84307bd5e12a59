package models

import (
	"fmt"
	"math"
	"time"
)

// IconURLTemplate is the OpenWeatherMap icon asset location. %s is the icon id.
const IconURLTemplate = "https://openweathermap.org/img/wn/%s@2x.png"

// Coordinates is a device position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates fall within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Snapshot is a single current-weather observation. It is replaced wholesale
// on each successful fetch.
type Snapshot struct {
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"`
	Condition   string    `json:"condition"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Timestamp   time.Time `json:"timestamp"`
}

// IconURL returns the icon asset URL, or "" when the snapshot has no icon.
func (s Snapshot) IconURL() string {
	if s.Icon == "" {
		return ""
	}
	return fmt.Sprintf(IconURLTemplate, s.Icon)
}

// DisplayTemperature rounds to the nearest whole degree, e.g. 30.4 -> "30°C".
// Halves round up, so -2.5 shows as "-2°C".
func (s Snapshot) DisplayTemperature() string {
	return fmt.Sprintf("%d°C", int(math.Floor(s.Temperature+0.5)))
}
