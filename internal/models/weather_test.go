package models

import "testing"

func TestSnapshot_DisplayTemperature(t *testing.T) {
	tests := []struct {
		temp float64
		want string
	}{
		{30.4, "30°C"},
		{30.5, "31°C"},
		{-0.4, "0°C"},
		{-2.6, "-3°C"},
		{-2.5, "-2°C"},
		{-0.5, "0°C"},
		{-1.5, "-1°C"},
		{0, "0°C"},
	}
	for _, tt := range tests {
		s := Snapshot{Temperature: tt.temp}
		if got := s.DisplayTemperature(); got != tt.want {
			t.Errorf("DisplayTemperature(%v) = %q, want %q", tt.temp, got, tt.want)
		}
	}
}

func TestSnapshot_IconURL(t *testing.T) {
	if got := (Snapshot{Icon: "01d"}).IconURL(); got != "https://openweathermap.org/img/wn/01d@2x.png" {
		t.Errorf("IconURL() = %q", got)
	}
	if got := (Snapshot{}).IconURL(); got != "" {
		t.Errorf("IconURL() with no icon = %q, want empty", got)
	}
}

func TestCoordinates_Valid(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinates
		want bool
	}{
		{"kozhikode", Coordinates{Latitude: 11.25, Longitude: 75.78}, true},
		{"poles", Coordinates{Latitude: -90, Longitude: 180}, true},
		{"lat out of range", Coordinates{Latitude: 91, Longitude: 0}, false},
		{"lon out of range", Coordinates{Latitude: 0, Longitude: -181}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
