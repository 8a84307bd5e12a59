package session

import (
	"encoding/json"
	"time"

	"github.com/fayispachu/weather-widget/internal/models"
)

// User-facing error messages. Every provider failure collapses into one of these.
const (
	MsgFetchFailed    = "Failed to fetch weather data. Please try again."
	MsgLocationFailed = "Failed to fetch current location weather data."
)

// Status names a display state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusErrored Status = "errored"
)

// State is the display state of a session. The variants are Idle, Loading,
// Loaded and Errored; each carries only the data valid for it.
type State interface {
	Status() Status
	isState()
}

// Idle is the state before the first fetch starts.
type Idle struct{}

// Loading means a fetch for City is in flight.
type Loading struct {
	City string
}

// Loaded holds the most recent successful snapshot.
type Loaded struct {
	Snapshot models.Snapshot
}

// Errored holds the message shown after a failed lookup. No snapshot is shown
// while errored.
type Errored struct {
	City    string
	Message string
}

func (Idle) Status() Status    { return StatusIdle }
func (Loading) Status() Status { return StatusLoading }
func (Loaded) Status() Status  { return StatusLoaded }
func (Errored) Status() Status { return StatusErrored }

func (Idle) isState()    {}
func (Loading) isState() {}
func (Loaded) isState()  {}
func (Errored) isState() {}

// View is a point-in-time copy of everything a renderer needs.
type View struct {
	ID              string
	SelectedCity    string
	SearchTerm      string
	DebouncedTerm   string
	Suggestions     []string
	ShowSuggestions bool
	State           State
}

type displayJSON struct {
	Temperature string `json:"temperature"`
}

type weatherJSON struct {
	Location    string      `json:"location"`
	Temperature float64     `json:"temperature"`
	Condition   string      `json:"condition"`
	Description string      `json:"description"`
	Icon        string      `json:"icon"`
	IconURL     string      `json:"iconUrl"`
	Timestamp   time.Time   `json:"timestamp"`
	Display     displayJSON `json:"display"`
}

type stateJSON struct {
	Status  Status       `json:"status"`
	City    string       `json:"city,omitempty"`
	Message string       `json:"message,omitempty"`
	Weather *weatherJSON `json:"weather,omitempty"`
}

type viewJSON struct {
	ID              string    `json:"id"`
	SelectedCity    string    `json:"selectedCity"`
	SearchTerm      string    `json:"searchTerm"`
	DebouncedTerm   string    `json:"debouncedTerm"`
	Suggestions     []string  `json:"suggestions"`
	ShowSuggestions bool      `json:"showSuggestions"`
	State           stateJSON `json:"state"`
}

func encodeState(st State) stateJSON {
	switch v := st.(type) {
	case Loading:
		return stateJSON{Status: StatusLoading, City: v.City}
	case Loaded:
		s := v.Snapshot
		return stateJSON{
			Status: StatusLoaded,
			City:   s.Location,
			Weather: &weatherJSON{
				Location:    s.Location,
				Temperature: s.Temperature,
				Condition:   s.Condition,
				Description: s.Description,
				Icon:        s.Icon,
				IconURL:     s.IconURL(),
				Timestamp:   s.Timestamp,
				Display:     displayJSON{Temperature: s.DisplayTemperature()},
			},
		}
	case Errored:
		return stateJSON{Status: StatusErrored, City: v.City, Message: v.Message}
	default:
		return stateJSON{Status: StatusIdle}
	}
}

// MarshalJSON renders the view in the wire shape used by the HTTP API and the
// event stream.
func (v View) MarshalJSON() ([]byte, error) {
	suggestions := v.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return json.Marshal(viewJSON{
		ID:              v.ID,
		SelectedCity:    v.SelectedCity,
		SearchTerm:      v.SearchTerm,
		DebouncedTerm:   v.DebouncedTerm,
		Suggestions:     suggestions,
		ShowSuggestions: v.ShowSuggestions,
		State:           encodeState(v.State),
	})
}
