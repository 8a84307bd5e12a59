package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/models"
)

type mockWeatherClient struct {
	mu        sync.Mutex
	byCity    func(ctx context.Context, city string) (models.Snapshot, error)
	byCoords  func(ctx context.Context, c models.Coordinates) (models.Snapshot, error)
	cityCalls []string
	geoCalls  int
}

func (m *mockWeatherClient) GetByCity(ctx context.Context, city string) (models.Snapshot, error) {
	m.mu.Lock()
	m.cityCalls = append(m.cityCalls, city)
	fn := m.byCity
	m.mu.Unlock()
	if fn == nil {
		return snapshotFor(city), nil
	}
	return fn(ctx, city)
}

func (m *mockWeatherClient) GetByCoordinates(ctx context.Context, c models.Coordinates) (models.Snapshot, error) {
	m.mu.Lock()
	m.geoCalls++
	fn := m.byCoords
	m.mu.Unlock()
	if fn == nil {
		return models.Snapshot{}, errors.New("no reverse lookup configured")
	}
	return fn(ctx, c)
}

func (m *mockWeatherClient) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cityCalls...)
}

func (m *mockWeatherClient) reverseLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.geoCalls
}

func snapshotFor(city string) models.Snapshot {
	return models.Snapshot{
		Location:    city,
		Temperature: 30.4,
		Condition:   "Clear",
		Description: "clear sky",
		Icon:        "01d",
	}
}

func newTestSession(t *testing.T, c *mockWeatherClient, locator geo.Locator, logger *zap.Logger) *Session {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := New(Config{
		Client:   c,
		Debounce: 20 * time.Millisecond,
		Resolver: geo.NewResolver(locator, 50*time.Millisecond),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitForView(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := s.View()
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last view: %+v", v)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForLog(t *testing.T, logs *observer.ObservedLogs, msg string) observer.LoggedEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if entries := logs.FilterMessage(msg).All(); len(entries) > 0 {
			return entries[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("log %q not written", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func loadedCity(city string) func(View) bool {
	return func(v View) bool {
		l, ok := v.State.(Loaded)
		return ok && l.Snapshot.Location == city
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without client should fail")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	v := s.View()
	if v.SelectedCity != DefaultCity {
		t.Errorf("SelectedCity = %q, want %q", v.SelectedCity, DefaultCity)
	}
	if _, ok := v.State.(Idle); !ok {
		t.Errorf("State = %#v, want Idle before Start", v.State)
	}
	if s.ID() == "" {
		t.Error("ID() is empty")
	}
}

func TestSession_StartTwice(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

// Default city loads and renders "30°C", "Kozhikode", "Clear", "clear sky".
func TestSession_DefaultCityLoads(t *testing.T) {
	c := &mockWeatherClient{}
	s := newTestSession(t, c, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	v := waitForView(t, s, loadedCity("Kozhikode"))
	snap := v.State.(Loaded).Snapshot
	if got := snap.DisplayTemperature(); got != "30°C" {
		t.Errorf("temperature = %q, want 30°C", got)
	}
	if snap.Condition != "Clear" || snap.Description != "clear sky" {
		t.Errorf("condition = %q/%q, want Clear/clear sky", snap.Condition, snap.Description)
	}
	if got := c.calls(); !reflect.DeepEqual(got, []string{"Kozhikode"}) {
		t.Errorf("fetches = %v, want [Kozhikode]", got)
	}
}

// Typing "koz" suggests only Kozhikode; clicking it clears the search, hides
// the overlay and starts a fetch.
func TestSession_SearchThenSelect(t *testing.T) {
	release := make(chan struct{})
	c := &mockWeatherClient{}
	s := newTestSession(t, c, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForView(t, s, loadedCity("Kozhikode"))

	c.mu.Lock()
	c.byCity = func(ctx context.Context, city string) (models.Snapshot, error) {
		<-release
		return snapshotFor(city), nil
	}
	c.mu.Unlock()

	v, err := s.SetSearch("Koz")
	if err != nil {
		t.Fatalf("SetSearch() error = %v", err)
	}
	if v.SearchTerm != "koz" {
		t.Errorf("SearchTerm = %q, want lowercased koz", v.SearchTerm)
	}
	if v.ShowSuggestions {
		t.Error("suggestions shown before debounce elapsed")
	}

	v = waitForView(t, s, func(v View) bool { return v.ShowSuggestions })
	if !reflect.DeepEqual(v.Suggestions, []string{"Kozhikode"}) {
		t.Errorf("Suggestions = %v, want [Kozhikode]", v.Suggestions)
	}

	v, err = s.SelectCity("Kozhikode")
	if err != nil {
		t.Fatalf("SelectCity() error = %v", err)
	}
	if v.SelectedCity != "Kozhikode" || v.SearchTerm != "" || v.DebouncedTerm != "" {
		t.Errorf("after click view = %+v", v)
	}
	if v.ShowSuggestions || len(v.Suggestions) != 0 {
		t.Errorf("suggestions still visible after click: %v", v.Suggestions)
	}
	if l, ok := v.State.(Loading); !ok || l.City != "Kozhikode" {
		t.Errorf("State = %#v, want Loading{Kozhikode}", v.State)
	}

	close(release)
	waitForView(t, s, loadedCity("Kozhikode"))
}

// A failed lookup shows the generic message and no snapshot, even though an
// earlier fetch succeeded.
func TestSession_FetchFailureHidesSnapshot(t *testing.T) {
	c := &mockWeatherClient{}
	s := newTestSession(t, c, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForView(t, s, loadedCity("Kozhikode"))

	c.mu.Lock()
	c.byCity = func(ctx context.Context, city string) (models.Snapshot, error) {
		return models.Snapshot{}, errors.New("dial tcp: connection refused")
	}
	c.mu.Unlock()

	if _, err := s.SelectCity("Kochi"); err != nil {
		t.Fatalf("SelectCity() error = %v", err)
	}
	v := waitForView(t, s, func(v View) bool { return v.State.Status() == StatusErrored })
	e := v.State.(Errored)
	if e.Message != MsgFetchFailed {
		t.Errorf("Message = %q, want %q", e.Message, MsgFetchFailed)
	}
	if e.City != "Kochi" || v.SelectedCity != "Kochi" {
		t.Errorf("Errored city = %q, selected = %q, want Kochi", e.City, v.SelectedCity)
	}
}

// Without a geolocation capability the default city stays, no error is shown,
// and the default fetch still happens.
func TestSession_NoGeolocation(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := &mockWeatherClient{}
	s := newTestSession(t, c, geo.Unavailable, zap.New(core))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	v := waitForView(t, s, loadedCity("Kozhikode"))
	if v.SelectedCity != "Kozhikode" {
		t.Errorf("SelectedCity = %q, want Kozhikode", v.SelectedCity)
	}
	entry := waitForLog(t, logs, "geolocation not used, keeping default city")
	if entry.Level != zap.InfoLevel {
		t.Errorf("log level = %v, want info", entry.Level)
	}
	if n := c.reverseLookups(); n != 0 {
		t.Errorf("reverse lookups = %d, want 0", n)
	}
	if v := s.View(); v.State.Status() != StatusLoaded {
		t.Errorf("State = %#v, want Loaded", v.State)
	}
}

// Two rapid selections where the first response arrives last: the final
// snapshot reflects the second selection.
func TestSession_SupersededFetchDiscarded(t *testing.T) {
	releaseA := make(chan struct{})
	var aCtxErr error
	aDone := make(chan struct{})
	c := &mockWeatherClient{}
	s := newTestSession(t, c, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForView(t, s, loadedCity("Kozhikode"))

	c.mu.Lock()
	c.byCity = func(ctx context.Context, city string) (models.Snapshot, error) {
		if city == "Kochi" {
			<-releaseA
			aCtxErr = ctx.Err()
			close(aDone)
			return snapshotFor("Kochi"), nil
		}
		return snapshotFor(city), nil
	}
	c.mu.Unlock()

	if _, err := s.SelectCity("Kochi"); err != nil {
		t.Fatalf("SelectCity(Kochi) error = %v", err)
	}
	if _, err := s.SelectCity("Kannur"); err != nil {
		t.Fatalf("SelectCity(Kannur) error = %v", err)
	}
	waitForView(t, s, loadedCity("Kannur"))

	close(releaseA)
	<-aDone
	s.Close()

	v := s.View()
	if !loadedCity("Kannur")(v) {
		t.Errorf("final state = %#v, want Loaded{Kannur}", v.State)
	}
	if !errors.Is(aCtxErr, context.Canceled) {
		t.Errorf("superseded fetch context error = %v, want context.Canceled", aCtxErr)
	}
}

// Reselecting the current city runs exactly one more fetch cycle.
func TestSession_ReselectSameCity(t *testing.T) {
	c := &mockWeatherClient{}
	s := newTestSession(t, c, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForView(t, s, loadedCity("Kozhikode"))

	v, err := s.SelectCity("Kozhikode")
	if err != nil {
		t.Fatalf("SelectCity() error = %v", err)
	}
	if v.State.Status() != StatusLoading {
		t.Errorf("State = %v, want loading", v.State.Status())
	}
	waitForView(t, s, loadedCity("Kozhikode"))
	if got := c.calls(); !reflect.DeepEqual(got, []string{"Kozhikode", "Kozhikode"}) {
		t.Errorf("fetches = %v, want two Kozhikode fetches", got)
	}
}

func TestSession_GeolocatedCity(t *testing.T) {
	c := &mockWeatherClient{
		byCoords: func(ctx context.Context, coords models.Coordinates) (models.Snapshot, error) {
			return snapshotFor("Kochi"), nil
		},
	}
	s := newTestSession(t, c, geo.Static(models.Coordinates{Latitude: 9.93, Longitude: 76.26}), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	v := waitForView(t, s, loadedCity("Kochi"))
	if v.SelectedCity != "Kochi" {
		t.Errorf("SelectedCity = %q, want Kochi", v.SelectedCity)
	}
	// The default-city fetch may record its call after Kochi's; only the
	// displayed result is ordered.
	if calls := c.calls(); !slices.Contains(calls, "Kochi") {
		t.Errorf("fetches = %v, want a Kochi fetch", calls)
	}
	if got := s.View(); got.SelectedCity != "Kochi" || !loadedCity("Kochi")(got) {
		t.Errorf("final view = %+v, want loaded Kochi", got)
	}
}

func TestSession_GeolocationTimeoutKeepsDefault(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	core, logs := observer.New(zap.DebugLevel)
	c := &mockWeatherClient{}
	s := newTestSession(t, c, geo.Func(func(context.Context) (models.Coordinates, error) {
		<-hang
		return models.Coordinates{}, nil
	}), zap.New(core))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	entry := waitForLog(t, logs, "geolocation not used, keeping default city")
	if got := entry.ContextMap()["reason"]; got != "timeout" {
		t.Errorf("reason = %v, want timeout", got)
	}
	v := waitForView(t, s, loadedCity("Kozhikode"))
	if v.SelectedCity != "Kozhikode" {
		t.Errorf("SelectedCity = %q, want Kozhikode", v.SelectedCity)
	}
}

func TestSession_ReverseLookupFailure(t *testing.T) {
	proceed := make(chan struct{})
	c := &mockWeatherClient{
		byCoords: func(ctx context.Context, coords models.Coordinates) (models.Snapshot, error) {
			return models.Snapshot{}, errors.New("upstream 500")
		},
	}
	locator := geo.Func(func(ctx context.Context) (models.Coordinates, error) {
		select {
		case <-proceed:
			return models.Coordinates{Latitude: 11.25, Longitude: 75.78}, nil
		case <-ctx.Done():
			return models.Coordinates{}, ctx.Err()
		}
	})
	s, err := New(Config{
		Client:   c,
		Resolver: geo.NewResolver(locator, 2*time.Second),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForView(t, s, loadedCity("Kozhikode"))
	close(proceed)

	v := waitForView(t, s, func(v View) bool { return v.State.Status() == StatusErrored })
	if msg := v.State.(Errored).Message; msg != MsgLocationFailed {
		t.Errorf("Message = %q, want %q", msg, MsgLocationFailed)
	}
	if v.SelectedCity != "Kozhikode" {
		t.Errorf("SelectedCity = %q, want unchanged Kozhikode", v.SelectedCity)
	}
}

func TestSession_LocationFailedWhileLoading(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	s.mu.Lock()
	s.state = Loading{City: "Kozhikode"}
	s.mu.Unlock()

	s.locationFailed()

	if st := s.View().State; st != (Loading{City: "Kozhikode"}) {
		t.Errorf("State = %#v, want Loading to be kept", st)
	}
}

func TestSession_ExplicitSelectionBeatsGeolocation(t *testing.T) {
	proceed := make(chan struct{})
	core, logs := observer.New(zap.DebugLevel)
	c := &mockWeatherClient{
		byCoords: func(ctx context.Context, coords models.Coordinates) (models.Snapshot, error) {
			return snapshotFor("Kannur"), nil
		},
	}
	locator := geo.Func(func(ctx context.Context) (models.Coordinates, error) {
		<-proceed
		return models.Coordinates{Latitude: 11.87, Longitude: 75.37}, nil
	})
	s, err := New(Config{
		Client:   c,
		Resolver: geo.NewResolver(locator, 2*time.Second),
		Logger:   zap.New(core),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.SelectCity("Thrissur"); err != nil {
		t.Fatalf("SelectCity() error = %v", err)
	}
	close(proceed)

	waitForLog(t, logs, "ignoring geolocated city after explicit selection")
	v := waitForView(t, s, loadedCity("Thrissur"))
	if v.SelectedCity != "Thrissur" {
		t.Errorf("SelectedCity = %q, want Thrissur", v.SelectedCity)
	}
}

func TestSession_SuggestionPolicy(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty term shows nothing", "", nil},
		{"no match", "xyz", []string{}},
		{"substring anywhere", "AM", []string{"Thiruvananthapuram", "Kollam", "Malappuram"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, &mockWeatherClient{}, nil, nil)
			if _, err := s.SetSearch(tt.text); err != nil {
				t.Fatalf("SetSearch() error = %v", err)
			}
			time.Sleep(60 * time.Millisecond)
			v := s.View()
			if v.ShowSuggestions != (len(tt.want) > 0) {
				t.Errorf("ShowSuggestions = %v for %q", v.ShowSuggestions, tt.text)
			}
			if len(tt.want) > 0 && !reflect.DeepEqual(v.Suggestions, tt.want) {
				t.Errorf("Suggestions = %v, want %v", v.Suggestions, tt.want)
			}
			if len(tt.want) == 0 && len(v.Suggestions) != 0 {
				t.Errorf("Suggestions = %v, want none", v.Suggestions)
			}
		})
	}
}

func TestSession_DebounceKeepsLastTerm(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	for _, text := range []string{"k", "ko", "kol"} {
		if _, err := s.SetSearch(text); err != nil {
			t.Fatalf("SetSearch(%q) error = %v", text, err)
		}
	}
	if v := s.View(); v.DebouncedTerm != "" {
		t.Errorf("DebouncedTerm = %q before delay, want empty", v.DebouncedTerm)
	}
	v := waitForView(t, s, func(v View) bool { return v.DebouncedTerm != "" })
	if v.DebouncedTerm != "kol" {
		t.Errorf("DebouncedTerm = %q, want kol", v.DebouncedTerm)
	}
	if !reflect.DeepEqual(v.Suggestions, []string{"Kollam"}) {
		t.Errorf("Suggestions = %v, want [Kollam]", v.Suggestions)
	}
}

func TestSession_SelectCityCancelsPendingSearch(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	if _, err := s.SetSearch("kan"); err != nil {
		t.Fatalf("SetSearch() error = %v", err)
	}
	if _, err := s.SelectCity("Kannur"); err != nil {
		t.Fatalf("SelectCity() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if v := s.View(); v.DebouncedTerm != "" || v.ShowSuggestions {
		t.Errorf("pending search applied after click: %+v", v)
	}
}

func TestSession_SelectCityEmpty(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	if _, err := s.SelectCity("   "); !errors.Is(err, ErrEmptyCity) {
		t.Errorf("SelectCity() error = %v, want ErrEmptyCity", err)
	}
}

func TestSession_Subscribe(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	if first.State.Status() != StatusIdle {
		t.Errorf("first view status = %v, want idle", first.State.Status())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if loadedCity("Kozhikode")(v) {
				s.Close()
				if _, ok := <-ch; ok {
					// A final view may still be buffered; the next receive must see close.
					if _, ok := <-ch; ok {
						t.Error("channel not closed after Close")
					}
				}
				return
			}
		case <-deadline:
			t.Fatal("no loaded view published")
		}
	}
}

func TestSession_ClosedRejectsEvents(t *testing.T) {
	s := newTestSession(t, &mockWeatherClient{}, nil, nil)
	if _, err := s.SetSearch("ka"); err != nil {
		t.Fatalf("SetSearch() error = %v", err)
	}
	s.Close()
	s.Close()

	if _, err := s.SetSearch("kan"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetSearch() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.SelectCity("Kannur"); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectCity() after Close error = %v, want ErrClosed", err)
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	time.Sleep(60 * time.Millisecond)
	if v := s.View(); v.DebouncedTerm != "" {
		t.Errorf("DebouncedTerm = %q, want pending search dropped on Close", v.DebouncedTerm)
	}
	ch, _ := s.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("Subscribe() after Close should return a closed channel")
	}
}

func TestView_MarshalJSON(t *testing.T) {
	loaded := View{
		ID:           "abc",
		SelectedCity: "Kozhikode",
		State:        Loaded{Snapshot: snapshotFor("Kozhikode")},
	}
	data, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["selectedCity"] != "Kozhikode" {
		t.Errorf("selectedCity = %v", got["selectedCity"])
	}
	if s, ok := got["suggestions"].([]interface{}); !ok || len(s) != 0 {
		t.Errorf("suggestions = %v, want empty array", got["suggestions"])
	}
	state := got["state"].(map[string]interface{})
	if state["status"] != "loaded" {
		t.Errorf("status = %v, want loaded", state["status"])
	}
	weather := state["weather"].(map[string]interface{})
	if weather["iconUrl"] != "https://openweathermap.org/img/wn/01d@2x.png" {
		t.Errorf("iconUrl = %v", weather["iconUrl"])
	}
	if d := weather["display"].(map[string]interface{}); d["temperature"] != "30°C" {
		t.Errorf("display.temperature = %v, want 30°C", d["temperature"])
	}

	errored := View{State: Errored{City: "Kochi", Message: MsgFetchFailed}}
	data, err = json.Marshal(errored)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got = nil
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	state = got["state"].(map[string]interface{})
	if state["status"] != "errored" || state["message"] != MsgFetchFailed {
		t.Errorf("state = %v", state)
	}
	if _, ok := state["weather"]; ok {
		t.Error("errored state must not carry weather")
	}
}
