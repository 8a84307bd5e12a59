package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fayispachu/weather-widget/internal/catalog"
	"github.com/fayispachu/weather-widget/internal/client"
	"github.com/fayispachu/weather-widget/internal/debounce"
	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/observability"
)

const (
	// DefaultCity is selected until geolocation or the user picks another.
	DefaultCity = "Kozhikode"
	// DefaultDebounce is how long search input must be stable before it is filtered.
	DefaultDebounce = 300 * time.Millisecond
)

var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyStarted = errors.New("session already started")
	ErrEmptyCity      = errors.New("city name is empty")
)

// Config holds the collaborators of a session. Client is required; the rest
// fall back to defaults.
type Config struct {
	ID          string
	Client      client.WeatherClient
	Catalog     *catalog.Catalog
	DefaultCity string
	Debounce    time.Duration
	Resolver    *geo.Resolver
	Logger      *zap.Logger
}

// Session is one widget instance: a selected city, the search box, and the
// display state of the latest fetch. All methods are safe for concurrent use.
type Session struct {
	id       string
	client   client.WeatherClient
	catalog  *catalog.Catalog
	resolver *geo.Resolver
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debouncer *debounce.Debouncer[string]

	mu           sync.Mutex
	selected     string
	search       string
	debounced    string
	state        State
	gen          uint64
	cancelFetch  context.CancelFunc
	userSelected bool
	started      bool
	closed       bool
	subs         map[int]chan View
	nextSub      int
}

// New returns an unstarted session.
func New(cfg Config) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("session: weather client is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if strings.TrimSpace(cfg.DefaultCity) == "" {
		cfg.DefaultCity = DefaultCity
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Resolver == nil {
		cfg.Resolver = geo.NewResolver(geo.Unavailable, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       cfg.ID,
		client:   cfg.Client,
		catalog:  cfg.Catalog,
		resolver: cfg.Resolver,
		logger:   cfg.Logger.With(zap.String("session_id", cfg.ID)),
		ctx:      ctx,
		cancel:   cancel,
		selected: strings.TrimSpace(cfg.DefaultCity),
		state:    Idle{},
		subs:     make(map[int]chan View),
	}
	s.debouncer = debounce.New(cfg.Debounce, s.applyDebounced)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start fetches weather for the default city and, concurrently, tries to
// locate the user once.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.startFetchLocked(s.selected)

	s.wg.Add(1)
	go s.locate()
	return nil
}

// SetSearch handles a change of the search box. The text is lowercased and
// filtered once it has been stable for the debounce delay.
func (s *Session) SetSearch(text string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, ErrClosed
	}
	s.search = strings.ToLower(text)
	s.debouncer.Push(s.search)
	s.publishLocked()
	return s.viewLocked(), nil
}

// SelectCity handles a click on a city. It always starts a new fetch, even
// when name is already selected, and clears the search box.
func (s *Session) SelectCity(name string) (View, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return View{}, ErrEmptyCity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, ErrClosed
	}
	s.userSelected = true
	s.selected = name
	s.search = ""
	s.debounced = ""
	s.debouncer.Cancel()
	s.startFetchLocked(name)
	return s.viewLocked(), nil
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Subscribe returns a channel that receives the current view and then every
// change. Slow readers only see the latest view. The channel is closed by the
// returned cancel func or when the session closes.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.viewLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close cancels any in-flight work, releases the debounce timer and closes
// subscriber channels. It waits for background goroutines to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.debouncer.Stop()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("session closed")
}

// startFetchLocked supersedes any in-flight fetch and enters Loading.
func (s *Session) startFetchLocked(city string) {
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelFetch = cancel
	s.state = Loading{City: city}
	s.publishLocked()

	s.wg.Add(1)
	go s.fetch(ctx, gen, city)
}

func (s *Session) fetch(ctx context.Context, gen uint64, city string) {
	defer s.wg.Done()
	start := time.Now()
	snap, err := s.client.GetByCity(ctx, city)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		observability.WidgetFetchesTotal.WithLabelValues("superseded").Inc()
		s.logger.Debug("discarding superseded fetch", zap.String("city", city), zap.Uint64("generation", gen))
		return
	}
	s.cancelFetch()
	s.cancelFetch = nil

	if err != nil {
		observability.WidgetFetchesTotal.WithLabelValues("errored").Inc()
		s.logger.Warn("weather fetch failed",
			zap.String("city", city),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		s.state = Errored{City: city, Message: MsgFetchFailed}
	} else {
		observability.WidgetFetchesTotal.WithLabelValues("loaded").Inc()
		s.logger.Debug("weather loaded", zap.String("city", city), zap.Duration("duration", time.Since(start)))
		s.state = Loaded{Snapshot: snap}
	}
	s.publishLocked()
}

// locate runs the one-shot geolocation sequence: position, then reverse lookup.
func (s *Session) locate() {
	defer s.wg.Done()

	coords, err := s.resolver.Resolve(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		outcome := "unavailable"
		if errors.Is(err, geo.ErrTimeout) {
			outcome = "timeout"
		}
		observability.WidgetGeolocationTotal.WithLabelValues(outcome).Inc()
		s.logger.Info("geolocation not used, keeping default city", zap.String("reason", outcome), zap.Error(err))
		return
	}

	snap, err := s.client.GetByCoordinates(s.ctx, coords)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		observability.WidgetGeolocationTotal.WithLabelValues("lookup_failed").Inc()
		s.logger.Warn("reverse lookup failed",
			zap.Float64("latitude", coords.Latitude),
			zap.Float64("longitude", coords.Longitude),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		s.locationFailed()
		return
	}
	observability.WidgetGeolocationTotal.WithLabelValues("resolved").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.userSelected {
		s.logger.Debug("ignoring geolocated city after explicit selection", zap.String("city", snap.Location))
		return
	}
	s.logger.Info("geolocated city", zap.String("city", snap.Location))
	s.selected = snap.Location
	s.startFetchLocked(snap.Location)
}

// locationFailed shows the location error unless a fetch is in flight, in
// which case that fetch decides what is shown.
func (s *Session) locationFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, loading := s.state.(Loading); loading {
		return
	}
	s.state = Errored{City: s.selected, Message: MsgLocationFailed}
	s.publishLocked()
}

func (s *Session) applyDebounced(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.debounced = term
	observability.WidgetDebounceEmitsTotal.Inc()
	s.publishLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:            s.id,
		SelectedCity:  s.selected,
		SearchTerm:    s.search,
		DebouncedTerm: s.debounced,
		State:         s.state,
	}
	if s.debounced != "" {
		v.Suggestions = s.catalog.Filter(s.debounced)
		v.ShowSuggestions = len(v.Suggestions) > 0
	}
	return v
}

// publishLocked hands the latest view to every subscriber, replacing any view
// the subscriber has not read yet.
func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	v := s.viewLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
