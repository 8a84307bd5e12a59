package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fayispachu/weather-widget/internal/models"
)

var (
	// ErrUnavailable means the platform has no way to report a position.
	ErrUnavailable = errors.New("geolocation unavailable")
	// ErrTimeout means the capability did not answer within the resolver timeout.
	ErrTimeout = errors.New("geolocation timed out")
	// ErrInvalidPosition means the capability answered with out-of-range coordinates.
	ErrInvalidPosition = errors.New("geolocation returned invalid coordinates")
)

// DefaultTimeout bounds how long a session waits for a position.
const DefaultTimeout = 10 * time.Second

// Locator is a geolocation capability. CurrentPosition may ignore ctx and
// never return; Resolver guards against that.
type Locator interface {
	CurrentPosition(ctx context.Context) (models.Coordinates, error)
}

// Func adapts a function to Locator.
type Func func(ctx context.Context) (models.Coordinates, error)

// CurrentPosition calls f.
func (f Func) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	return f(ctx)
}

// Unavailable is the absent capability.
var Unavailable Locator = Func(func(context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, ErrUnavailable
})

// Static always reports c.
func Static(c models.Coordinates) Locator {
	return Func(func(context.Context) (models.Coordinates, error) {
		return c, nil
	})
}

// Resolver makes one bounded attempt to obtain a position.
type Resolver struct {
	Locator Locator
	Timeout time.Duration
}

// NewResolver returns a resolver; a nil locator is treated as Unavailable and
// a non-positive timeout as DefaultTimeout.
func NewResolver(l Locator, timeout time.Duration) *Resolver {
	if l == nil {
		l = Unavailable
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{Locator: l, Timeout: timeout}
}

type result struct {
	coords models.Coordinates
	err    error
}

// Resolve asks the locator for a position. It returns ErrUnavailable when the
// capability is absent and ErrTimeout when no answer arrives in time, even if
// the locator itself never returns.
func (r *Resolver) Resolve(ctx context.Context) (models.Coordinates, error) {
	if r == nil || r.Locator == nil {
		return models.Coordinates{}, ErrUnavailable
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		c, err := r.Locator.CurrentPosition(ctx)
		done <- result{coords: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return models.Coordinates{}, ErrTimeout
			}
			return models.Coordinates{}, res.err
		}
		if !res.coords.Valid() {
			return models.Coordinates{}, fmt.Errorf("%w: %+v", ErrInvalidPosition, res.coords)
		}
		return res.coords, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Coordinates{}, ErrTimeout
		}
		return models.Coordinates{}, ctx.Err()
	}
}
