package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of values into a single emission. Each Push
// cancels the pending emission and schedules a new one delay later, so the
// last value always wins once input has been quiet for delay.
//
// At most one timer is outstanding at any time. Stop releases it; a stopped
// Debouncer ignores further pushes.
type Debouncer[T any] struct {
	delay time.Duration
	emit  func(T)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// New returns a Debouncer that calls emit on its own goroutine after delay of
// quiescence.
func New[T any](delay time.Duration, emit func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, emit: emit}
}

// Delay returns the configured quiescence interval.
func (d *Debouncer[T]) Delay() time.Duration {
	return d.delay
}

// Push records v as the latest value and reschedules the emission.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq, v) })
}

// fire emits v unless a later Push, Cancel, or Stop superseded it. Stop on an
// already-fired timer returns false, so the sequence check is what guarantees
// a superseded callback never emits.
func (d *Debouncer[T]) fire(seq uint64, v T) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.emit(v)
}

// Pending reports whether an emission is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops any pending emission without stopping the Debouncer.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Stop cancels any pending emission and releases the timer for good.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer[T]) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}
