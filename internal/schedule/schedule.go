// Package schedule holds the timer primitives the sync core is built on:
// a resettable debouncer and a capped exponential backoff.
package schedule

import (
	"sync"
	"time"
)

// Backoff computes capped exponential delays: Base * 2^attempt, never more
// than Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Debouncer runs fn once after the last call to Trigger has been quiet for
// the configured delay. Each Trigger resets the pending timer.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)arms the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Flush cancels the pending timer and runs fn now if one was pending.
// It returns true if fn ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil || !d.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	d.timer = nil
	d.wg.Done()
	d.mu.Unlock()
	d.fn()
	return true
}

// Stop cancels any pending run and waits for an in-flight one to finish.
// Further Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
	d.mu.Unlock()
	d.wg.Wait()
}

// Keyed manages one Debouncer per key, e.g. one per task id.
type Keyed struct {
	delay time.Duration
	fn    func(key string)

	mu   sync.Mutex
	subs map[string]*Debouncer
}

// NewKeyed creates a Keyed debouncer.
func NewKeyed(delay time.Duration, fn func(key string)) *Keyed {
	return &Keyed{delay: delay, fn: fn, subs: make(map[string]*Debouncer)}
}

// Trigger (re)arms the timer for key.
func (k *Keyed) Trigger(key string) {
	k.mu.Lock()
	d, ok := k.subs[key]
	if !ok {
		d = NewDebouncer(k.delay, func() { k.fn(key) })
		k.subs[key] = d
	}
	k.mu.Unlock()
	d.Trigger()
}

// Stop cancels every pending key.
func (k *Keyed) Stop() {
	k.mu.Lock()
	subs := k.subs
	k.subs = make(map[string]*Debouncer)
	k.mu.Unlock()
	for _, d := range subs {
		d.Stop()
	}
}

// Flush runs every pending key now.
func (k *Keyed) Flush() int {
	k.mu.Lock()
	subs := make([]*Debouncer, 0, len(k.subs))
	for _, d := range k.subs {
		subs = append(subs, d)
	}
	k.mu.Unlock()
	n := 0
	for _, d := range subs {
		if d.Flush() {
			n++
		}
	}
	return n
}
