package watch

import (
	"sync"
	"time"
)

// Debouncer collects events until none arrived for window, or maxBatch
// distinct paths are pending, then hands them to onFlush. Later events for a
// path replace earlier ones.
type Debouncer struct {
	window   time.Duration
	maxBatch int
	events   map[string]Event
	order    []string
	mu       sync.Mutex
	timer    *time.Timer
	onFlush  func([]Event)
	stopped  bool
}

// NewDebouncer returns a Debouncer calling onFlush with each batch.
func NewDebouncer(window time.Duration, maxBatch int, onFlush func([]Event)) *Debouncer {
	return &Debouncer{
		window:   window,
		maxBatch: maxBatch,
		events:   make(map[string]Event),
		onFlush:  onFlush,
	}
}

// Add queues event and restarts the quiet period.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	if _, ok := d.events[event.Path]; !ok {
		d.order = append(d.order, event.Path)
	}
	d.events[event.Path] = event

	if d.maxBatch > 0 && len(d.events) >= d.maxBatch {
		d.flushLocked()
		return
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if !d.stopped {
			d.flushLocked()
		} else {
			d.mu.Unlock()
		}
	})

	d.mu.Unlock()
}

// flushLocked must be called with d.mu held and releases it.
func (d *Debouncer) flushLocked() {
	events := make([]Event, 0, len(d.events))
	for _, path := range d.order {
		events = append(events, d.events[path])
	}

	d.events = make(map[string]Event)
	d.order = nil

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.mu.Unlock()

	if len(events) > 0 && d.onFlush != nil {
		d.onFlush(events)
	}
}

// Stop flushes pending events and ignores later ones.
func (d *Debouncer) Stop() {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	d.stopped = true

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	if len(d.events) > 0 {
		d.flushLocked()
	} else {
		d.mu.Unlock()
	}
}
