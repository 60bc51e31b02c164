// Package schedule owns the recurring timers used by the stores. A
// Recurring task has an explicit start/stop lifecycle so owners never
// leak tickers across restarts or teardown.
package schedule

import (
	"sync"
	"time"
)

// Recurring runs a function on a fixed interval until stopped. The zero
// value is ready to use. Start enforces a single-owner invariant: at most
// one timer runs per Recurring, and starting again stops the previous one.
type Recurring struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start begins invoking fn every interval. Any previously started timer
// is stopped first.
func (r *Recurring) Start(interval time.Duration, fn func()) {
	r.Stop()

	r.mu.Lock()
	stop := make(chan struct{})
	done := make(chan struct{})
	r.stop = stop
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

// Stop cancels the running timer, if any, and waits for the loop to exit.
// Safe to call repeatedly and on a never-started Recurring.
func (r *Recurring) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Running reports whether a timer is currently active.
func (r *Recurring) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
