/**
 * @description
 * Per-booking expiry timers. Every dispatched instant booking gets one timer;
 * if no agent accepts before it fires, the expire callback cancels the
 * booking and refunds the customer. Accepting disarms the timer. Timers are
 * process-local; the cron sweeper in sweeper.go backstops bookings whose timer
 * was lost to a restart.
 */

package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Watchdog arms one expiry timer per booking and guarantees the expire
// callback runs at most once per armed booking.
type Watchdog struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	expire func(bookingID uuid.UUID)
}

// NewWatchdog creates a watchdog that invokes expire when a timer fires.
func NewWatchdog(expire func(bookingID uuid.UUID)) *Watchdog {
	return &Watchdog{
		timers: make(map[uuid.UUID]*time.Timer),
		expire: expire,
	}
}

// Arm starts (or restarts) the expiry timer for a booking.
func (w *Watchdog) Arm(bookingID uuid.UUID, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[bookingID]; ok {
		t.Stop()
	}
	w.timers[bookingID] = time.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.timers, bookingID)
		w.mu.Unlock()
		w.expire(bookingID)
	})
}

// Disarm stops the timer for a booking. Returns true if a timer was armed.
// A false return during an accept is fine: the database guard, not the
// timer map, decides the accept/expire race.
func (w *Watchdog) Disarm(bookingID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[bookingID]
	if ok {
		t.Stop()
		delete(w.timers, bookingID)
	}
	return ok
}

// Stop disarms every timer. Used on shutdown.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
