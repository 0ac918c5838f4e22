package app

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWatchdogFiresOnceAfterWindow(t *testing.T) {
	var mu sync.Mutex
	fired := make(map[uuid.UUID]int)

	w := NewWatchdog(func(bookingID uuid.UUID) {
		mu.Lock()
		fired[bookingID]++
		mu.Unlock()
	})
	defer w.Stop()

	bookingID := uuid.New()
	w.Arm(bookingID, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired[bookingID] != 1 {
		t.Fatalf("expected expire to fire exactly once, fired %d times", fired[bookingID])
	}
}

func TestWatchdogDisarmPreventsExpiry(t *testing.T) {
	var mu sync.Mutex
	firedCount := 0

	w := NewWatchdog(func(bookingID uuid.UUID) {
		mu.Lock()
		firedCount++
		mu.Unlock()
	})
	defer w.Stop()

	bookingID := uuid.New()
	w.Arm(bookingID, 50*time.Millisecond)

	if !w.Disarm(bookingID) {
		t.Fatal("expected Disarm to report an armed timer")
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if firedCount != 0 {
		t.Fatalf("expected no expiry after disarm, fired %d times", firedCount)
	}
}

func TestWatchdogDisarmUnknownBooking(t *testing.T) {
	w := NewWatchdog(func(uuid.UUID) {})
	defer w.Stop()

	if w.Disarm(uuid.New()) {
		t.Fatal("expected Disarm of an unknown booking to report false")
	}
}

func TestWatchdogRearmReplacesTimer(t *testing.T) {
	var mu sync.Mutex
	firedCount := 0

	w := NewWatchdog(func(bookingID uuid.UUID) {
		mu.Lock()
		firedCount++
		mu.Unlock()
	})
	defer w.Stop()

	bookingID := uuid.New()
	w.Arm(bookingID, 20*time.Millisecond)
	w.Arm(bookingID, 20*time.Millisecond)

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if firedCount != 1 {
		t.Fatalf("expected a re-armed booking to expire once, fired %d times", firedCount)
	}
}
