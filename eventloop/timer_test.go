package eventloop

import (
	"testing"
	"time"

	"github.com/marrowbot/ircbotcore/base"
)

// withFixedClock shadows the package's Now for the duration of a test and
// returns a setter the test can call to advance it.
func withFixedClock(t *testing.T, start time.Time) func(time.Time) {
	t.Helper()
	real := Now
	current := start
	Now = func() time.Time { return current }
	t.Cleanup(func() { Now = real })
	return func(next time.Time) { current = next }
}

func newTestLoopForTimers(t *testing.T) *Loop {
	t.Helper()
	l, err := NewLoop(base.NopLogger())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

// TestTimerFiringOrderIsExpiryThenInsertion checks the wheel pops entries
// in expiry order, and breaks ties between equal expiries by insertion
// order rather than leaving it up to sort instability.
func TestTimerFiringOrderIsExpiryThenInsertion(t *testing.T) {
	start := time.Unix(1000, 0)
	advance := withFixedClock(t, start)
	l := newTestLoopForTimers(t)

	var fired []string
	l.Delay(30*time.Millisecond, func() { fired = append(fired, "c") })
	l.Delay(10*time.Millisecond, func() { fired = append(fired, "a") })
	l.Delay(10*time.Millisecond, func() { fired = append(fired, "b") })

	advance(start.Add(time.Hour))
	l.readTimer(l.timerFd)

	want := []string{"a", "b", "c"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

// TestAddPeriodicDedupesByRate checks a second AddPeriodic at an
// already-registered rate does not replace or duplicate the first.
func TestAddPeriodicDedupesByRate(t *testing.T) {
	_ = withFixedClock(t, time.Unix(2000, 0))
	l := newTestLoopForTimers(t)

	firstCount := 0
	id1, ok1 := l.AddPeriodic(time.Second, func() { firstCount++ })
	if !ok1 {
		t.Fatal("first AddPeriodic at a fresh rate should register")
	}

	secondCount := 0
	id2, ok2 := l.AddPeriodic(time.Second, func() { secondCount++ })
	if ok2 {
		t.Fatal("second AddPeriodic at the same rate should not register")
	}
	if id2.entry != id1.entry {
		t.Fatal("second AddPeriodic should return the existing entry")
	}
}

// TestCancelTimerIsIdempotent checks cancelling twice, and cancelling
// after the entry has already been popped off the wheel, are both safe.
func TestCancelTimerIsIdempotent(t *testing.T) {
	start := time.Unix(3000, 0)
	advance := withFixedClock(t, start)
	l := newTestLoopForTimers(t)

	fireCount := 0
	id := l.Delay(5*time.Millisecond, func() { fireCount++ })

	l.CancelTimer(id)
	l.CancelTimer(id)

	advance(start.Add(time.Hour))
	l.readTimer(l.timerFd)

	if fireCount != 0 {
		t.Fatalf("cancelled timer fired %d times, want 0", fireCount)
	}

	// Cancelling again after the sweep found it already gone must still
	// be a no-op, not a panic.
	l.CancelTimer(id)
}

// TestPeriodicTimerReschedulesAfterFiring checks a periodic timer's next
// expiry is recomputed relative to the wall clock at fire time, not the
// timer's original expiry, and that it keeps firing across sweeps.
func TestPeriodicTimerReschedulesAfterFiring(t *testing.T) {
	start := time.Unix(4000, 0).Truncate(time.Minute)
	advance := withFixedClock(t, start)
	l := newTestLoopForTimers(t)

	fireCount := 0
	l.AddPeriodic(time.Minute, func() { fireCount++ })

	advance(start.Add(time.Minute + time.Second))
	l.readTimer(l.timerFd)
	if fireCount != 1 {
		t.Fatalf("fireCount after first sweep = %d, want 1", fireCount)
	}

	advance(start.Add(2*time.Minute + time.Second))
	l.readTimer(l.timerFd)
	if fireCount != 2 {
		t.Fatalf("fireCount after second sweep = %d, want 2", fireCount)
	}
}

// TestNextAlignedTickAlignsToWallClockMultiples checks a periodic rate
// aligns to wall-clock boundaries rather than to whenever it happened to
// be registered.
func TestNextAlignedTickAlignsToWallClockMultiples(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 17, 0, time.UTC)
	got := nextAlignedTick(now, 10*time.Second)
	want := time.Date(2026, 1, 1, 0, 0, 20, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextAlignedTick(%v, 10s) = %v, want %v", now, got, want)
	}
}
