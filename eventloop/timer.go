package eventloop

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
)

// timerEntry is one scheduled expiry, either one-shot or periodic.
type timerEntry struct {
	expiry    time.Time
	seq       uint64
	periodic  bool
	rate      time.Duration
	handler   func(periodic bool)
	cancelled bool
}

// TimerId is an opaque handle to a scheduled timer. Cancelling it is
// idempotent, including after the timer has already fired.
type TimerId struct {
	entry *timerEntry
}

// timerSlack is added when re-arming the underlying timer so a tiny
// remaining duration never causes a tight re-arm/fire busy loop.
const timerSlack = time.Millisecond

// Now is the clock source the timer wheel reads from. It defaults to
// base.WallClockNow; tests may shadow it with a deterministic stand-in.
var Now = base.WallClockNow

type timerWheel struct {
	loop           *Loop
	timerFd        int
	entries        []*timerEntry
	nextSeq        uint64
	periodicByRate map[time.Duration]*timerEntry
}

func newTimerWheel(loop *Loop) (*timerWheel, int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, -1, base.NewSystemError("timerfd_create", toErrno(err))
	}
	return &timerWheel{
		loop:           loop,
		timerFd:        fd,
		periodicByRate: make(map[time.Duration]*timerEntry),
	}, fd, nil
}

// Delay schedules handler to run once after delay elapses.
func (w *timerWheel) Delay(delay time.Duration, handler func(periodic bool)) TimerId {
	e := &timerEntry{expiry: Now().Add(delay), seq: w.nextSeq, handler: handler}
	w.nextSeq++
	w.insert(e)
	return TimerId{entry: e}
}

// AddPeriodic schedules handler to run every rate, aligned to wall-clock
// multiples of rate. If a periodic timer at this rate already exists, its
// TimerId is returned with ok=false and handler is not registered.
func (w *timerWheel) AddPeriodic(rate time.Duration, handler func(periodic bool)) (TimerId, bool) {
	if existing, ok := w.periodicByRate[rate]; ok {
		return TimerId{entry: existing}, false
	}
	e := &timerEntry{
		expiry:   nextAlignedTick(Now(), rate),
		seq:      w.nextSeq,
		periodic: true,
		rate:     rate,
		handler:  handler,
	}
	w.nextSeq++
	w.periodicByRate[rate] = e
	w.insert(e)
	return TimerId{entry: e}, true
}

// Cancel marks id's timer cancelled; safe to call more than once and safe
// to call after the timer has already fired.
func (w *timerWheel) Cancel(id TimerId) {
	if id.entry == nil || id.entry.cancelled {
		return
	}
	id.entry.cancelled = true
	if id.entry.periodic {
		delete(w.periodicByRate, id.entry.rate)
	}
	for i, e := range w.entries {
		if e == id.entry {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	w.rearm()
}

func (w *timerWheel) insert(e *timerEntry) {
	w.entries = append(w.entries, e)
	sort.Slice(w.entries, func(i, j int) bool {
		if !w.entries[i].expiry.Equal(w.entries[j].expiry) {
			return w.entries[i].expiry.Before(w.entries[j].expiry)
		}
		return w.entries[i].seq < w.entries[j].seq
	})
	w.rearm()
}

func (w *timerWheel) rearm() {
	var spec unix.ItimerSpec
	if len(w.entries) > 0 {
		remaining := w.entries[0].expiry.Sub(Now()) + timerSlack
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		spec.Value.Sec = int64(remaining / time.Second)
		spec.Value.Nsec = int64(remaining % time.Second)
	}
	_ = unix.TimerfdSettime(w.timerFd, 0, &spec, nil)
}

// readTimer is the Loop's read handler for the timer descriptor: it pops
// every expired entry (in expiry, then insertion, order), recomputes
// periodic entries' next expiry from the wall clock, and invokes handlers.
func (l *Loop) readTimer(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])

	now := Now()
	var fired []*timerEntry
	for len(l.timers.entries) > 0 && !l.timers.entries[0].expiry.After(now) {
		e := l.timers.entries[0]
		l.timers.entries = l.timers.entries[1:]
		if e.cancelled {
			continue
		}
		fired = append(fired, e)
	}

	for _, e := range fired {
		if e.periodic {
			e.expiry = nextAlignedTick(now, e.rate)
			l.timers.insert(e)
		}
	}
	l.timers.rearm()

	for _, e := range fired {
		e.handler(e.periodic)
	}
}

// nextAlignedTick returns the first wall-clock multiple of rate strictly
// after now, so a 60s tick fires just after the wall minute rather than
// 60s after whenever it happened to be registered.
func nextAlignedTick(now time.Time, rate time.Duration) time.Time {
	epoch := now.Truncate(rate)
	next := epoch.Add(rate)
	for !next.After(now) {
		next = next.Add(rate)
	}
	return next
}

// Delay schedules handler to run once after delay elapses, returning a
// TimerId that can be cancelled idempotently at any time.
func (l *Loop) Delay(delay time.Duration, handler func()) TimerId {
	return l.timers.Delay(delay, func(bool) { handler() })
}

// AddPeriodic schedules handler to run every rate, aligned to wall-clock
// multiples of rate. If a periodic timer at this rate is already
// registered, its existing handler stays in effect and handler is
// dropped; ok reports whether handler was actually registered.
func (l *Loop) AddPeriodic(rate time.Duration, handler func()) (TimerId, bool) {
	return l.timers.AddPeriodic(rate, func(bool) { handler() })
}

// CancelTimer cancels id; idempotent, safe even if id already fired.
func (l *Loop) CancelTimer(id TimerId) { l.timers.Cancel(id) }
