// Package deadline provides a single-slot, reschedulable countdown timer.
//
// A Timer holds at most one armed deadline. Arming always replaces the
// previous deadline. Every arm is tagged with a generation Token; the expiry
// callback receives that token and must Claim it (normally while holding the
// owner's own mutex) before acting. Cancel and Arm invalidate outstanding
// tokens without ever blocking, so they are safe to call from edge handlers
// that hold the same mutex the callback is waiting for.
package deadline

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Token identifies one armed deadline.
type Token uint64

// Result reports what Cancel found.
type Result int

const (
	// NotArmed means there was no deadline to cancel.
	NotArmed Result = iota
	// Prevented means an armed deadline was cancelled before its callback claimed it.
	Prevented
	// AlreadyFired means the callback had already claimed the deadline.
	AlreadyFired
)

func (r Result) String() string {
	switch r {
	case NotArmed:
		return "not_armed"
	case Prevented:
		return "prevented"
	case AlreadyFired:
		return "already_fired"
	default:
		return "unknown"
	}
}

type slotState int

const (
	slotIdle slotState = iota
	slotArmed
	slotFired
)

// Timer is a single-shot countdown that can be re-armed and cancelled.
type Timer struct {
	clock clockwork.Clock
	fn    func(Token)

	mu       sync.Mutex
	gen      Token
	state    slotState
	timer    clockwork.Timer
	deadline time.Time
	running  int
	idle     chan struct{}
}

// New creates a disarmed timer that calls fn on expiry. A nil clock means
// the real wall clock.
func New(clock clockwork.Clock, fn func(Token)) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock, fn: fn}
}

// Arm schedules the callback d from now, replacing any armed deadline.
func (t *Timer) Arm(d time.Duration) Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	tok := t.gen
	t.state = slotArmed
	t.deadline = t.clock.Now().Add(d)
	t.timer = t.clock.AfterFunc(d, func() { t.expire(tok) })
	return tok
}

// Cancel disarms the timer without waiting for a running callback.
func (t *Timer) Cancel() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res Result
	switch t.state {
	case slotArmed:
		res = Prevented
	case slotFired:
		res = AlreadyFired
	default:
		res = NotArmed
	}

	t.stopLocked()
	t.gen++
	t.state = slotIdle
	t.deadline = time.Time{}
	return res
}

// Claim marks tok as fired. It returns false when tok was superseded by a
// later Arm or Cancel, in which case the callback must do nothing.
func (t *Timer) Claim(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok != t.gen || t.state != slotArmed {
		return false
	}
	t.state = slotFired
	t.timer = nil
	t.deadline = time.Time{}
	return true
}

// Wait blocks until no callback is running. Must not be called from the
// callback itself.
func (t *Timer) Wait() {
	t.mu.Lock()
	if t.running == 0 {
		t.mu.Unlock()
		return
	}
	ch := t.idle
	t.mu.Unlock()
	<-ch
}

// Armed reports whether a deadline is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == slotArmed
}

// Deadline returns the pending expiry time, if any.
func (t *Timer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != slotArmed {
		return time.Time{}, false
	}
	return t.deadline, true
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) expire(tok Token) {
	t.mu.Lock()
	if tok != t.gen {
		t.mu.Unlock()
		return
	}
	if t.running == 0 {
		t.idle = make(chan struct{})
	}
	t.running++
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running--
		if t.running == 0 {
			close(t.idle)
			t.idle = nil
		}
		t.mu.Unlock()
	}()

	t.fn(tok)
}
