package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	settle = 50 * time.Millisecond
	tick   = time.Millisecond
)

var errFake = errors.New("fake hardware error")

// fakeLine is an in-memory SignalSource. edge delivers synchronously on the
// caller's goroutine.
type fakeLine struct {
	mu           sync.Mutex
	level        bool
	handler      EdgeHandler
	subscribeErr error
	levelErr     error
	unsubscribed int
}

func (f *fakeLine) Level() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, f.levelErr
}

func (f *fakeLine) Subscribe(fn EdgeHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handler = fn
	return &fakeSub{line: f}, nil
}

func (f *fakeLine) edge(level bool) {
	f.mu.Lock()
	f.level = level
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

func (f *fakeLine) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeLine) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type fakeSub struct {
	line *fakeLine
	once sync.Once
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		s.line.mu.Lock()
		s.line.handler = nil
		s.line.unsubscribed++
		s.line.mu.Unlock()
	})
}

// fakeOutput records every level driven on it.
type fakeOutput struct {
	mu     sync.Mutex
	levels []bool
	err    error
}

func (o *fakeOutput) Set(level bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.levels = append(o.levels, level)
	return nil
}

func (o *fakeOutput) history() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]bool, len(o.levels))
	copy(out, o.levels)
	return out
}

// countingAction counts Trigger calls. When block is non-nil each call
// waits for it to be closed.
type countingAction struct {
	calls   atomic.Int32
	started chan struct{}
	block   chan struct{}
	err     error
}

func (a *countingAction) Trigger(ctx context.Context) error {
	n := a.calls.Add(1)
	if a.started != nil && n == 1 {
		close(a.started)
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.err
}

func (a *countingAction) count() int { return int(a.calls.Load()) }

// fakeClock is the part of the clockwork fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type harness struct {
	clock  fakeClock
	power  *fakeLine
	beat   *fakeLine
	status *fakeOutput
	action *countingAction
	ctrl   *Controller
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClock(),
		power:  &fakeLine{},
		beat:   &fakeLine{},
		status: &fakeOutput{},
		action: &countingAction{},
	}
	h.ctrl = NewController(cfg, h.action, Options{
		Clock:  h.clock,
		Logger: zerolog.Nop(),
	})
	return h
}

func (h *harness) lines() Lines {
	return Lines{PowerFault: h.power, Heartbeat: h.beat, Status: h.status}
}

func (h *harness) attach(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Attach(h.lines()))
	t.Cleanup(func() { _ = h.ctrl.Detach() })
}

func (h *harness) requireFired(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.action.count() == n }, time.Second, tick,
		"expected %d shutdown triggers, got %d", n, h.action.count())
}

func (h *harness) requireNotFired(t *testing.T, n int) {
	t.Helper()
	require.Never(t, func() bool { return h.action.count() > n }, settle, tick,
		"expected no more than %d shutdown triggers", n)
}
