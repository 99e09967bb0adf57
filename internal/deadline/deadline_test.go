package deadline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 50 * time.Millisecond

// claimingTimer returns a timer whose callback claims its token and counts
// successful firings.
func claimingTimer(clock clockwork.Clock) (*Timer, *atomic.Int32) {
	var fired atomic.Int32
	var tm *Timer
	tm = New(clock, func(tok Token) {
		if tm.Claim(tok) {
			fired.Add(1)
		}
	})
	return tm, &fired
}

func TestArmFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tm, fired := claimingTimer(clock)

	tm.Arm(time.Second)
	assert.True(t, tm.Armed())

	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool { return fired.Load() > 0 }, settle, time.Millisecond)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, tm.Armed())

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return fired.Load() > 1 }, settle, time.Millisecond)
}

func TestArmResetsCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tm, fired := claimingTimer(clock)

	tm.Arm(time.Second)
	clock.Advance(800 * time.Millisecond)
	tm.Arm(time.Second)

	clock.Advance(800 * time.Millisecond)
	assert.Never(t, func() bool { return fired.Load() > 0 }, settle, time.Millisecond)

	clock.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestCancelResults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tm, fired := claimingTimer(clock)

	assert.Equal(t, NotArmed, tm.Cancel())

	tm.Arm(time.Second)
	assert.Equal(t, Prevented, tm.Cancel())
	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, settle, time.Millisecond)

	tm.Arm(time.Second)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, AlreadyFired, tm.Cancel())
	assert.Equal(t, NotArmed, tm.Cancel())
}

func TestStaleTokenCannotClaim(t *testing.T) {
	tm := New(clockwork.NewFakeClock(), func(Token) {})

	first := tm.Arm(time.Second)
	second := tm.Arm(time.Second)

	assert.False(t, tm.Claim(first))
	assert.True(t, tm.Claim(second))
	assert.False(t, tm.Claim(second))
}

func TestCancelBeforeClaimWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	entered := make(chan struct{})
	release := make(chan struct{})
	claimed := make(chan bool, 1)

	var tm *Timer
	tm = New(clock, func(tok Token) {
		close(entered)
		<-release
		mu.Lock()
		defer mu.Unlock()
		claimed <- tm.Claim(tok)
	})

	tm.Arm(time.Second)
	clock.Advance(time.Second)
	<-entered

	mu.Lock()
	res := tm.Cancel()
	mu.Unlock()
	close(release)

	assert.Equal(t, Prevented, res)
	assert.False(t, <-claimed)
}

func TestWaitBlocksForRunningCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	var tm *Timer
	tm = New(clock, func(tok Token) {
		tm.Claim(tok)
		close(entered)
		<-release
		finished.Store(true)
	})

	tm.Arm(time.Second)
	clock.Advance(time.Second)
	<-entered

	assert.Equal(t, AlreadyFired, tm.Cancel())

	done := make(chan struct{})
	go func() {
		tm.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while callback was running")
	case <-time.After(settle):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after callback finished")
	}
	assert.True(t, finished.Load())
}

func TestWaitWithoutCallbackReturns(t *testing.T) {
	tm := New(clockwork.NewFakeClock(), func(Token) {})
	tm.Wait()
	tm.Arm(time.Minute)
	tm.Cancel()
	tm.Wait()
}

func TestDeadlineReportsExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tm := New(clock, func(Token) {})

	_, ok := tm.Deadline()
	assert.False(t, ok)

	start := clock.Now()
	tm.Arm(time.Minute)
	at, ok := tm.Deadline()
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), at)

	tm.Cancel()
	_, ok = tm.Deadline()
	assert.False(t, ok)
}
