package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cubeos-upsmon/internal/deadline"
)

// HeartbeatWatchdog tracks whether the UPS is still pulsing its heartbeat line.
// Any edge counts as a beat. Silence for the timeout marks the UPS offline
// until the next edge. It only reports; it never triggers a shutdown.
type HeartbeatWatchdog struct {
	mu       sync.Mutex
	online   bool
	stopped  bool
	lastBeat time.Time
	timer    *deadline.Timer
	timeout  time.Duration
	clock    clockwork.Clock
	events   *EventLog
	observer Observer
	log      zerolog.Logger
	noise    rate.Sometimes
}

// NewHeartbeatWatchdog creates an offline watchdog.
func NewHeartbeatWatchdog(timeout time.Duration, clock clockwork.Clock, events *EventLog, observer Observer, log zerolog.Logger) *HeartbeatWatchdog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	w := &HeartbeatWatchdog{
		timeout:  timeout,
		clock:    clock,
		events:   events,
		observer: observer,
		log:      log.With().Str("component", "Heartbeat").Logger(),
		noise:    rate.Sometimes{Interval: 10 * time.Second},
	}
	w.timer = deadline.New(clock, w.expire)
	return w
}

// OnAttach arms the watchdog so a UPS that never pulses is still reported.
func (w *HeartbeatWatchdog) OnAttach() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.timer.Armed() {
		return
	}
	w.timer.Arm(w.timeout)
}

// OnEdge records a heartbeat and restarts the watchdog.
func (w *HeartbeatWatchdog) OnEdge(level bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.observer.EdgeObserved(SignalHeartbeat, level)
	if w.stopped {
		return
	}

	w.lastBeat = w.clock.Now()
	if !w.online {
		w.online = true
		w.events.Add(EventUPSOnline, "UPS heartbeat detected")
		w.log.Info().Msg("UPS heartbeat detected, UPS online")
	} else {
		w.noise.Do(func() {
			w.log.Debug().Bool("level", level).Msg("heartbeat")
		})
	}
	w.timer.Arm(w.timeout)
}

func (w *HeartbeatWatchdog) expire(tok deadline.Token) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || !w.timer.Claim(tok) {
		return
	}
	if w.online {
		w.online = false
		w.events.Add(EventUPSOffline, fmt.Sprintf("no UPS heartbeat for %s", w.timeout))
		w.log.Warn().Dur("timeout", w.timeout).Time("last_beat", w.lastBeat).Msg("UPS heartbeat lost, UPS offline")
		return
	}
	w.events.Add(EventHeartbeatMissing, fmt.Sprintf("no UPS heartbeat seen within %s of start", w.timeout))
	w.log.Warn().Dur("timeout", w.timeout).Msg("no UPS heartbeat seen since start")
}

// Stop disarms the watchdog and waits for a running expiry to finish.
func (w *HeartbeatWatchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.timer.Cancel()
	w.mu.Unlock()

	w.timer.Wait()
}

// Online reports the UPS online flag.
func (w *HeartbeatWatchdog) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// LastBeat returns the time of the most recent heartbeat edge.
func (w *HeartbeatWatchdog) LastBeat() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBeat, !w.lastBeat.IsZero()
}
