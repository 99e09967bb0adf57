package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cubeos-upsmon/internal/deadline"
)

// PowerFaultMonitor turns power_fault edges into a debounced shutdown.
//
// A fault edge arms (or restarts) the shutdown countdown; a restore edge
// cancels it. When the countdown expires the ShutdownAction is invoked once,
// after which further fault edges are ignored until power is restored.
type PowerFaultMonitor struct {
	mu             sync.Mutex
	state          PowerState
	triggered      bool
	stopped        bool
	timer          *deadline.Timer
	delay          time.Duration
	triggerTimeout time.Duration
	action         ShutdownAction
	clock          clockwork.Clock
	events         *EventLog
	observer       Observer
	log            zerolog.Logger
	noise          rate.Sometimes
}

// NewPowerFaultMonitor creates a monitor in the Normal state.
func NewPowerFaultMonitor(delay, triggerTimeout time.Duration, action ShutdownAction, clock clockwork.Clock, events *EventLog, observer Observer, log zerolog.Logger) *PowerFaultMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if triggerTimeout <= 0 {
		triggerTimeout = DefaultTriggerTimeout
	}
	m := &PowerFaultMonitor{
		delay:          delay,
		triggerTimeout: triggerTimeout,
		action:         action,
		clock:          clock,
		events:         events,
		observer:       observer,
		log:            log.With().Str("component", "PowerFault").Logger(),
		noise:          rate.Sometimes{Interval: time.Second},
	}
	m.timer = deadline.New(clock, m.expire)
	return m
}

// OnAttach applies the level sampled at startup. A fault that is already
// present arms the full countdown; an existing countdown is left running.
func (m *PowerFaultMonitor) OnAttach(fault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || !fault || m.state == FaultPendingShutdown {
		return
	}
	m.log.Warn().Dur("delay", m.delay).Msg("power fault present at startup, shutdown scheduled")
	m.enterFaultLocked("AC power lost at startup")
}

// OnEdge handles one power_fault edge. fault is the logical level.
func (m *PowerFaultMonitor) OnEdge(fault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observer.EdgeObserved(SignalPowerFault, fault)
	if m.stopped {
		return
	}

	if fault {
		m.onFaultLocked()
		return
	}
	m.onRestoreLocked()
}

func (m *PowerFaultMonitor) onFaultLocked() {
	if m.triggered {
		m.noise.Do(func() {
			m.log.Debug().Msg("fault edge ignored, shutdown already triggered")
		})
		return
	}
	if m.state == FaultPendingShutdown {
		m.timer.Arm(m.delay)
		m.noise.Do(func() {
			m.log.Debug().Dur("delay", m.delay).Msg("repeated fault edge, countdown restarted")
		})
		return
	}
	m.log.Warn().Dur("delay", m.delay).Msg("AC power lost, shutdown scheduled")
	m.enterFaultLocked("AC power lost")
}

func (m *PowerFaultMonitor) enterFaultLocked(reason string) {
	m.state = FaultPendingShutdown
	m.timer.Arm(m.delay)
	m.events.Add(EventACLost, reason)
	m.events.Add(EventShutdownPending, fmt.Sprintf("shutdown in %s unless power is restored", m.delay))
}

func (m *PowerFaultMonitor) onRestoreLocked() {
	res := m.timer.Cancel()
	if m.state == Normal && !m.triggered {
		m.noise.Do(func() {
			m.log.Debug().Msg("restore edge while already normal")
		})
		return
	}

	wasTriggered := m.triggered
	m.state = Normal
	m.triggered = false
	m.events.Add(EventACRestored, "AC power restored")

	switch {
	case res == deadline.Prevented:
		m.events.Add(EventShutdownCancelled, "pending shutdown cancelled (AC power restored)")
		m.log.Info().Msg("AC power restored, pending shutdown cancelled")
	case wasTriggered || res == deadline.AlreadyFired:
		m.log.Warn().Msg("AC power restored after shutdown was triggered")
	default:
		m.log.Info().Msg("AC power restored")
	}
}

func (m *PowerFaultMonitor) expire(tok deadline.Token) {
	m.mu.Lock()
	if m.stopped || !m.timer.Claim(tok) {
		m.mu.Unlock()
		return
	}
	m.triggered = true
	m.events.Add(EventShutdownExecuting, fmt.Sprintf("power fault persisted for %s, requesting poweroff", m.delay))
	m.log.Error().Dur("delay", m.delay).Msg("power fault persisted, executing shutdown")
	action, timeout := m.action, m.triggerTimeout
	m.mu.Unlock()

	if action == nil {
		m.log.Error().Msg("no shutdown action configured")
		m.events.Add(EventShutdownFailed, "no shutdown action configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := action.Trigger(ctx); err != nil {
		m.log.Error().Err(err).Msg("shutdown request failed")
		m.events.Add(EventShutdownFailed, fmt.Sprintf("shutdown request failed: %v", err))
	}
}

// Stop disarms the countdown and waits for a running expiry to finish.
// Edges arriving afterwards are ignored.
func (m *PowerFaultMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if res := m.timer.Cancel(); res == deadline.Prevented {
		m.events.Add(EventShutdownCancelled, "pending shutdown cancelled (monitor stopped)")
		m.log.Info().Msg("pending shutdown cancelled, monitor stopping")
	}
	m.mu.Unlock()

	m.timer.Wait()
}

// State returns the current power state.
func (m *PowerFaultMonitor) State() PowerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Triggered reports whether the shutdown has fired for the current fault.
func (m *PowerFaultMonitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// ShutdownAt returns the pending shutdown time, if a countdown is armed.
func (m *PowerFaultMonitor) ShutdownAt() (time.Time, bool) {
	return m.timer.Deadline()
}
