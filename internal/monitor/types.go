// Package monitor implements the UPS power-fault and heartbeat state machines
// and the controller that owns them for an attached lifetime.
package monitor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAcquisition wraps every failure to bind a signal or output line.
	ErrAcquisition = errors.New("line acquisition failed")

	// ErrAlreadyAttached is returned by a second Attach.
	ErrAlreadyAttached = errors.New("monitor already attached")

	// ErrDetached is returned by Attach after Detach.
	ErrDetached = errors.New("monitor detached")
)

// Level is a physical line level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// EdgeHandler receives the physical level read right after an edge.
type EdgeHandler func(level bool)

// Subscription is an active edge registration.
type Subscription interface {
	Unsubscribe()
}

// SignalSource is an edge-triggered input line.
type SignalSource interface {
	Level() (bool, error)
	Subscribe(fn EdgeHandler) (Subscription, error)
}

// StatusOutput is the line that tells the UPS whether the host is alive.
type StatusOutput interface {
	Set(level bool) error
}

// ShutdownAction requests an orderly system poweroff.
type ShutdownAction interface {
	Trigger(ctx context.Context) error
}

// ShutdownFunc adapts a function to ShutdownAction.
type ShutdownFunc func(ctx context.Context) error

func (f ShutdownFunc) Trigger(ctx context.Context) error { return f(ctx) }

// PowerState is the power-fault monitor state.
type PowerState int

const (
	Normal PowerState = iota
	FaultPendingShutdown
)

func (s PowerState) String() string {
	switch s {
	case Normal:
		return "normal"
	case FaultPendingShutdown:
		return "fault_pending_shutdown"
	default:
		return "unknown"
	}
}

// Signal names the input a monitor consumes.
type Signal string

const (
	SignalPowerFault Signal = "power_fault"
	SignalHeartbeat  Signal = "ups_heartbeat"
)

// Observer is notified of edges and recorded events. Implementations must
// not block; they are called with monitor locks held.
type Observer interface {
	EdgeObserved(sig Signal, level bool)
	EventRecorded(ev Event)
}

type nopObserver struct{}

func (nopObserver) EdgeObserved(Signal, bool) {}
func (nopObserver) EventRecorded(Event)       {}

const (
	DefaultShutdownDelay    = 60 * time.Second
	DefaultHeartbeatTimeout = 2 * time.Second
	DefaultTriggerTimeout   = 30 * time.Second
)
