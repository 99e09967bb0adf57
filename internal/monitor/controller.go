package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Lifecycle is the controller lifecycle state.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Attached
	Detaching
	Detached
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Attached:
		return "attached"
	case Detaching:
		return "detaching"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Config holds the controller timing and polarity settings.
type Config struct {
	ShutdownDelay    time.Duration
	HeartbeatTimeout time.Duration
	TriggerTimeout   time.Duration

	// PowerFaultActive is the physical level that means mains power is lost.
	PowerFaultActive Level
	// StatusAlive is the physical level driven while the host runs; the
	// opposite level is driven once teardown begins.
	StatusAlive Level
}

// DefaultConfig returns the stock timings: fault is HIGH, alive is LOW.
func DefaultConfig() Config {
	return Config{
		ShutdownDelay:    DefaultShutdownDelay,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		TriggerTimeout:   DefaultTriggerTimeout,
		PowerFaultActive: High,
		StatusAlive:      Low,
	}
}

// Options carries the controller's collaborators. Zero values are replaced
// with the real clock, a disabled logger and a no-op observer.
type Options struct {
	Clock    clockwork.Clock
	Logger   zerolog.Logger
	Observer Observer
}

// Lines are the hardware collaborators bound by Attach.
type Lines struct {
	PowerFault SignalSource
	Heartbeat  SignalSource
	Status     StatusOutput
}

// Status is a point-in-time view of the controller.
type Status struct {
	Lifecycle         string     `json:"lifecycle"`
	PowerState        string     `json:"power_state"`
	ACPowerLost       bool       `json:"ac_power_lost"`
	ShutdownPending   bool       `json:"shutdown_pending"`
	ShutdownAt        *time.Time `json:"shutdown_at"`
	ShutdownTriggered bool       `json:"shutdown_triggered"`
	UPSOnline         bool       `json:"ups_online"`
	LastHeartbeat     *time.Time `json:"last_heartbeat"`
	ShutdownDelay     string     `json:"shutdown_delay"`
	HeartbeatTimeout  string     `json:"heartbeat_timeout"`
	Events            []Event    `json:"events"`
}

// Controller owns the power-fault monitor, the heartbeat watchdog and the
// status output for one attached lifetime.
type Controller struct {
	cfg    Config
	action ShutdownAction
	clock  clockwork.Clock
	log    zerolog.Logger
	obs    Observer
	events *EventLog

	mu        sync.Mutex
	lifecycle Lifecycle
	lines     Lines
	power     *PowerFaultMonitor
	heartbeat *HeartbeatWatchdog
	subs      []Subscription
	detached  chan struct{}
}

// NewController creates an unattached controller.
func NewController(cfg Config, action ShutdownAction, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if cfg.ShutdownDelay <= 0 {
		cfg.ShutdownDelay = DefaultShutdownDelay
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = DefaultTriggerTimeout
	}
	return &Controller{
		cfg:      cfg,
		action:   action,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "Controller").Logger(),
		obs:      opts.Observer,
		events:   NewEventLog(opts.Clock, opts.Observer),
		detached: make(chan struct{}),
	}
}

// Attach binds the lines and starts monitoring. On any failure every
// subscription made so far is released, both timers are stopped, the status
// output is left untouched and the controller stays unattached.
func (c *Controller) Attach(lines Lines) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.lifecycle {
	case Attached:
		return ErrAlreadyAttached
	case Detaching, Detached:
		return ErrDetached
	}
	if lines.PowerFault == nil || lines.Heartbeat == nil || lines.Status == nil {
		return fmt.Errorf("%w: power fault, heartbeat and status lines are all required", ErrAcquisition)
	}

	power := NewPowerFaultMonitor(c.cfg.ShutdownDelay, c.cfg.TriggerTimeout, c.action, c.clock, c.events, c.obs, c.log)
	heartbeat := NewHeartbeatWatchdog(c.cfg.HeartbeatTimeout, c.clock, c.events, c.obs, c.log)

	var subs []Subscription
	rollback := func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
		power.Stop()
		heartbeat.Stop()
	}

	// Subscribe before sampling so an edge between the sample and the
	// subscription cannot be lost.
	sub, err := lines.PowerFault.Subscribe(func(level bool) {
		power.OnEdge(Level(level) == c.cfg.PowerFaultActive)
	})
	if err != nil {
		rollback()
		return fmt.Errorf("%w: subscribe power fault line: %v", ErrAcquisition, err)
	}
	subs = append(subs, sub)

	sub, err = lines.Heartbeat.Subscribe(heartbeat.OnEdge)
	if err != nil {
		rollback()
		return fmt.Errorf("%w: subscribe heartbeat line: %v", ErrAcquisition, err)
	}
	subs = append(subs, sub)

	level, err := lines.PowerFault.Level()
	if err != nil {
		rollback()
		return fmt.Errorf("%w: read power fault line: %v", ErrAcquisition, err)
	}

	// Alive goes out last: a failed Attach never leaves the UPS believing
	// the host is monitored.
	if err := lines.Status.Set(bool(c.cfg.StatusAlive)); err != nil {
		rollback()
		return fmt.Errorf("%w: drive status output: %v", ErrAcquisition, err)
	}

	power.OnAttach(Level(level) == c.cfg.PowerFaultActive)
	heartbeat.OnAttach()

	c.lines = lines
	c.power = power
	c.heartbeat = heartbeat
	c.subs = subs
	c.lifecycle = Attached

	c.events.Add(EventStarted, fmt.Sprintf("monitoring started (shutdown delay %s, heartbeat timeout %s)", c.cfg.ShutdownDelay, c.cfg.HeartbeatTimeout))
	c.log.Info().
		Dur("shutdown_delay", c.cfg.ShutdownDelay).
		Dur("heartbeat_timeout", c.cfg.HeartbeatTimeout).
		Stringer("fault_level", c.cfg.PowerFaultActive).
		Stringer("alive_level", c.cfg.StatusAlive).
		Msg("monitoring started")
	return nil
}

// Detach stops both timers (waiting for running callbacks), drives the
// status output to "stopping" and releases the subscriptions. Calling it
// again, or concurrently, waits for the first call and returns nil.
func (c *Controller) Detach() error {
	c.mu.Lock()
	switch c.lifecycle {
	case Uninitialized:
		c.lifecycle = Detached
		close(c.detached)
		c.mu.Unlock()
		return nil
	case Detaching, Detached:
		c.mu.Unlock()
		<-c.detached
		return nil
	}
	c.lifecycle = Detaching
	power, heartbeat, lines, subs := c.power, c.heartbeat, c.lines, c.subs
	c.subs = nil
	c.mu.Unlock()

	power.Stop()
	heartbeat.Stop()

	var errs []error
	if err := lines.Status.Set(!bool(c.cfg.StatusAlive)); err != nil {
		c.log.Error().Err(err).Msg("failed to drive status output to stopping")
		errs = append(errs, fmt.Errorf("drive status output: %w", err))
	}

	for _, s := range subs {
		s.Unsubscribe()
	}

	c.events.Add(EventStopped, "monitoring stopped")
	c.log.Info().Msg("monitoring stopped")

	c.mu.Lock()
	c.lifecycle = Detached
	close(c.detached)
	c.mu.Unlock()

	return errors.Join(errs...)
}

// Lifecycle returns the current lifecycle state.
func (c *Controller) Lifecycle() Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// Events returns the recent event log, oldest first.
func (c *Controller) Events() []Event {
	return c.events.Events()
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	lifecycle, power, heartbeat := c.lifecycle, c.power, c.heartbeat
	c.mu.Unlock()

	st := Status{
		Lifecycle:        lifecycle.String(),
		PowerState:       Normal.String(),
		ShutdownDelay:    c.cfg.ShutdownDelay.String(),
		HeartbeatTimeout: c.cfg.HeartbeatTimeout.String(),
		Events:           c.events.Events(),
	}

	if power != nil {
		state := power.State()
		st.PowerState = state.String()
		st.ACPowerLost = state == FaultPendingShutdown
		st.ShutdownTriggered = power.Triggered()
		if at, ok := power.ShutdownAt(); ok {
			at = at.UTC()
			st.ShutdownPending = true
			st.ShutdownAt = &at
		}
	}

	if heartbeat != nil {
		st.UPSOnline = heartbeat.Online()
		if t, ok := heartbeat.LastBeat(); ok {
			t = t.UTC()
			st.LastHeartbeat = &t
		}
	}

	return st
}
