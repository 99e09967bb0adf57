package monitor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

const maxEvents = 50

// EventType classifies a recorded power event.
type EventType string

const (
	EventStarted           EventType = "started"
	EventStopped           EventType = "stopped"
	EventACLost            EventType = "ac_lost"
	EventACRestored        EventType = "ac_restored"
	EventShutdownPending   EventType = "shutdown_pending"
	EventShutdownCancelled EventType = "shutdown_cancelled"
	EventShutdownExecuting EventType = "shutdown_executing"
	EventShutdownFailed    EventType = "shutdown_failed"
	EventUPSOnline         EventType = "ups_online"
	EventUPSOffline        EventType = "ups_offline"
	EventHeartbeatMissing  EventType = "heartbeat_missing"
)

// Event is a notable state change.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
}

// EventLog is a bounded ring of recent events.
type EventLog struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	observer Observer
	events   []Event
}

// NewEventLog creates an empty log. Every recorded event is also passed to observer.
func NewEventLog(clock clockwork.Clock, observer Observer) *EventLog {
	if observer == nil {
		observer = nopObserver{}
	}
	return &EventLog{
		clock:    clock,
		observer: observer,
		events:   make([]Event, 0, maxEvents),
	}
}

// Add records an event, dropping the oldest once the ring is full.
func (l *EventLog) Add(eventType EventType, message string) Event {
	ev := Event{
		ID:        ulid.Make().String(),
		Timestamp: l.clock.Now().UTC(),
		Type:      eventType,
		Message:   message,
	}

	l.mu.Lock()
	if len(l.events) >= maxEvents {
		copy(l.events, l.events[1:])
		l.events[len(l.events)-1] = ev
	} else {
		l.events = append(l.events, ev)
	}
	l.mu.Unlock()

	l.observer.EventRecorded(ev)
	return ev
}

// Events returns a copy of the log, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns the number of recorded events of the given type still in the ring.
func (l *EventLog) Count(eventType EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}
