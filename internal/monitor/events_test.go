package monitor

import (
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) EdgeObserved(Signal, bool) {}
func (r *recordingObserver) EventRecorded(ev Event) { r.events = append(r.events, ev) }

func TestEventLogDropsOldest(t *testing.T) {
	log := NewEventLog(clockwork.NewFakeClock(), nil)
	for i := 0; i < maxEvents+10; i++ {
		log.Add(EventACLost, fmt.Sprintf("event %d", i))
	}

	events := log.Events()
	require.Len(t, events, maxEvents)
	assert.Equal(t, "event 10", events[0].Message)
	assert.Equal(t, fmt.Sprintf("event %d", maxEvents+9), events[maxEvents-1].Message)
}

func TestEventLogAssignsIDsAndNotifies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	obs := &recordingObserver{}
	log := NewEventLog(clock, obs)

	a := log.Add(EventUPSOnline, "a")
	b := log.Add(EventUPSOffline, "b")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, clock.Now().UTC(), a.Timestamp)
	assert.Equal(t, []Event{a, b}, obs.events)
	assert.Equal(t, 1, log.Count(EventUPSOffline))
}
