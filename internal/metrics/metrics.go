// Package metrics exports monitor activity as Prometheus metrics.
package metrics

import (
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"cubeos-upsmon/internal/monitor"
)

const metricPrefix = "upsmon_"

// Metrics implements monitor.Observer. All updates are non-blocking.
type Metrics struct {
	clock         clockwork.Clock
	edges         *prometheus.CounterVec
	events        *prometheus.CounterVec
	powerFault    prometheus.Gauge
	pending       prometheus.Gauge
	upsOnline     prometheus.Gauge
	lastHeartbeat prometheus.Gauge
	shutdowns     prometheus.Counter
}

// New creates the collectors and registers them on reg. clock stamps
// heartbeat times and should be the controller's clock; nil means real time.
func New(reg prometheus.Registerer, clock clockwork.Clock) (*Metrics, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Metrics{
		clock: clock,
		edges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "edges_total",
				Help: "Edges observed by signal",
			},
			[]string{"signal"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Power events recorded by type",
			},
			[]string{"type"},
		),
		powerFault: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "power_fault",
			Help: "1 while AC power is lost and monitoring is attached",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "shutdown_pending",
			Help: "1 while a shutdown countdown is armed",
		}),
		upsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ups_online",
			Help: "1 while the UPS heartbeat is present and monitoring is attached",
		}),
		lastHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_heartbeat_timestamp_seconds",
			Help: "Unix time of the last UPS heartbeat edge",
		}),
		shutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "shutdowns_triggered_total",
			Help: "Shutdown requests issued after a persistent power fault",
		}),
	}

	for _, c := range []prometheus.Collector{m.edges, m.events, m.powerFault, m.pending, m.upsOnline, m.lastHeartbeat, m.shutdowns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EdgeObserved counts an edge.
func (m *Metrics) EdgeObserved(sig monitor.Signal, level bool) {
	m.edges.WithLabelValues(string(sig)).Inc()
	if sig == monitor.SignalHeartbeat {
		m.lastHeartbeat.Set(float64(m.clock.Now().UnixNano()) / 1e9)
	}
}

// EventRecorded counts an event and updates the state gauges.
func (m *Metrics) EventRecorded(ev monitor.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case monitor.EventACLost:
		m.powerFault.Set(1)
	case monitor.EventShutdownPending:
		m.pending.Set(1)
	case monitor.EventACRestored:
		m.powerFault.Set(0)
		m.pending.Set(0)
	case monitor.EventShutdownCancelled:
		m.pending.Set(0)
	case monitor.EventShutdownExecuting:
		m.pending.Set(0)
		m.shutdowns.Inc()
	case monitor.EventUPSOnline:
		m.upsOnline.Set(1)
	case monitor.EventUPSOffline, monitor.EventHeartbeatMissing:
		m.upsOnline.Set(0)
	case monitor.EventStopped:
		// Nothing is watched any more; state gauges go back to zero.
		m.powerFault.Set(0)
		m.pending.Set(0)
		m.upsOnline.Set(0)
	}
}
