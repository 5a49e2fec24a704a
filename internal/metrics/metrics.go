// Package metrics provides operational metrics tracking for the gateway client.
// Counters are plain atomics so hot paths never block; Prometheus collectors
// read them lazily at scrape time.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace is the Prometheus namespace for all exported metrics.
const Namespace = "clawnode"

// Metrics tracks operational metrics for the gateway client.
// All fields are thread-safe for concurrent access.
type Metrics struct {
	// Connection metrics
	ConnectionAttempts  atomic.Int64
	ConnectionSuccesses atomic.Int64
	ConnectionFailures  atomic.Int64
	ReconnectsScheduled atomic.Int64

	// Registration metrics
	RegistrationsOK     atomic.Int64
	RegistrationsFailed atomic.Int64

	// Heartbeat metrics
	HeartbeatsSent     atomic.Int64
	HeartbeatsReceived atomic.Int64
	HeartbeatTimeouts  atomic.Int64

	// Frame metrics
	FramesSent     atomic.Int64
	FramesReceived atomic.Int64
	DecodeErrors   atomic.Int64

	// Capability metrics
	CapabilityRequests atomic.Int64
	CapabilityResults  atomic.Int64
	CapabilityFailures atomic.Int64

	// Session state, mirrored from the last observer report.
	Connected  atomic.Bool
	Registered atomic.Bool

	// Timing metrics
	startTime     time.Time
	lastHeartbeat atomic.Value // time.Time
	avgLatencyNs  atomic.Int64
	latencyCount  atomic.Int64

	mu sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Timestamp           time.Time `json:"timestamp"`
	Uptime              string    `json:"uptime"`
	Connected           bool      `json:"connected"`
	Registered          bool      `json:"registered"`
	ConnectionAttempts  int64     `json:"connection_attempts"`
	ConnectionSuccesses int64     `json:"connection_successes"`
	ConnectionFailures  int64     `json:"connection_failures"`
	ReconnectsScheduled int64     `json:"reconnects_scheduled"`
	RegistrationsOK     int64     `json:"registrations_ok"`
	RegistrationsFailed int64     `json:"registrations_failed"`
	HeartbeatsSent      int64     `json:"heartbeats_sent"`
	HeartbeatsReceived  int64     `json:"heartbeats_received"`
	HeartbeatTimeouts   int64     `json:"heartbeat_timeouts"`
	FramesSent          int64     `json:"frames_sent"`
	FramesReceived      int64     `json:"frames_received"`
	DecodeErrors        int64     `json:"decode_errors"`
	CapabilityRequests  int64     `json:"capability_requests"`
	CapabilityResults   int64     `json:"capability_results"`
	CapabilityFailures  int64     `json:"capability_failures"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	LastHeartbeat       string    `json:"last_heartbeat,omitempty"`
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordLatency records a single capability execution latency and updates the running average.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	count := m.latencyCount.Add(1)

	// Running average: newAvg = oldAvg + (newValue - oldAvg) / count
	for {
		oldAvg := m.avgLatencyNs.Load()
		newAvg := oldAvg + (ns-oldAvg)/count
		if m.avgLatencyNs.CompareAndSwap(oldAvg, newAvg) {
			break
		}
		count = m.latencyCount.Load()
		if count == 0 {
			count = 1
		}
	}
}

// RecordHeartbeat records the time of the last inbound heartbeat.
func (m *Metrics) RecordHeartbeat() {
	m.HeartbeatsReceived.Add(1)
	m.lastHeartbeat.Store(time.Now())
}

// SetSession mirrors the observable session flags.
func (m *Metrics) SetSession(connected, registered bool) {
	m.Connected.Store(connected)
	m.Registered.Store(registered)
}

// Uptime returns the duration since the metrics instance was created.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// AvgLatency returns the average recorded latency.
// Returns 0 if no latency has been recorded.
func (m *Metrics) AvgLatency() time.Duration {
	return time.Duration(m.avgLatencyNs.Load())
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Timestamp:           time.Now(),
		Uptime:              m.Uptime().Round(time.Millisecond).String(),
		Connected:           m.Connected.Load(),
		Registered:          m.Registered.Load(),
		ConnectionAttempts:  m.ConnectionAttempts.Load(),
		ConnectionSuccesses: m.ConnectionSuccesses.Load(),
		ConnectionFailures:  m.ConnectionFailures.Load(),
		ReconnectsScheduled: m.ReconnectsScheduled.Load(),
		RegistrationsOK:     m.RegistrationsOK.Load(),
		RegistrationsFailed: m.RegistrationsFailed.Load(),
		HeartbeatsSent:      m.HeartbeatsSent.Load(),
		HeartbeatsReceived:  m.HeartbeatsReceived.Load(),
		HeartbeatTimeouts:   m.HeartbeatTimeouts.Load(),
		FramesSent:          m.FramesSent.Load(),
		FramesReceived:      m.FramesReceived.Load(),
		DecodeErrors:        m.DecodeErrors.Load(),
		CapabilityRequests:  m.CapabilityRequests.Load(),
		CapabilityResults:   m.CapabilityResults.Load(),
		CapabilityFailures:  m.CapabilityFailures.Load(),
		AvgLatencyMs:        float64(m.avgLatencyNs.Load()) / float64(time.Millisecond),
	}

	if v := m.lastHeartbeat.Load(); v != nil {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			snap.LastHeartbeat = t.Format(time.RFC3339)
		}
	}

	return snap
}

// ToJSON returns a JSON-encoded representation of the current metrics snapshot.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Reset resets all metric counters to zero while preserving the session flags.
func (m *Metrics) Reset() {
	for _, c := range m.counters() {
		c.v.Store(0)
	}
	m.avgLatencyNs.Store(0)
	m.latencyCount.Store(0)

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

type counter struct {
	name string
	help string
	v    *atomic.Int64
}

func (m *Metrics) counters() []counter {
	return []counter{
		{"connection_attempts_total", "Socket open attempts.", &m.ConnectionAttempts},
		{"connection_successes_total", "Sockets that reached open.", &m.ConnectionSuccesses},
		{"connection_failures_total", "Transport failures, including heartbeat and register timeouts.", &m.ConnectionFailures},
		{"reconnects_scheduled_total", "Reconnect timers scheduled.", &m.ReconnectsScheduled},
		{"registrations_ok_total", "Accepted register_ack frames.", &m.RegistrationsOK},
		{"registrations_failed_total", "Rejected or timed out registrations.", &m.RegistrationsFailed},
		{"heartbeats_sent_total", "Heartbeat frames sent.", &m.HeartbeatsSent},
		{"heartbeats_received_total", "Inbound heartbeat and heartbeat_ack frames.", &m.HeartbeatsReceived},
		{"heartbeat_timeouts_total", "Connections closed for missing heartbeat activity.", &m.HeartbeatTimeouts},
		{"frames_sent_total", "Frames handed to the socket.", &m.FramesSent},
		{"frames_received_total", "Frames received from the active socket.", &m.FramesReceived},
		{"decode_errors_total", "Inbound frames that failed to decode.", &m.DecodeErrors},
		{"capability_requests_total", "Inbound capability_request frames.", &m.CapabilityRequests},
		{"capability_results_total", "capability_result frames sent.", &m.CapabilityResults},
		{"capability_failures_total", "capability_result frames sent with ok=false.", &m.CapabilityFailures},
	}
}

// Collectors returns Prometheus collectors reading the current counters.
func (m *Metrics) Collectors() []prometheus.Collector {
	cs := make([]prometheus.Collector, 0, 20)
	for _, c := range m.counters() {
		v := c.v
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) }))
	}

	cs = append(cs,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connected",
			Help:      "1 when the active socket is open.",
		}, func() float64 { return boolToFloat(m.Connected.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "registered",
			Help:      "1 when the controller accepted registration.",
		}, func() float64 { return boolToFloat(m.Registered.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "capability_latency_avg_seconds",
			Help:      "Running average of capability execution latency.",
		}, func() float64 { return m.AvgLatency().Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics instance was created.",
		}, func() float64 { return m.Uptime().Seconds() }),
	)
	return cs
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a Prometheus registry carrying these metrics plus Go runtime and process collectors.
func (m *Metrics) NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
