package metrics

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewMetrics verifies that a new Metrics instance is properly initialized.
func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	if m.ConnectionAttempts.Load() != 0 {
		t.Errorf("ConnectionAttempts = %d, want 0", m.ConnectionAttempts.Load())
	}
	if m.FramesSent.Load() != 0 {
		t.Errorf("FramesSent = %d, want 0", m.FramesSent.Load())
	}
	if m.Connected.Load() || m.Registered.Load() {
		t.Error("new Metrics reports an active session")
	}
}

// TestMetrics_RecordLatency verifies latency recording and averaging.
func TestMetrics_RecordLatency(t *testing.T) {
	m := NewMetrics()

	if m.AvgLatency() != 0 {
		t.Errorf("initial AvgLatency = %v, want 0", m.AvgLatency())
	}

	m.RecordLatency(100 * time.Millisecond)
	avg := m.AvgLatency()
	if avg < 90*time.Millisecond || avg > 110*time.Millisecond {
		t.Errorf("AvgLatency after 1 recording = %v, want ~100ms", avg)
	}

	// Running average: first=100ms, second=200ms -> avg should approach 150ms.
	m.RecordLatency(200 * time.Millisecond)
	avg = m.AvgLatency()
	if avg < 100*time.Millisecond || avg > 200*time.Millisecond {
		t.Errorf("AvgLatency after 2 recordings = %v, want ~150ms", avg)
	}
}

// TestMetrics_RecordHeartbeat verifies heartbeat recording.
func TestMetrics_RecordHeartbeat(t *testing.T) {
	m := NewMetrics()

	if v := m.lastHeartbeat.Load(); v != nil {
		t.Error("initial lastHeartbeat should be nil")
	}

	before := time.Now()
	m.RecordHeartbeat()
	after := time.Now()

	hb, ok := m.lastHeartbeat.Load().(time.Time)
	if !ok {
		t.Fatal("lastHeartbeat is not time.Time")
	}
	if hb.Before(before) || hb.After(after) {
		t.Errorf("lastHeartbeat = %v, want between %v and %v", hb, before, after)
	}
	if m.HeartbeatsReceived.Load() != 1 {
		t.Errorf("HeartbeatsReceived = %d, want 1", m.HeartbeatsReceived.Load())
	}
}

// TestMetrics_Snapshot verifies that Snapshot captures all current values.
func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()

	m.ConnectionAttempts.Store(5)
	m.ConnectionSuccesses.Store(3)
	m.ConnectionFailures.Store(2)
	m.ReconnectsScheduled.Store(2)
	m.RegistrationsOK.Store(3)
	m.HeartbeatTimeouts.Store(1)
	m.FramesSent.Store(100)
	m.FramesReceived.Store(200)
	m.CapabilityRequests.Store(7)
	m.SetSession(true, false)
	m.RecordLatency(50 * time.Millisecond)
	m.RecordHeartbeat()

	snap := m.Snapshot()

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"ConnectionAttempts", snap.ConnectionAttempts, 5},
		{"ConnectionSuccesses", snap.ConnectionSuccesses, 3},
		{"ConnectionFailures", snap.ConnectionFailures, 2},
		{"ReconnectsScheduled", snap.ReconnectsScheduled, 2},
		{"RegistrationsOK", snap.RegistrationsOK, 3},
		{"HeartbeatTimeouts", snap.HeartbeatTimeouts, 1},
		{"HeartbeatsReceived", snap.HeartbeatsReceived, 1},
		{"FramesSent", snap.FramesSent, 100},
		{"FramesReceived", snap.FramesReceived, 200},
		{"CapabilityRequests", snap.CapabilityRequests, 7},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("snap.%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if !snap.Connected || snap.Registered {
		t.Errorf("snap session = (%v, %v), want (true, false)", snap.Connected, snap.Registered)
	}
	if snap.AvgLatencyMs < 40 || snap.AvgLatencyMs > 60 {
		t.Errorf("snap.AvgLatencyMs = %f, want ~50", snap.AvgLatencyMs)
	}
	if snap.LastHeartbeat == "" {
		t.Error("snap.LastHeartbeat is empty after RecordHeartbeat()")
	}
}

// TestMetrics_ToJSON verifies JSON serialization field names.
func TestMetrics_ToJSON(t *testing.T) {
	m := NewMetrics()
	m.RegistrationsFailed.Store(4)

	data, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("ToJSON() produced invalid JSON: %v", err)
	}
	if v, ok := parsed["registrations_failed"].(float64); !ok || v != 4 {
		t.Errorf("registrations_failed = %v, want 4", parsed["registrations_failed"])
	}
	if _, ok := parsed["last_heartbeat"]; ok {
		t.Error("last_heartbeat should be omitted before any heartbeat")
	}
}

// TestMetrics_Reset verifies that Reset zeroes counters.
func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.ConnectionAttempts.Store(10)
	m.CapabilityResults.Store(3)
	m.RecordLatency(time.Second)
	m.SetSession(true, true)

	m.Reset()

	if m.ConnectionAttempts.Load() != 0 {
		t.Errorf("after Reset, ConnectionAttempts = %d, want 0", m.ConnectionAttempts.Load())
	}
	if m.CapabilityResults.Load() != 0 {
		t.Errorf("after Reset, CapabilityResults = %d, want 0", m.CapabilityResults.Load())
	}
	if m.AvgLatency() != 0 {
		t.Errorf("after Reset, AvgLatency = %v, want 0", m.AvgLatency())
	}
	if !m.Connected.Load() {
		t.Error("Reset cleared session flags")
	}
}

// TestMetrics_PrometheusExport verifies collectors expose counters at scrape time.
func TestMetrics_PrometheusExport(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.ReconnectsScheduled.Add(3)
	m.SetSession(true, true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	if got := values["clawnode_reconnects_scheduled_total"]; got != 3 {
		t.Errorf("clawnode_reconnects_scheduled_total = %v, want 3", got)
	}
	if got := values["clawnode_registered"]; got != 1 {
		t.Errorf("clawnode_registered = %v, want 1", got)
	}
	for name := range values {
		if !strings.HasPrefix(name, Namespace+"_") {
			t.Errorf("metric %q missing namespace prefix", name)
		}
	}

	// 동일 레지스트리에 두 번 등록하면 실패해야 합니다.
	if err := m.Register(reg); err == nil {
		t.Error("second Register() error = nil, want duplicate registration error")
	}
}

// TestMetrics_NewRegistry verifies runtime collectors are included.
func TestMetrics_NewRegistry(t *testing.T) {
	m := NewMetrics()
	reg, err := m.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var hasGo, hasOwn bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "go_") {
			hasGo = true
		}
		if mf.GetName() == "clawnode_connected" {
			hasOwn = true
		}
	}
	if !hasGo || !hasOwn {
		t.Errorf("registry families: go=%v own=%v, want both", hasGo, hasOwn)
	}
}

// TestMetrics_ConcurrentAccess verifies thread safety of all metric operations.
func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	numGoroutines := 20
	opsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				m.ConnectionAttempts.Add(1)
				m.FramesSent.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				m.RecordLatency(time.Duration(j) * time.Microsecond)
				m.RecordHeartbeat()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				_ = m.Snapshot()
				m.SetSession(j%2 == 0, false)
			}
		}()
	}

	wg.Wait()

	want := int64(numGoroutines * opsPerGoroutine)
	if got := m.ConnectionAttempts.Load(); got != want {
		t.Errorf("ConnectionAttempts = %d, want %d", got, want)
	}
	if got := m.HeartbeatsReceived.Load(); got != want {
		t.Errorf("HeartbeatsReceived = %d, want %d", got, want)
	}
}
