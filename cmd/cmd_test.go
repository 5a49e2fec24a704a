package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/clawnode/internal/config"
	"github.com/openclaw/clawnode/internal/metrics"
	"github.com/openclaw/clawnode/internal/protocol"
	"github.com/openclaw/clawnode/internal/websocket"
)

// TestParseConfigValue는 설정 값 타입 변환을 검증합니다.
func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{"true", true},
		{"false", false},
		{"15", 15},
		{"0", 0},
		{"debug", "debug"},
		{"127.0.0.1:9464", "127.0.0.1:9464"},
		{"wss://controller.local:18789/gateway", "wss://controller.local:18789/gateway"},
		{"15s", "15s"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseConfigValue(tt.input); got != tt.want {
				t.Errorf("parseConfigValue(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

// TestIsValidConfigKey는 허용 키 판정을 검증합니다.
func TestIsValidConfigKey(t *testing.T) {
	for _, key := range []string{"controller.url", "node.id", "heartbeat.timeout_seconds", "metrics.addr"} {
		if !isValidConfigKey(key) {
			t.Errorf("isValidConfigKey(%q) = false", key)
		}
	}
	for _, key := range []string{"", "server.url", "providers.claude.api_key_env", "controller"} {
		if isValidConfigKey(key) {
			t.Errorf("isValidConfigKey(%q) = true", key)
		}
	}
}

// TestDefaultConfigFile은 config init 내용이 유효한 YAML이고 검증을 통과하는지 확인합니다.
func TestDefaultConfigFile(t *testing.T) {
	content := defaultConfigFile("wss://controller.local/gateway", "node-123")

	var cfg struct {
		Controller struct {
			URL string `yaml:"url"`
		} `yaml:"controller"`
		Node struct {
			ID string `yaml:"id"`
		} `yaml:"node"`
		Heartbeat struct {
			IntervalSeconds int `yaml:"interval_seconds"`
			TimeoutSeconds  int `yaml:"timeout_seconds"`
		} `yaml:"heartbeat"`
	}
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() 에러: %v", err)
	}
	if cfg.Controller.URL != "wss://controller.local/gateway" {
		t.Errorf("controller.url = %q", cfg.Controller.URL)
	}
	if cfg.Node.ID != "node-123" {
		t.Errorf("node.id = %q", cfg.Node.ID)
	}
	if cfg.Heartbeat.TimeoutSeconds < cfg.Heartbeat.IntervalSeconds {
		t.Errorf("heartbeat timeout(%d) < interval(%d)", cfg.Heartbeat.TimeoutSeconds, cfg.Heartbeat.IntervalSeconds)
	}
	if err := config.ValidateControllerURL(cfg.Controller.URL); err != nil {
		t.Errorf("ValidateControllerURL() 에러: %v", err)
	}
}

// TestRenderConfig는 YAML 출력에서 URL 토큰이 마스킹되는지 검증합니다.
func TestRenderConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Controller.URL = "wss://controller.local/gateway?token=abcdefghijklmnop"
	cfg.Logging.Level = "info"

	out, err := renderConfig(cfg)
	if err != nil {
		t.Fatalf("renderConfig() 에러: %v", err)
	}
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Errorf("토큰이 마스킹되지 않았습니다:\n%s", out)
	}
	if !strings.Contains(out, "connect_timeout_seconds") {
		t.Errorf("mapstructure 키 이름이 없습니다:\n%s", out)
	}
}

// TestStatusFile_RoundTrip은 상태 파일 저장과 조회를 검증합니다.
func TestStatusFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")
	start := time.Now().Add(-90 * time.Second)

	snap := websocket.Status{
		State:      "REGISTERED",
		Connected:  true,
		Registered: true,
		SessionID:  "s1",
		URL:        "ws://controller.local/gateway",
	}
	caps := []protocol.Capability{{Name: "device.info", Version: 1}}
	if err := SaveStatus(path, newStatusInfo(snap, "node-1", caps, start)); err != nil {
		t.Fatalf("SaveStatus() 에러: %v", err)
	}

	got, err := collectStatus(path)
	if err != nil {
		t.Fatalf("collectStatus() 에러: %v", err)
	}
	if !got.Registered || got.SessionID != "s1" || got.NodeID != "node-1" {
		t.Errorf("collectStatus() = %+v", got)
	}
	if got.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", got.PID, os.Getpid())
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "device.info" {
		t.Errorf("Capabilities = %v", got.Capabilities)
	}
	if got.Uptime == "" {
		t.Error("Uptime이 계산되지 않았습니다")
	}

	if err := ClearStatus(path); err != nil {
		t.Fatalf("ClearStatus() 에러: %v", err)
	}
	if err := ClearStatus(path); err != nil {
		t.Errorf("없는 파일 ClearStatus() 에러: %v", err)
	}
}

// TestCollectStatus_Missing은 상태 파일이 없을 때 DISCONNECTED를 반환하는지 검증합니다.
func TestCollectStatus_Missing(t *testing.T) {
	got, err := collectStatus(filepath.Join(t.TempDir(), "status.json"))
	if err != nil {
		t.Fatalf("collectStatus() 에러: %v", err)
	}
	if got.State != "DISCONNECTED" || got.Connected || got.Registered {
		t.Errorf("collectStatus() = %+v", got)
	}
}

// TestCollectStatus_Corrupt는 손상된 상태 파일을 에러로 보고하는지 검증합니다.
func TestCollectStatus_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := collectStatus(path); err == nil {
		t.Error("손상된 파일에서 에러가 반환되지 않았습니다")
	}
}

// TestFormatDuration은 기간 포맷을 검증합니다.
func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5초"},
		{2*time.Minute + 3*time.Second, "2분 3초"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1시간 2분 3초"},
		{50 * time.Hour, "2일 2시간 0분"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

// TestBuildRouter는 /status, /healthz, /metrics 엔드포인트를 검증합니다.
func TestBuildRouter(t *testing.T) {
	m := metrics.NewMetrics()
	m.FramesSent.Add(3)
	reg, err := m.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() 에러: %v", err)
	}

	status := &StatusInfo{State: "CONNECTED_UNREGISTERED", Connected: true, NodeID: "node-1"}
	srv := httptest.NewServer(buildRouter(reg, func() *StatusInfo { return status }))
	defer srv.Close()

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var got StatusInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("Decode() 에러: %v", err)
		}
		if got.State != "CONNECTED_UNREGISTERED" || got.NodeID != "node-1" {
			t.Errorf("/status = %+v", got)
		}
	})

	t.Run("healthz 미등록", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("StatusCode = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "clawnode_frames_sent_total 3") {
			t.Errorf("/metrics에 frames_sent 카운터가 없습니다:\n%s", body)
		}
	})

	t.Run("없는 경로", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/nope")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
		}
	})
}

// TestFetchStatus는 --addr 조회 경로를 검증합니다.
func TestFetchStatus(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	status := &StatusInfo{State: "REGISTERED", Registered: true, Connected: true, StartTime: &start}
	reg, _ := metrics.NewMetrics().NewRegistry()
	srv := httptest.NewServer(buildRouter(reg, func() *StatusInfo { return status }))
	defer srv.Close()

	got, err := fetchStatus(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("fetchStatus() 에러: %v", err)
	}
	if !got.Registered || got.Uptime == "" {
		t.Errorf("fetchStatus() = %+v", got)
	}
}
