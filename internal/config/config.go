// Package config는 clawnode의 설정 관리를 담당합니다.
// 설정 우선순위: 환경변수(CLAWNODE_) > 설정파일 > 기본값
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix는 환경변수 자동 바인딩 접두사입니다.
const EnvPrefix = "CLAWNODE"

// EnvKeyReplacer는 "heartbeat.interval_seconds"를 CLAWNODE_HEARTBEAT_INTERVAL_SECONDS에 매핑합니다.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// Config는 전체 애플리케이션 설정을 나타냅니다.
type Config struct {
	Controller   ControllerConfig   `mapstructure:"controller"`
	Node         NodeConfig         `mapstructure:"node"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Network      NetworkConfig      `mapstructure:"network"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ControllerConfig는 컨트롤러 연결 설정입니다.
type ControllerConfig struct {
	// URL은 컨트롤러 WebSocket 주소입니다 (ws:// 또는 wss://).
	URL string `mapstructure:"url"`
	// ConnectTimeoutSeconds는 핸드셰이크 타임아웃(초)입니다.
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
}

// NodeConfig는 이 디바이스의 식별 정보입니다.
type NodeConfig struct {
	// ID는 안정적인 노드 식별자입니다. 비어있으면 실행 시 UUID를 생성합니다.
	ID string `mapstructure:"id"`
	// Platform은 register 메시지의 platform 값입니다. 비어있으면 GOOS를 사용합니다.
	Platform string `mapstructure:"platform"`
	// DeviceName은 register 메시지 device.name 값입니다.
	DeviceName string `mapstructure:"device_name"`
}

// HeartbeatConfig는 하트비트 설정입니다.
type HeartbeatConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
}

// RegistrationConfig는 등록 핸드셰이크 설정입니다.
type RegistrationConfig struct {
	// TimeoutSeconds는 register_ack 대기 시간(초)입니다.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// CapabilitiesConfig는 capability 실행 워커 풀 설정입니다.
type CapabilitiesConfig struct {
	Workers            int `mapstructure:"workers"`
	QueueSize          int `mapstructure:"queue_size"`
	ExecTimeoutSeconds int `mapstructure:"exec_timeout_seconds"`
}

// NetworkConfig는 네트워크 변경 감지 설정입니다.
type NetworkConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	CheckIntervalSeconds int  `mapstructure:"check_interval_seconds"`
}

// MetricsConfig는 메트릭/상태 HTTP 서버 설정입니다.
type MetricsConfig struct {
	// Addr은 리슨 주소입니다 (예: "127.0.0.1:9464"). 비어있으면 서버를 띄우지 않습니다.
	Addr string `mapstructure:"addr"`
}

// LoggingConfig는 로깅 설정입니다.
type LoggingConfig struct {
	// Level은 로그 레벨입니다 (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format은 로그 포맷입니다 (json, text).
	Format string `mapstructure:"format"`
	// File은 로그 파일 경로입니다. 비어있으면 stdout으로 출력합니다.
	File string `mapstructure:"file"`
}

// SetDefaults는 전역 viper에 기본 설정값을 정의합니다.
func SetDefaults() {
	viper.SetDefault("controller.url", "")
	viper.SetDefault("controller.connect_timeout_seconds", 10)

	viper.SetDefault("node.id", "")
	viper.SetDefault("node.platform", runtime.GOOS)
	viper.SetDefault("node.device_name", "")

	viper.SetDefault("heartbeat.interval_seconds", 15)
	viper.SetDefault("heartbeat.timeout_seconds", 45)

	viper.SetDefault("registration.timeout_seconds", 10)

	viper.SetDefault("capabilities.workers", 4)
	viper.SetDefault("capabilities.queue_size", 32)
	viper.SetDefault("capabilities.exec_timeout_seconds", 60)

	viper.SetDefault("network.enabled", true)
	viper.SetDefault("network.check_interval_seconds", 5)

	viper.SetDefault("metrics.addr", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
}

// Load는 설정을 로드하고 Config 구조체를 반환합니다.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("설정 파싱 실패: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	if cfg.Node.Platform == "" {
		cfg.Node.Platform = runtime.GOOS
	}

	return &cfg, nil
}

// ResolveNodeID는 노드 ID를 반환합니다.
// 설정에 없으면 새 UUID를 생성하여 채웁니다. 영속화는 호출자의 책임입니다.
func (c *Config) ResolveNodeID() string {
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	return c.Node.ID
}

// Validate는 설정의 유효성을 검사합니다.
func (c *Config) Validate() error {
	if c.Controller.URL != "" {
		if err := ValidateControllerURL(c.Controller.URL); err != nil {
			return err
		}
	}

	if c.Controller.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("controller.connect_timeout_seconds는 0보다 커야 합니다")
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat.interval_seconds는 0보다 커야 합니다")
	}
	if c.Heartbeat.TimeoutSeconds < c.Heartbeat.IntervalSeconds {
		return fmt.Errorf("heartbeat.timeout_seconds(%d)는 interval_seconds(%d) 이상이어야 합니다",
			c.Heartbeat.TimeoutSeconds, c.Heartbeat.IntervalSeconds)
	}
	if c.Registration.TimeoutSeconds <= 0 {
		return fmt.Errorf("registration.timeout_seconds는 0보다 커야 합니다")
	}
	if c.Capabilities.Workers <= 0 {
		return fmt.Errorf("capabilities.workers는 0보다 커야 합니다")
	}
	if c.Capabilities.QueueSize < 0 {
		return fmt.Errorf("capabilities.queue_size는 0 이상이어야 합니다")
	}
	if c.Network.Enabled && c.Network.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("network.check_interval_seconds는 0보다 커야 합니다")
	}

	// 로그 레벨 검증
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("유효하지 않은 로그 레벨: %s (debug, info, warn, error 중 하나)", c.Logging.Level)
	}

	// 로그 포맷 검증
	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("유효하지 않은 로그 포맷: %s (json, text 중 하나)", c.Logging.Format)
	}

	return nil
}

// ValidateControllerURL은 컨트롤러 URL이 ws/wss 스킴과 호스트를 갖는지 확인합니다.
func ValidateControllerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("컨트롤러 URL이 비어 있습니다")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("컨트롤러 URL 파싱 실패: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("지원하지 않는 URL 스킴: %q (ws 또는 wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("컨트롤러 URL에 호스트가 없습니다: %s", raw)
	}
	return nil
}

// ConnectTimeout은 핸드셰이크 타임아웃을 반환합니다.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Controller.ConnectTimeoutSeconds) * time.Second
}

// HeartbeatInterval은 하트비트 전송 간격을 반환합니다.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// HeartbeatTimeout은 무응답 허용 시간을 반환합니다.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Heartbeat.TimeoutSeconds) * time.Second
}

// RegisterTimeout은 register_ack 대기 시간을 반환합니다.
func (c *Config) RegisterTimeout() time.Duration {
	return time.Duration(c.Registration.TimeoutSeconds) * time.Second
}

// NetworkCheckInterval은 네트워크 폴링 간격을 반환합니다.
func (c *Config) NetworkCheckInterval() time.Duration {
	return time.Duration(c.Network.CheckIntervalSeconds) * time.Second
}

// ExecTimeout은 capability 1건의 실행 제한 시간을 반환합니다.
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Capabilities.ExecTimeoutSeconds) * time.Second
}

// expandPath는 ~를 홈 디렉토리로 확장합니다.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ConfigDir은 설정 디렉토리 경로를 반환합니다.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("홈 디렉토리를 찾을 수 없습니다: %w", err)
	}
	return filepath.Join(home, ".config", "clawnode"), nil
}

// EnsureConfigDir는 설정 디렉토리가 존재하는지 확인하고 없으면 생성합니다.
func EnsureConfigDir() error {
	configDir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}
	return nil
}

// DefaultConfigPath는 기본 설정 파일 경로를 반환합니다.
func DefaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}
