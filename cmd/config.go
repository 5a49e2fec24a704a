// config.go는 설정 관리 명령을 구현합니다.
package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openclaw/clawnode/internal/config"
	"github.com/openclaw/clawnode/internal/logger"
)

// configKeys는 config set/get이 허용하는 키와 설명입니다.
var configKeys = map[string]string{
	"controller.url":                     "컨트롤러 WebSocket URL (ws:// 또는 wss://)",
	"controller.connect_timeout_seconds": "핸드셰이크 타임아웃(초)",
	"node.id":                            "노드 ID (비어있으면 실행마다 새 UUID)",
	"node.platform":                      "register.platform 값",
	"node.device_name":                   "장치 이름 (비어있으면 호스트명)",
	"heartbeat.interval_seconds":         "하트비트 전송 간격(초)",
	"heartbeat.timeout_seconds":          "무응답 허용 시간(초)",
	"registration.timeout_seconds":       "register_ack 대기 시간(초)",
	"capabilities.workers":               "capability 워커 수",
	"capabilities.queue_size":            "capability 대기 큐 크기",
	"capabilities.exec_timeout_seconds":  "capability 실행 타임아웃(초)",
	"network.enabled":                    "네트워크 변경 감지 사용 여부",
	"network.check_interval_seconds":     "네트워크 폴링 간격(초)",
	"metrics.addr":                       "메트릭/상태 HTTP 주소 (비우면 비활성)",
	"logging.level":                      "로그 레벨 (debug, info, warn, error)",
	"logging.format":                     "로그 포맷 (json, text)",
	"logging.file":                       "로그 파일 경로 (비어있으면 stdout)",
}

// configCmd는 설정 관리를 위한 상위 명령어입니다.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "설정을 관리합니다",
	Long: `설정 파일의 값을 조회하거나 수정합니다.

설정 파일 위치: ~/.config/clawnode/config.yaml

모든 키는 CLAWNODE_ 접두사 환경변수로 덮어쓸 수 있습니다.
  예: controller.url -> CLAWNODE_CONTROLLER_URL`,
}

// configSetCmd는 설정 값을 저장하는 명령어입니다.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "설정 값을 저장합니다",
	Long: `설정 파일에 값을 저장합니다.

키는 점(.)으로 구분된 경로를 사용합니다.
예시:
  clawnode config set controller.url wss://controller.local:18789/gateway
  clawnode config set heartbeat.interval_seconds 20
  clawnode config set logging.level debug

지원하는 키 목록은 'clawnode config keys'로 확인하세요.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

// configGetCmd는 설정 값을 조회하는 명령어입니다.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "설정 값을 조회합니다",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

// configListCmd는 전체 설정을 출력하는 명령어입니다.
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "전체 설정을 출력합니다",
	Long: `현재 적용된 모든 설정을 YAML 포맷으로 출력합니다.

URL에 포함된 토큰 등 민감한 값은 마스킹 처리되어 표시됩니다.`,
	RunE: runConfigList,
}

// configKeysCmd는 지원하는 설정 키를 출력하는 명령어입니다.
var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "지원하는 설정 키를 출력합니다",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make([]string, 0, len(configKeys))
		for k := range configKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-36s %s\n", k, configKeys[k])
		}
		return nil
	},
}

// configPathCmd는 설정 파일 경로를 출력하는 명령어입니다.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "설정 파일 경로를 출력합니다",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(config.DefaultConfigPath())
		return nil
	},
}

// configInitCmd는 기본 설정 파일을 생성하는 명령어입니다.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "기본 설정 파일을 생성합니다",
	Long: `기본 설정 파일을 ~/.config/clawnode/config.yaml에 생성합니다.
새 노드 ID가 함께 기록되어 재시작 후에도 같은 ID로 등록됩니다.

이미 파일이 존재하면 덮어쓰지 않습니다.
강제로 덮어쓰려면 --force 플래그를 사용하세요.`,
	RunE: runConfigInit,
}

var (
	forceInit      bool
	initController string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "기존 파일을 덮어씁니다")
	configInitCmd.Flags().StringVar(&initController, "url", "", "기록할 컨트롤러 URL")
}

// runConfigSet은 설정 값을 저장합니다.
func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	if !isValidConfigKey(key) {
		return fmt.Errorf("알 수 없는 설정 키: %s", key)
	}
	if key == "controller.url" {
		if err := config.ValidateControllerURL(value); err != nil {
			return err
		}
	}

	parsedValue := parseConfigValue(value)
	viper.Set(key, parsedValue)

	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}

	fmt.Printf("%s = %v\n", key, displayValue(key, parsedValue))
	fmt.Printf("설정이 저장되었습니다: %s\n", configPath)
	return nil
}

// runConfigGet은 설정 값을 조회합니다.
func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	if !isValidConfigKey(key) {
		return fmt.Errorf("알 수 없는 설정 키: %s", key)
	}
	value := viper.Get(key)
	if value == nil {
		return fmt.Errorf("설정 키를 찾을 수 없습니다: %s", key)
	}

	fmt.Printf("%s = %v\n", key, displayValue(key, value))
	return nil
}

// runConfigList는 전체 설정을 출력합니다.
func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("# 설정 파일: %s\n", configFile)
	} else {
		fmt.Printf("# 설정 파일: (기본값 사용 중)\n")
	}
	fmt.Println()

	out, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Println(out)

	fmt.Println("# 환경변수 상태:")
	printEnvStatus("CLAWNODE_CONTROLLER_URL")
	printEnvStatus("CLAWNODE_NODE_ID")
	return nil
}

// renderConfig는 설정을 YAML로 직렬화하고 민감한 값을 마스킹합니다.
func renderConfig(cfg *config.Config) (string, error) {
	raw, err := yaml.Marshal(viperView(cfg))
	if err != nil {
		return "", fmt.Errorf("YAML 직렬화 실패: %w", err)
	}
	return logger.MaskSensitive(string(raw)), nil
}

// viperView는 mapstructure 키 이름 그대로 YAML에 나타나도록 설정을 맵으로 변환합니다.
func viperView(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"controller": map[string]interface{}{
			"url":                     cfg.Controller.URL,
			"connect_timeout_seconds": cfg.Controller.ConnectTimeoutSeconds,
		},
		"node": map[string]interface{}{
			"id":          cfg.Node.ID,
			"platform":    cfg.Node.Platform,
			"device_name": cfg.Node.DeviceName,
		},
		"heartbeat": map[string]interface{}{
			"interval_seconds": cfg.Heartbeat.IntervalSeconds,
			"timeout_seconds":  cfg.Heartbeat.TimeoutSeconds,
		},
		"registration": map[string]interface{}{
			"timeout_seconds": cfg.Registration.TimeoutSeconds,
		},
		"capabilities": map[string]interface{}{
			"workers":              cfg.Capabilities.Workers,
			"queue_size":           cfg.Capabilities.QueueSize,
			"exec_timeout_seconds": cfg.Capabilities.ExecTimeoutSeconds,
		},
		"network": map[string]interface{}{
			"enabled":                cfg.Network.Enabled,
			"check_interval_seconds": cfg.Network.CheckIntervalSeconds,
		},
		"metrics": map[string]interface{}{
			"addr": cfg.Metrics.Addr,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"file":   cfg.Logging.File,
		},
	}
}

// runConfigInit은 기본 설정 파일을 생성합니다.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := config.DefaultConfigPath()

	if !forceInit {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("설정 파일이 이미 존재합니다: %s\n--force 플래그로 덮어쓸 수 있습니다", configPath)
		}
	}
	if initController != "" {
		if err := config.ValidateControllerURL(initController); err != nil {
			return err
		}
	}

	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigFile(initController, uuid.NewString())), 0600); err != nil {
		return fmt.Errorf("설정 파일 생성 실패: %w", err)
	}

	fmt.Printf("설정 파일이 생성되었습니다: %s\n", configPath)
	if initController == "" {
		fmt.Println("\n컨트롤러 URL을 설정하세요:")
		fmt.Println("  clawnode config set controller.url wss://<controller>/gateway")
	}
	return nil
}

// defaultConfigFile은 config init이 기록하는 설정 파일 내용을 반환합니다.
func defaultConfigFile(controllerURL, nodeID string) string {
	return fmt.Sprintf(`# clawnode 설정 파일
# 생성됨: clawnode config init

controller:
  url: %q
  connect_timeout_seconds: 10

node:
  id: %q
  device_name: ""   # 비어있으면 호스트명

heartbeat:
  interval_seconds: 15
  timeout_seconds: 45

registration:
  timeout_seconds: 10

capabilities:
  workers: 4
  queue_size: 32
  exec_timeout_seconds: 60

network:
  enabled: true
  check_interval_seconds: 5

metrics:
  addr: ""          # 예: 127.0.0.1:9464

logging:
  level: "info"     # debug, info, warn, error
  format: "json"    # json, text
  file: ""          # 비어있으면 stdout
`, controllerURL, nodeID)
}

// isValidConfigKey는 유효한 설정 키인지 확인합니다.
func isValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// parseConfigValue는 문자열 값을 적절한 타입으로 변환합니다.
func parseConfigValue(value string) interface{} {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}

	var intVal int
	if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
		if !strings.ContainsAny(value, ".:/") && fmt.Sprint(intVal) == value {
			return intVal
		}
	}

	return value
}

// displayValue는 출력용으로 민감한 값을 마스킹합니다.
func displayValue(key string, value interface{}) interface{} {
	if s, ok := value.(string); ok && key == "controller.url" {
		return logger.MaskSensitive(s)
	}
	return value
}

// printEnvStatus는 환경변수 설정 상태를 출력합니다.
func printEnvStatus(envVar string) {
	value := os.Getenv(envVar)
	if value != "" {
		fmt.Printf("  %s: 설정됨 (%s)\n", envVar, logger.MaskSensitive(value))
	} else {
		fmt.Printf("  %s: 설정되지 않음\n", envVar)
	}
}
