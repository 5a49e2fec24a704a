// connect.go는 컨트롤러 연결 명령을 구현합니다.
// SIGINT/SIGTERM 수신 시 1001로 소켓을 닫고 종료합니다.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openclaw/clawnode/internal/capability"
	"github.com/openclaw/clawnode/internal/config"
	"github.com/openclaw/clawnode/internal/logger"
	"github.com/openclaw/clawnode/internal/metrics"
	"github.com/openclaw/clawnode/internal/websocket"
)

// connectCmd는 컨트롤러에 연결하는 명령어입니다.
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "컨트롤러에 연결합니다",
	Long: `WebSocket으로 컨트롤러에 연결하고 이 노드를 등록합니다.

등록 후 하트비트를 주기적으로 전송하고,
컨트롤러의 capability 요청을 로컬 워커 풀에서 실행합니다.
연결이 끊기면 지수 백오프(최대 60초)로 재연결합니다.

SIGINT(Ctrl+C) 또는 SIGTERM 시그널을 수신하면 정상적으로 연결을 종료합니다.`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().String("url", "", "컨트롤러 WebSocket URL (ws:// 또는 wss://)")
	connectCmd.Flags().String("node-id", "", "노드 ID (기본값: 설정 파일 또는 새 UUID)")
	connectCmd.Flags().String("metrics-addr", "", "메트릭/상태 HTTP 주소 (예: 127.0.0.1:9464, 비우면 비활성)")

	_ = viper.BindPFlag("controller.url", connectCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("node.id", connectCmd.Flags().Lookup("node-id"))
	_ = viper.BindPFlag("metrics.addr", connectCmd.Flags().Lookup("metrics-addr"))
}

// runConnect는 connect 명령의 실행 로직입니다.
func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("설정 검증 실패: %w", err)
	}
	if err := config.ValidateControllerURL(cfg.Controller.URL); err != nil {
		return fmt.Errorf("컨트롤러 URL이 필요합니다 (--url 또는 CLAWNODE_CONTROLLER_URL): %w", err)
	}

	version, _, _ := GetVersionInfo()
	if version == "" {
		version = "dev"
	}

	nodeID := cfg.ResolveNodeID()
	if viper.GetString("node.id") == "" {
		logger.Warn().
			Str("node_id", nodeID).
			Msg("node.id가 설정되지 않아 새 ID를 생성했습니다. 재시작 후에도 유지하려면 'clawnode config set node.id'로 저장하세요")
	}
	nodeLog := logger.WithNodeID(nodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	m := metrics.NewMetrics()

	registry := capability.NewRegistry(
		capability.WithWorkers(cfg.Capabilities.Workers),
		capability.WithQueueSize(cfg.Capabilities.QueueSize),
		capability.WithExecTimeout(cfg.ExecTimeout()),
		capability.WithMetrics(m),
		capability.WithLogger(nodeLog.With().Str("component", "capability").Logger()),
	)
	if err := registry.Register(capability.DeviceInfoName, capability.DeviceInfoVersion,
		capability.DeviceInfoExecutor(cfg.Node.Platform, cfg.Node.DeviceName, version)); err != nil {
		return fmt.Errorf("capability 등록 실패: %w", err)
	}

	startTime := time.Now()
	statusPath := getStatusFilePath()

	var manager *websocket.Manager
	currentStatus := func() *StatusInfo {
		return newStatusInfo(manager.Snapshot(), nodeID, registry.Manifest(), startTime)
	}

	callbacks := websocket.Callbacks{
		NodeID:       func() string { return nodeID },
		Capabilities: registry.Manifest,
		Platform:     func() string { return cfg.Node.Platform },
		AppVersion:   func() string { return version },
		DeviceInfo: func() map[string]interface{} {
			return capability.DeviceInfo(cfg.Node.Platform, cfg.Node.DeviceName, version)
		},
		OnState: func(connected, registered bool, lastError string) {
			snap := manager.Snapshot()
			if snap.Shutdown {
				return
			}
			st := newStatusInfo(snap, nodeID, registry.Manifest(), startTime)
			if err := SaveStatus(statusPath, st); err != nil {
				nodeLog.Warn().Err(err).Msg("상태 파일 저장 실패")
			}
		},
	}

	transport := websocket.NewGorillaTransport(
		websocket.WithHandshakeTimeout(cfg.ConnectTimeout()),
	)
	manager = websocket.NewManager(transport, callbacks,
		websocket.WithHeartbeat(cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
		websocket.WithRegisterTimeout(cfg.RegisterTimeout()),
		websocket.WithMetrics(m),
		websocket.WithDispatcher(registry),
		websocket.WithLogger(nodeLog.With().Str("component", "gateway").Logger()),
	)
	registry.SetSender(manager)
	registry.Start(ctx)

	var server *statusServer
	if cfg.Metrics.Addr != "" {
		promReg, err := m.NewRegistry()
		if err != nil {
			return fmt.Errorf("메트릭 레지스트리 생성 실패: %w", err)
		}
		server = startStatusServer(cfg.Metrics.Addr, buildRouter(promReg, currentStatus))
	}

	if cfg.Network.Enabled {
		websocket.NewNetworkMonitor(manager, cfg.NetworkCheckInterval()).Start(ctx)
	}

	nodeLog.Info().
		Str("controller", logger.MaskSensitive(cfg.Controller.URL)).
		Strs("capabilities", manifestNames(registry)).
		Msg("컨트롤러에 연결 중...")

	if err := manager.Connect(cfg.Controller.URL); err != nil {
		gracefulShutdown(manager, registry, server, statusPath)
		return fmt.Errorf("연결 시작 실패: %w", err)
	}

	select {
	case sig := <-sigCh:
		nodeLog.Info().Str("signal", sig.String()).Msg("종료 시그널 수신")
	case <-ctx.Done():
	}

	gracefulShutdown(manager, registry, server, statusPath)

	snap := m.Snapshot()
	log.Info().
		Dur("uptime", time.Since(startTime)).
		Int64("frames_sent", snap.FramesSent).
		Int64("frames_received", snap.FramesReceived).
		Int64("capability_requests", snap.CapabilityRequests).
		Msg("연결 종료 완료")

	return nil
}

// gracefulShutdown는 게이트웨이와 워커 풀을 순서대로 정리합니다.
// 새 요청 유입을 막기 위해 Manager를 먼저 닫습니다.
func gracefulShutdown(manager *websocket.Manager, registry *capability.Registry, server *statusServer, statusPath string) {
	logger.Info().Msg("정상 종료 시작")

	manager.Shutdown()
	registry.Stop()
	if server != nil {
		server.Shutdown()
	}

	if err := ClearStatus(statusPath); err != nil {
		logger.Warn().Err(err).Msg("상태 파일 삭제 실패")
	}

	logger.Info().Msg("정상 종료 완료")
}

func manifestNames(r *capability.Registry) []string {
	caps := r.Manifest()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	return names
}
