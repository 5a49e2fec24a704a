package websocket

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/clawnode/internal/logger"
)

// DefaultNetworkCheckInterval은 네트워크 변경 감지 기본 폴링 간격입니다.
const DefaultNetworkCheckInterval = 5 * time.Second

// reconnectTarget은 NetworkMonitor가 재연결을 요청하는 대상입니다. *Manager가 구현합니다.
type reconnectTarget interface {
	// Probe는 현재 연결이 유효한지 확인합니다.
	Probe() bool
	// Reconnect는 현재 URL로 즉시 재연결합니다.
	Reconnect(reason string)
}

// NetworkMonitor는 네트워크 인터페이스 변경을 감지하여 재연결을 트리거합니다.
// 주기적으로 net.InterfaceAddrs()를 폴링하여 주소 변경을 감지하고,
// 변경이 감지되면 연결 유효성을 ping으로 검증한 후 필요하면 재연결합니다.
type NetworkMonitor struct {
	target        reconnectTarget
	checkInterval time.Duration

	// lastAddrs는 마지막으로 확인된 네트워크 주소 목록입니다.
	lastAddrs []string
	mu        sync.Mutex

	// getAddrs는 네트워크 주소를 조회하는 함수입니다. 테스트에서 주입합니다.
	getAddrs func() ([]string, error)

	// onChangeCallback은 네트워크 변경 감지 시 호출됩니다 (테스트용).
	onChangeCallback func()
}

// NewNetworkMonitor는 새로운 NetworkMonitor를 생성합니다.
func NewNetworkMonitor(target reconnectTarget, interval time.Duration) *NetworkMonitor {
	if interval <= 0 {
		interval = DefaultNetworkCheckInterval
	}

	return &NetworkMonitor{
		target:        target,
		checkInterval: interval,
		getAddrs:      defaultGetInterfaceAddrs,
	}
}

// Start는 네트워크 모니터링 고루틴을 시작합니다.
// 전달된 컨텍스트가 취소되면 모니터링을 중지합니다.
func (m *NetworkMonitor) Start(ctx context.Context) {
	addrs, err := m.getAddrs()
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("네트워크 주소 초기 조회 실패, 빈 상태로 시작합니다")
	}

	m.mu.Lock()
	m.lastAddrs = addrs
	m.mu.Unlock()

	logger.Info().
		Int("addr_count", len(addrs)).
		Dur("interval", m.checkInterval).
		Msg("네트워크 변경 감지 모니터 시작")

	go m.monitorLoop(ctx)
}

func (m *NetworkMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("네트워크 모니터 종료 (컨텍스트 취소)")
			return
		case <-ticker.C:
			if !m.hasChanged() {
				continue
			}
			logger.Info().Msg("네트워크 인터페이스 변경 감지됨")

			if m.onChangeCallback != nil {
				m.onChangeCallback()
			}

			if m.target.Probe() {
				logger.Info().Msg("네트워크 변경 감지되었으나 연결은 유효함")
				continue
			}
			logger.Warn().Msg("연결이 유효하지 않음, 재연결 트리거")
			m.target.Reconnect("network change")
		}
	}
}

// hasChanged는 네트워크 인터페이스 주소가 변경되었는지 확인합니다.
func (m *NetworkMonitor) hasChanged() bool {
	currentAddrs, err := m.getAddrs()
	if err != nil {
		logger.Debug().
			Err(err).
			Msg("네트워크 주소 조회 실패, 변경 없음으로 처리")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := !equalStringSlices(m.lastAddrs, currentAddrs)
	if changed {
		logger.Debug().
			Strs("prev_addrs", m.lastAddrs).
			Strs("curr_addrs", currentAddrs).
			Msg("네트워크 주소 변경 상세")
	}

	// 항상 최신 주소로 갱신
	m.lastAddrs = currentAddrs

	return changed
}

// defaultGetInterfaceAddrs는 루프백을 제외한 인터페이스 주소를 정렬하여 반환합니다.
func defaultGetInterfaceAddrs() ([]string, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(ifaces))
	for _, addr := range ifaces {
		addrStr := addr.String()
		if strings.HasPrefix(addrStr, "127.") || strings.HasPrefix(addrStr, "::1") {
			continue
		}
		addrs = append(addrs, addrStr)
	}

	sort.Strings(addrs)
	return addrs, nil
}

// equalStringSlices는 정렬된 두 문자열 슬라이스가 동일한지 비교합니다.
func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
