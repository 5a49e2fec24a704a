package websocket

import (
	"context"
	"sync"
	"time"
)

// 하트비트 기본값.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultHeartbeatTimeout은 3회 연속 누락에 해당합니다.
	DefaultHeartbeatTimeout = 45 * time.Second
)

// HeartbeatMonitor는 등록 상태 동안 주기적으로 tick을 호출합니다.
// 세션 상태를 직접 갖지 않으며, tick에서 Manager가 만료 여부를 판단합니다.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHeartbeatMonitor는 새로운 모니터를 생성합니다. 0 이하 값은 기본값으로 대체합니다.
func NewHeartbeatMonitor(interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HeartbeatMonitor{
		interval: interval,
		timeout:  timeout,
	}
}

// Start는 이전 루프를 중지하고 새 tick 루프를 시작합니다.
func (h *HeartbeatMonitor) Start(tick func()) {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go h.loop(ctx, tick)
}

func (h *HeartbeatMonitor) loop(ctx context.Context, tick func()) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stop과 tick이 경합하면 취소를 우선합니다.
			if ctx.Err() != nil {
				return
			}
			tick()
		}
	}
}

// Stop은 tick 루프를 취소합니다. 실행 중인 tick을 기다리지 않으므로 락 안에서 호출해도 됩니다.
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Running은 tick 루프가 활성화되어 있는지 반환합니다.
func (h *HeartbeatMonitor) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// Expired는 last 이후 timeout을 초과했는지 반환합니다.
func (h *HeartbeatMonitor) Expired(last, now time.Time) bool {
	return now.Sub(last) > h.timeout
}

// Interval은 tick 간격을 반환합니다.
func (h *HeartbeatMonitor) Interval() time.Duration {
	return h.interval
}

// Timeout은 무응답 허용 시간을 반환합니다.
func (h *HeartbeatMonitor) Timeout() time.Duration {
	return h.timeout
}
