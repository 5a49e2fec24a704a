// Package websocket는 컨트롤러와의 단일 논리 연결을 관리합니다.
// 연결 관리자, 재연결 스케줄러, 하트비트 모니터, gorilla 기반 전송 계층을 포함합니다.
package websocket

import (
	"sync"
	"time"
)

const (
	// MaxBackoffSeconds는 재연결 지연의 상한(초)입니다.
	MaxBackoffSeconds = 60
	// maxBackoffExponent는 지수의 상한입니다. 2^6 = 64는 60으로 잘립니다.
	maxBackoffExponent = 6
)

// BackoffSeconds는 attempt번째 재연결의 지연(초)을 반환합니다.
// delay = min(60, 2^min(attempt, 6)), attempt에 대해 단조 비감소입니다.
func BackoffSeconds(attempt int) int {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	delay := 1 << attempt
	if delay > MaxBackoffSeconds {
		delay = MaxBackoffSeconds
	}
	return delay
}

// BackoffDelay는 BackoffSeconds를 unit 단위 time.Duration으로 변환합니다.
// unit이 0 이하이면 1초를 사용합니다.
func BackoffDelay(attempt int, unit time.Duration) time.Duration {
	if unit <= 0 {
		unit = time.Second
	}
	return time.Duration(BackoffSeconds(attempt)) * unit
}

// TimerHandle은 예약된 재연결 타이머의 취소 핸들입니다.
type TimerHandle struct {
	id        uint64
	scheduler *ReconnectScheduler
	timer     *time.Timer
}

// Cancel은 타이머를 중지합니다. 이미 실행되었거나 취소된 경우 false를 반환합니다.
func (h *TimerHandle) Cancel() bool {
	if h == nil {
		return false
	}
	return h.scheduler.cancel(h.id)
}

// ReconnectScheduler는 재연결 타이머를 예약하고 추적합니다.
// 모든 대기 중인 타이머는 CancelAll/Shutdown으로 결정적으로 취소됩니다.
// 오래된 타이머의 유효성 재검증은 호출자(Manager)가 fire 안에서 수행합니다.
type ReconnectScheduler struct {
	mu       sync.Mutex
	pending  map[uint64]*time.Timer
	nextID   uint64
	shutdown bool
}

// NewReconnectScheduler는 새로운 스케줄러를 생성합니다.
func NewReconnectScheduler() *ReconnectScheduler {
	return &ReconnectScheduler{
		pending: make(map[uint64]*time.Timer),
	}
}

// Schedule은 delay 후 fire를 실행하도록 예약합니다.
// Shutdown 이후에는 예약을 거부하고 (nil, false)를 반환합니다.
// fire는 스케줄러 락을 잡지 않은 상태로 별도 고루틴에서 호출됩니다.
func (s *ReconnectScheduler) Schedule(delay time.Duration, fire func()) (*TimerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil, false
	}

	s.nextID++
	id := s.nextID
	h := &TimerHandle{id: id, scheduler: s}
	h.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()

		if live {
			fire()
		}
	})
	s.pending[id] = h.timer
	return h, true
}

func (s *ReconnectScheduler) cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	t.Stop()
	return true
}

// CancelAll은 대기 중인 모든 타이머를 취소합니다.
// 반환 후 새로 시작되는 fire는 없으며, 이미 실행 중인 fire는 중단하지 않습니다.
func (s *ReconnectScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// Shutdown은 모든 타이머를 취소하고 이후 예약을 거부합니다. 되돌릴 수 없습니다.
func (s *ReconnectScheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.CancelAll()
}

// Pending은 대기 중인 타이머 수를 반환합니다.
func (s *ReconnectScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsShutdown은 Shutdown 호출 여부를 반환합니다.
func (s *ReconnectScheduler) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
