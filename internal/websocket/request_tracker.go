package websocket

import (
	"sync"
	"time"
)

// TrackedRequest는 실행 중인 capability 요청 정보입니다.
type TrackedRequest struct {
	// RequestID는 컨트롤러가 할당한 요청 ID입니다.
	RequestID string
	// Capability는 요청된 capability 이름입니다.
	Capability string
	// StartedAt은 요청 수신 시각입니다.
	StartedAt time.Time
}

// RequestTracker는 결과를 아직 보내지 않은 capability 요청을 추적합니다.
// 같은 requestId의 중복 요청을 걸러내는 데 사용합니다.
type RequestTracker struct {
	// active는 진행 중인 요청 맵입니다 (requestId -> 요청 정보).
	active map[string]*TrackedRequest
	mu     sync.RWMutex
}

// NewRequestTracker는 새로운 RequestTracker를 생성합니다.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		active: make(map[string]*TrackedRequest),
	}
}

// Track은 요청을 활성 목록에 등록합니다.
// 이미 진행 중인 requestId이면 false를 반환하고 기존 항목을 유지합니다.
func (t *RequestTracker) Track(requestID, capability string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[requestID]; exists {
		return false
	}
	t.active[requestID] = &TrackedRequest{
		RequestID:  requestID,
		Capability: capability,
		StartedAt:  time.Now(),
	}
	return true
}

// Complete은 요청을 활성 목록에서 제거하고 추적 정보를 반환합니다.
func (t *RequestTracker) Complete(requestID string) (*TrackedRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.active[requestID]
	if ok {
		delete(t.active, requestID)
	}
	return req, ok
}

// ActiveIDs는 진행 중인 요청 ID 목록을 반환합니다.
func (t *RequestTracker) ActiveIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}

// Count는 진행 중인 요청 수를 반환합니다.
func (t *RequestTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.active)
}

// IsActive는 해당 요청 ID가 진행 중인지 확인합니다.
func (t *RequestTracker) IsActive(requestID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, exists := t.active[requestID]
	return exists
}

// Clear는 모든 추적 요청을 제거합니다. 연결이 교체되면 호출됩니다.
func (t *RequestTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = make(map[string]*TrackedRequest)
}
