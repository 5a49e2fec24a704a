// Package capability는 컨트롤러가 요청한 capability를 실행하는 레지스트리를 제공합니다.
// 요청은 제한된 큐에 쌓이고 고정 크기 워커 풀이 순서대로 실행합니다.
package capability

import (
	"errors"
	"sync"

	"github.com/openclaw/clawnode/internal/protocol"
)

// 큐 관련 에러 정의
var (
	// ErrQueueFull은 큐가 가득 찼을 때 반환됩니다.
	ErrQueueFull = errors.New("capability 큐가 가득 찼습니다")

	// ErrQueueClosed는 대기 중 큐가 닫혔을 때 반환됩니다.
	ErrQueueClosed = errors.New("capability 큐 대기 중단됨")
)

// DefaultQueueCapacity는 기본 큐 용량입니다.
const DefaultQueueCapacity = 32

// RequestQueue는 스레드 안전한 FIFO 요청 큐입니다.
type RequestQueue struct {
	items    []protocol.CapabilityRequest
	mu       sync.Mutex
	capacity int
	// cond는 새 요청 추가 시 대기 중인 워커에 알립니다.
	cond *sync.Cond
}

// NewRequestQueue는 새로운 요청 큐를 생성합니다. 0 이하 용량은 기본값으로 대체합니다.
func NewRequestQueue(capacity int) *RequestQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &RequestQueue{
		items:    make([]protocol.CapabilityRequest, 0, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add는 요청을 큐에 추가합니다. 큐가 가득 찬 경우 ErrQueueFull을 반환합니다.
func (q *RequestQueue) Add(req protocol.CapabilityRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, req)
	q.cond.Signal()
	return nil
}

// GetBlocking은 가장 오래된 요청을 꺼내되, 비어있으면 대기합니다.
// done이 닫히면 ErrQueueClosed를 반환합니다. 대기자를 깨우려면 Wakeup을 호출해야 합니다.
func (q *RequestQueue) GetBlocking(done <-chan struct{}) (protocol.CapabilityRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		select {
		case <-done:
			return protocol.CapabilityRequest{}, ErrQueueClosed
		default:
		}
		q.cond.Wait()
	}

	select {
	case <-done:
		return protocol.CapabilityRequest{}, ErrQueueClosed
	default:
	}

	req := q.items[0]
	q.items[0] = protocol.CapabilityRequest{}
	q.items = q.items[1:]
	return req, nil
}

// Size는 대기 중인 요청 수를 반환합니다.
func (q *RequestQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity는 큐의 최대 용량을 반환합니다.
func (q *RequestQueue) Capacity() int {
	return q.capacity
}

// Drain은 대기 중인 요청을 모두 꺼내 반환합니다.
func (q *RequestQueue) Drain() []protocol.CapabilityRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]protocol.CapabilityRequest, 0, q.capacity)
	return out
}

// Wakeup은 대기 중인 모든 워커를 깨웁니다. 종료 시 done을 닫은 뒤 호출합니다.
func (q *RequestQueue) Wakeup() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
