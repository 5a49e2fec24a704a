package websocket

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/openclaw/clawnode/internal/logger"
)

// notifier는 관찰자 콜백을 enqueue 순서대로 락 밖에서 전달합니다.
// enqueue는 세션 락 안에서, flush는 세션 락 밖에서 호출합니다.
// 한 번에 하나의 고루틴만 전달하므로 콜백에서 Manager를 다시 호출해도 됩니다.
type notifier struct {
	mu       sync.Mutex
	done     *sync.Cond
	queue    []func()
	draining bool
	drainer  uint64 // 전달 중인 고루틴 ID

	enqueued  uint64
	delivered uint64
}

func newNotifier() *notifier {
	n := &notifier{}
	n.done = sync.NewCond(&n.mu)
	return n
}

func (n *notifier) enqueue(fn func()) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.enqueued++
	n.mu.Unlock()
}

// flush는 호출 시점까지 enqueue된 콜백이 모두 전달된 뒤 반환합니다.
// 다른 고루틴이 전달 중이면 그 고루틴이 해당 항목을 전달할 때까지 기다립니다.
// 콜백 안에서 호출하면 바깥 전달 루프가 이어서 처리하므로 즉시 반환합니다.
func (n *notifier) flush() {
	gid := goroutineID()

	n.mu.Lock()
	if n.draining && n.drainer == gid {
		n.mu.Unlock()
		return
	}
	target := n.enqueued
	for n.draining {
		if n.delivered >= target {
			n.mu.Unlock()
			return
		}
		n.done.Wait()
	}
	n.draining = true
	n.drainer = gid

	for len(n.queue) > 0 {
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()

		n.call(fn)

		n.mu.Lock()
		n.delivered++
		n.done.Broadcast()
	}

	n.draining = false
	n.drainer = 0
	n.done.Broadcast()
	n.mu.Unlock()
}

func (n *notifier) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("관찰자 콜백 panic 복구")
		}
	}()
	fn()
}

// goroutineID는 "goroutine N [...]" 스택 헤더에서 현재 고루틴 ID를 읽습니다.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
