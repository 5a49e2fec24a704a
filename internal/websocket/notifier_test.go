package websocket

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

// TestNotifier_Order는 enqueue 순서대로 전달되는지 검증합니다.
func TestNotifier_Order(t *testing.T) {
	n := newNotifier()
	var got []int

	for i := 1; i <= 3; i++ {
		i := i
		n.enqueue(func() { got = append(got, i) })
	}
	n.enqueue(nil)
	n.flush()

	if want := []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("순서 = %v, want %v", got, want)
	}
}

// TestNotifier_Reentrant는 콜백 안에서 enqueue/flush해도 순서가 유지되는지 검증합니다.
func TestNotifier_Reentrant(t *testing.T) {
	n := newNotifier()
	var got []string

	n.enqueue(func() {
		got = append(got, "a")
		n.enqueue(func() { got = append(got, "c") })
		n.flush() // 전달 중이므로 즉시 반환
		got = append(got, "b")
	})
	n.flush()

	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("순서 = %v, want %v", got, want)
	}
}

// TestNotifier_PanicRecovered는 콜백 panic 후에도 나머지가 전달되는지 검증합니다.
func TestNotifier_PanicRecovered(t *testing.T) {
	n := newNotifier()
	delivered := false

	n.enqueue(func() { panic("관찰자 오류") })
	n.enqueue(func() { delivered = true })
	n.flush()

	if !delivered {
		t.Error("panic 이후 콜백이 전달되지 않았습니다")
	}
	if n.draining {
		t.Error("flush 후 draining = true")
	}
}

// TestNotifier_FlushWaitsForOtherGoroutine은 다른 고루틴이 전달 중일 때
// flush가 자신이 넣은 항목이 전달될 때까지 기다리는지 검증합니다.
func TestNotifier_FlushWaitsForOtherGoroutine(t *testing.T) {
	n := newNotifier()
	entered := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var got []string
	add := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	n.enqueue(func() {
		close(entered)
		<-release
		add("first")
	})
	go n.flush()
	<-entered

	n.enqueue(func() { add("second") })
	flushed := make(chan struct{})
	go func() {
		n.flush()
		close(flushed)
	}()

	select {
	case <-flushed:
		t.Fatal("전달 전에 flush가 반환되었습니다")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("타임아웃: flush가 반환되지 않았습니다")
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"first", "second"}; !reflect.DeepEqual(got, want) {
		t.Errorf("순서 = %v, want %v", got, want)
	}
}
