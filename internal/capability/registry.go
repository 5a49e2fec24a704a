package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/clawnode/internal/logger"
	"github.com/openclaw/clawnode/internal/metrics"
	"github.com/openclaw/clawnode/internal/protocol"
)

// 레지스트리 기본값.
const (
	DefaultWorkers     = 4
	DefaultExecTimeout = 60 * time.Second
)

var (
	// ErrUnknownCapability는 등록되지 않은 capability를 요청한 경우입니다.
	ErrUnknownCapability = errors.New("capability: unknown capability")
	// ErrDuplicateCapability는 같은 이름을 두 번 등록한 경우입니다.
	ErrDuplicateCapability = errors.New("capability: already registered")
	// ErrNoSender는 결과 전송자가 설정되지 않은 경우입니다.
	ErrNoSender = errors.New("capability: result sender not set")
)

// Executor는 capability 하나를 실행합니다.
// 반환한 에러에 *protocol.GatewayError가 있으면 그 코드가 결과에 실리고,
// 없으면 CAPABILITY_FAILED로 분류됩니다.
type Executor interface {
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ExecutorFunc는 함수를 Executor로 변환합니다.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Execute는 f(ctx, args)를 호출합니다.
func (f ExecutorFunc) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

// ResultSender는 실행 결과를 컨트롤러로 보냅니다. *websocket.Manager가 구현합니다.
type ResultSender interface {
	SendCapabilityResult(res protocol.CapabilityResult) error
}

type entry struct {
	version int
	exec    Executor
}

// Option은 Registry 설정 함수입니다.
type Option func(*Registry)

// WithWorkers는 워커 수를 설정합니다.
func WithWorkers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize는 대기 큐 용량을 설정합니다.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		r.queue = NewRequestQueue(n)
	}
}

// WithExecTimeout은 요청별 실행 타임아웃을 설정합니다.
func WithExecTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics는 실행 지연을 기록할 메트릭 수집기를 설정합니다.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// Registry는 이름별 Executor와 워커 풀을 관리합니다.
// websocket.CapabilityDispatcher를 구현하며 DispatchCapability는 블로킹하지 않습니다.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
	sender  ResultSender

	queue   *RequestQueue
	workers int
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry는 새로운 Registry를 생성합니다.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		queue:   NewRequestQueue(DefaultQueueCapacity),
		workers: DefaultWorkers,
		timeout: DefaultExecTimeout,
		log:     logger.WithComponent("capability"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register는 capability를 등록합니다. 연결 전에 호출해야 매니페스트에 포함됩니다.
func (r *Registry) Register(name string, version int, exec Executor) error {
	if name == "" || exec == nil {
		return fmt.Errorf("capability 등록 실패: 이름과 실행기가 필요합니다")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
	}
	r.entries[name] = entry{version: version, exec: exec}
	r.order = append(r.order, name)
	return nil
}

// Manifest는 등록 순서대로 capability 매니페스트를 반환합니다.
func (r *Registry) Manifest() []protocol.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]protocol.Capability, 0, len(r.order))
	for _, name := range r.order {
		caps = append(caps, protocol.Capability{Name: name, Version: r.entries[name].version})
	}
	return caps
}

// SetSender는 결과 전송자를 설정합니다.
func (r *Registry) SetSender(s ResultSender) {
	r.mu.Lock()
	r.sender = s
	r.mu.Unlock()
}

// Start는 워커 풀을 시작합니다. 이미 실행 중이면 아무것도 하지 않습니다.
func (r *Registry) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.done = make(chan struct{})
	r.cancel = cancel

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, r.done)
	}
	r.log.Info().Int("workers", r.workers).Int("queue_size", r.queue.Capacity()).Msg("capability 워커 풀 시작")
}

// Stop은 실행 중인 요청을 취소하고 워커 종료를 기다립니다.
// 대기 중이던 요청에는 CAPABILITY_FAILED 결과를 보냅니다.
func (r *Registry) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.cancel()
	r.queue.Wakeup()
	r.runMu.Unlock()

	r.wg.Wait()

	for _, req := range r.queue.Drain() {
		r.reply(protocol.FailedResult(req.RequestID, req.Capability,
			protocol.NewError(protocol.CodeCapabilityFailed, "capability registry stopped")))
	}
	r.log.Info().Msg("capability 워커 풀 종료")
}

// DispatchCapability는 요청을 큐에 넣습니다.
// 알 수 없는 capability는 CAPABILITY_UNKNOWN, 큐가 가득 차면 CAPABILITY_BUSY 결과를 즉시 보냅니다.
func (r *Registry) DispatchCapability(req protocol.CapabilityRequest) {
	r.mu.RLock()
	_, ok := r.entries[req.Capability]
	r.mu.RUnlock()

	if !ok {
		r.reply(protocol.FailedResult(req.RequestID, req.Capability,
			protocol.Errorf(protocol.CodeCapabilityUnknown, "unknown capability %q", req.Capability)))
		return
	}

	if err := r.queue.Add(req); err != nil {
		r.log.Warn().Str("request_id", req.RequestID).Str("capability", req.Capability).Msg("capability 큐 포화, 요청 거부")
		r.reply(protocol.FailedResult(req.RequestID, req.Capability,
			protocol.Errorf(protocol.CodeCapabilityBusy, "queue full (%d pending)", r.queue.Capacity())))
	}
}

// Pending은 대기 중인 요청 수를 반환합니다.
func (r *Registry) Pending() int {
	return r.queue.Size()
}

func (r *Registry) worker(ctx context.Context, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		req, err := r.queue.GetBlocking(done)
		if err != nil {
			return
		}
		r.reply(r.execute(ctx, req))
	}
}

// execute는 요청 하나를 타임아웃 안에서 실행하고 결과를 만듭니다.
func (r *Registry) execute(ctx context.Context, req protocol.CapabilityRequest) (res protocol.CapabilityResult) {
	r.mu.RLock()
	e, ok := r.entries[req.Capability]
	r.mu.RUnlock()
	if !ok {
		return protocol.FailedResult(req.RequestID, req.Capability,
			protocol.Errorf(protocol.CodeCapabilityUnknown, "unknown capability %q", req.Capability))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("capability", req.Capability).Msg("capability 실행 panic 복구")
			res = protocol.FailedResult(req.RequestID, req.Capability,
				protocol.Errorf(protocol.CodeCapabilityFailed, "executor panic: %v", p))
		}
		if r.metrics != nil {
			r.metrics.RecordLatency(time.Since(start))
		}
	}()

	out, err := e.exec.Execute(ctx, req.Args)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return protocol.FailedResult(req.RequestID, req.Capability, classify(err))
	}

	return protocol.CapabilityResult{
		RequestID:  req.RequestID,
		Capability: req.Capability,
		OK:         true,
		Result:     out,
	}
}

// classify는 실행 에러를 결과 에러로 변환합니다.
func classify(err error) *protocol.GatewayError {
	var gerr *protocol.GatewayError
	if errors.As(err, &gerr) && gerr.Code != "" {
		return gerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewError(protocol.CodeCapabilityFailed, "execution timed out")
	}
	return protocol.NewError(protocol.CodeCapabilityFailed, err.Error())
}

func (r *Registry) reply(res protocol.CapabilityResult) {
	r.mu.RLock()
	sender := r.sender
	r.mu.RUnlock()

	if sender == nil {
		r.log.Warn().Err(ErrNoSender).Str("request_id", res.RequestID).Msg("capability 결과 폐기")
		return
	}
	if err := sender.SendCapabilityResult(res); err != nil {
		r.log.Warn().Err(err).Str("request_id", res.RequestID).Str("capability", res.Capability).Msg("capability 결과 전송 실패")
	}
}
