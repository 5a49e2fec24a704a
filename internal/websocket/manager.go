package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/clawnode/internal/config"
	"github.com/openclaw/clawnode/internal/logger"
	"github.com/openclaw/clawnode/internal/metrics"
	"github.com/openclaw/clawnode/internal/protocol"
	"github.com/openclaw/clawnode/internal/registration"
)

// Manager 관련 상수.
const (
	// NodeIDHeader는 핸드셰이크 요청에 노드 ID를 싣는 헤더입니다.
	NodeIDHeader = "X-Node-Id"

	// DefaultRegisterTimeout은 register_ack 대기 시간 기본값입니다.
	DefaultRegisterTimeout = 10 * time.Second

	// 로컬에서 닫을 때 사용하는 close 코드.
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseRegisterTimeout  = 4000
	CloseHeartbeatTimeout = 4001
)

var (
	// ErrShutdown은 Shutdown 이후 Connect를 호출한 경우 반환됩니다.
	ErrShutdown = errors.New("gateway: manager shut down")
	// ErrInvalidURL은 ws/wss가 아닌 URL로 Connect를 호출한 경우 반환됩니다.
	ErrInvalidURL = errors.New("gateway: invalid controller url")
	// ErrNotConnected는 열린 소켓 없이 결과를 보내려 한 경우입니다. errors.Is로 코드 비교합니다.
	ErrNotConnected = protocol.NewError(protocol.CodeGatewayNotConnected, "")
)

// Status는 Manager 세션 상태의 스냅샷입니다.
type Status struct {
	State        string    `json:"state"`
	Connected    bool      `json:"connected"`
	Registered   bool      `json:"registered"`
	SessionID    string    `json:"sessionId,omitempty"`
	URL          string    `json:"url,omitempty"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
	InFlight     int       `json:"inFlight"`
	Shutdown     bool      `json:"shutdown"`
}

// Option은 Manager 설정 함수입니다.
type Option func(*Manager)

// WithClock은 시각 함수를 교체합니다.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithBackoffUnit은 재연결 지연 단위를 설정합니다 (기본 1초).
func WithBackoffUnit(unit time.Duration) Option {
	return func(m *Manager) {
		if unit > 0 {
			m.backoffUnit = unit
		}
	}
}

// WithHeartbeat은 하트비트 간격과 무응답 허용 시간을 설정합니다.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(m *Manager) {
		m.heartbeatInterval = interval
		m.heartbeatTimeout = timeout
	}
}

// WithRegisterTimeout은 register_ack 대기 시간을 설정합니다.
func WithRegisterTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.registerTimeout = d
		}
	}
}

// WithMetrics는 메트릭 수집기를 설정합니다.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithDispatcher는 capability_request를 받을 디스패처를 설정합니다.
func WithDispatcher(d CapabilityDispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithLogger는 구조화 로그를 기록할 zerolog 로거를 설정합니다.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// Manager는 컨트롤러와의 단일 논리 연결을 소유합니다.
//
// 모든 세션 상태는 mu 하나로 보호되며, 소켓 송신과 close, 관찰자 콜백은
// 락을 놓은 뒤에 실행됩니다. 소켓 콜백은 자신이 속한 connection이 현재
// active인지 확인한 뒤에만 상태를 변경합니다.
type Manager struct {
	transport  Transport
	cb         Callbacks
	dispatcher CapabilityDispatcher
	scheduler  *ReconnectScheduler
	heartbeat  *HeartbeatMonitor
	tracker    *RequestTracker
	notify     *notifier
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time

	backoffUnit       time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	registerTimeout   time.Duration

	mu            sync.Mutex
	machine       *registration.Machine
	active        *connection
	gen           uint64
	url           string
	sessionID     string
	attempts      int
	intentional   bool
	shutdown      bool
	lastActivity  time.Time
	lastError     string
	registerTimer *time.Timer
}

// NewManager는 새로운 Manager를 생성합니다.
func NewManager(transport Transport, cb Callbacks, opts ...Option) *Manager {
	m := &Manager{
		transport:         transport,
		cb:                cb,
		scheduler:         NewReconnectScheduler(),
		tracker:           NewRequestTracker(),
		notify:            newNotifier(),
		metrics:           metrics.NewMetrics(),
		log:               logger.WithComponent("gateway"),
		now:               time.Now,
		backoffUnit:       time.Second,
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		registerTimeout:   DefaultRegisterTimeout,
		machine:           registration.NewMachine(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.heartbeat = NewHeartbeatMonitor(m.heartbeatInterval, m.heartbeatTimeout)
	return m
}

// connection은 Open 한 번에 대응하며 그 소켓의 SocketListener입니다.
// 필드는 Manager.mu로 보호됩니다.
type connection struct {
	m      *Manager
	gen    uint64
	url    string
	id     identity
	socket Socket
	open   bool
	opened bool
}

func (c *connection) OnOpen(s Socket) { c.m.handleOpen(c, s) }

func (c *connection) OnMessage(_ Socket, data []byte) { c.m.handleMessage(c, data) }

func (c *connection) OnClosed(_ Socket, code int, reason string) { c.m.handleClosed(c, code, reason) }

func (c *connection) OnFailure(_ Socket, err error) { c.m.handleFailure(c, err) }

// effects는 락 안에서 결정하고 락 밖에서 실행할 소켓 작업입니다.
type effects struct {
	sends  []outbound
	closes []closeRequest
}

type outbound struct {
	socket Socket
	data   []byte
	kind   string
}

type closeRequest struct {
	socket Socket
	code   int
	reason string
}

func (fx *effects) send(s Socket, data []byte, kind string) {
	if s == nil {
		return
	}
	fx.sends = append(fx.sends, outbound{socket: s, data: data, kind: kind})
}

func (fx *effects) close(s Socket, code int, reason string) {
	if s == nil {
		return
	}
	fx.closes = append(fx.closes, closeRequest{socket: s, code: code, reason: reason})
}

// finish는 락을 놓은 뒤 호출합니다. 관찰자 통지, 송신, close 순서로 실행합니다.
func (m *Manager) finish(fx *effects) {
	m.notify.flush()

	for _, o := range fx.sends {
		if o.socket.Send(o.data) {
			m.metrics.FramesSent.Add(1)
			continue
		}
		m.mu.Lock()
		m.logLocked(zerolog.WarnLevel, "TX_FAILED type="+o.kind)
		m.mu.Unlock()
		m.notify.flush()
	}

	for _, c := range fx.closes {
		c.socket.Close(c.code, c.reason)
	}
}

// Connect는 기존 연결을 교체하여 url로 새 연결을 시작합니다.
// 네트워크 응답을 기다리지 않고 즉시 반환합니다.
func (m *Manager) Connect(url string) error {
	return m.connect(url, true, 0)
}

// connect는 userInitiated가 false이면 재연결 타이머 경로로,
// (url, generation, 의도적 해제 여부)가 예약 시점과 같을 때만 진행합니다.
func (m *Manager) connect(url string, userInitiated bool, expectGen uint64) error {
	if err := config.ValidateControllerURL(url); err != nil {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return ErrShutdown
		}
		m.lastError = protocol.CodeWSFailure
		m.logLocked(zerolog.WarnLevel, fmt.Sprintf("CONNECT_REJECTED url=%s err=%v", url, err))
		m.reportLocked()
		m.mu.Unlock()
		m.notify.flush()
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	// 협력자 함수는 락 밖에서 호출합니다.
	id := m.cb.snapshot()

	var fx effects
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if !userInitiated && (m.intentional || m.gen != expectGen || m.url != url) {
		m.mu.Unlock()
		return nil
	}

	fx.close(m.detachLocked(), CloseNormal, "superseded")
	m.scheduler.CancelAll()
	m.intentional = false
	m.url = url
	if userInitiated {
		m.attempts = 0
	}
	m.lastError = ""
	m.gen++
	c := &connection{m: m, gen: m.gen, url: url, id: id}
	m.active = c
	m.machine.Fire(registration.ConnectRequested{})
	m.metrics.ConnectionAttempts.Add(1)
	m.logLocked(zerolog.InfoLevel, "CONNECT url="+url)
	m.reportLocked()
	m.mu.Unlock()
	m.finish(&fx)

	header := http.Header{}
	if id.nodeID != "" {
		header.Set(NodeIDHeader, id.nodeID)
	}
	s, err := m.transport.Open(url, header, c)
	if err != nil {
		m.handleFailure(c, err)
		return fmt.Errorf("소켓 열기 실패: %w", err)
	}

	m.mu.Lock()
	stale := m.active != c
	if !stale && c.socket == nil {
		c.socket = s
	}
	m.mu.Unlock()
	if stale {
		s.Close(CloseNormal, "stale socket")
	}
	return nil
}

// Disconnect는 연결을 의도적으로 해제합니다. 재연결은 예약되지 않습니다.
// 네트워크 확인을 기다리지 않고 DISCONNECTED 상태를 보고한 뒤 반환합니다.
func (m *Manager) Disconnect() {
	m.stop(false)
}

// Shutdown은 Disconnect 후 스케줄러와 Transport를 해제합니다. 되돌릴 수 없습니다.
func (m *Manager) Shutdown() {
	m.stop(true)
}

func (m *Manager) stop(shutdown bool) {
	var fx effects
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}

	m.intentional = true
	m.scheduler.CancelAll()
	code, reason, line := CloseNormal, "disconnect", "DISCONNECT"
	if shutdown {
		m.shutdown = true
		m.scheduler.Shutdown()
		code, reason, line = CloseGoingAway, "shutdown", "SHUTDOWN"
	}
	fx.close(m.detachLocked(), code, reason)
	m.url = ""
	m.attempts = 0
	m.lastError = ""
	m.gen++
	m.machine.Fire(registration.DisconnectRequested{})
	m.logLocked(zerolog.InfoLevel, line)
	m.reportLocked()
	m.mu.Unlock()
	m.finish(&fx)

	if shutdown {
		m.transport.Shutdown()
	}
}

// Reconnect는 현재 URL로 즉시 재연결합니다. 시도 횟수를 초기화합니다.
// 의도적 해제 상태이거나 URL이 없으면 아무것도 하지 않습니다.
func (m *Manager) Reconnect(reason string) {
	m.mu.Lock()
	if m.shutdown || m.intentional || m.url == "" {
		m.mu.Unlock()
		return
	}
	url, gen := m.url, m.gen
	m.attempts = 0
	m.logLocked(zerolog.InfoLevel, "RECONNECT_REQUESTED reason="+reason)
	m.mu.Unlock()
	m.notify.flush()

	_ = m.connect(url, false, gen)
}

// Probe는 active 소켓에 ping을 보내 연결 유효성을 확인합니다.
func (m *Manager) Probe() bool {
	m.mu.Lock()
	var s Socket
	if c := m.active; c != nil && c.open {
		s = c.socket
	}
	m.mu.Unlock()

	if s == nil {
		return false
	}
	return s.Ping() == nil
}

// SendCapabilityResult는 capability_result를 active 소켓으로 보냅니다.
// 열린 소켓이 없으면 GATEWAY_NOT_CONNECTED를 반환하며 버퍼링하거나 재시도하지 않습니다.
func (m *Manager) SendCapabilityResult(res protocol.CapabilityResult) error {
	data, err := protocol.EncodeAt(res, m.now())
	if err != nil {
		return fmt.Errorf("capability_result 인코딩 실패: %w", err)
	}

	m.mu.Lock()
	m.tracker.Complete(res.RequestID)
	c := m.active
	if m.shutdown || c == nil || !c.open || c.socket == nil {
		gerr := m.sendFailedLocked(res.RequestID)
		m.mu.Unlock()
		m.notify.flush()
		return gerr
	}
	s := c.socket
	m.logLocked(zerolog.DebugLevel, "TX "+protocol.LogSummary(data))
	m.mu.Unlock()
	m.notify.flush()

	if !s.Send(data) {
		m.mu.Lock()
		gerr := m.sendFailedLocked(res.RequestID)
		m.mu.Unlock()
		m.notify.flush()
		return gerr
	}

	m.metrics.FramesSent.Add(1)
	m.metrics.CapabilityResults.Add(1)
	if !res.OK {
		m.metrics.CapabilityFailures.Add(1)
	}
	return nil
}

func (m *Manager) sendFailedLocked(requestID string) *protocol.GatewayError {
	gerr := protocol.Errorf(protocol.CodeGatewayNotConnected, "no open socket for requestId=%s", requestID)
	m.lastError = gerr.Code
	m.logLocked(zerolog.WarnLevel, "SEND_FAILED "+gerr.Error())
	m.reportLocked()
	return gerr
}

// Snapshot은 현재 세션 상태를 반환합니다.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:        m.machine.State().String(),
		Connected:    m.connectedLocked(),
		Registered:   m.registeredLocked(),
		SessionID:    m.sessionID,
		URL:          m.url,
		Attempts:     m.attempts,
		LastError:    m.lastError,
		LastActivity: m.lastActivity,
		InFlight:     m.tracker.Count(),
		Shutdown:     m.shutdown,
	}
}

// Metrics는 Manager가 갱신하는 메트릭 수집기를 반환합니다.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

func (m *Manager) handleOpen(c *connection, s Socket) {
	var fx effects
	m.mu.Lock()
	if m.active != c || m.shutdown {
		m.mu.Unlock()
		s.Close(CloseNormal, "stale socket")
		return
	}

	c.socket = s
	c.open, c.opened = true, true
	m.attempts = 0
	now := m.now()
	m.lastActivity = now
	m.machine.Fire(registration.SocketOpened{})
	m.metrics.ConnectionSuccesses.Add(1)
	m.logLocked(zerolog.InfoLevel, "OPEN url="+c.url)

	reg := protocol.Register{
		NodeID:       c.id.nodeID,
		Platform:     c.id.platform,
		AppVersion:   c.id.appVersion,
		Capabilities: c.id.manifest,
		Device:       c.id.device,
	}
	data, err := protocol.EncodeAt(reg, now)
	if err != nil {
		m.logLocked(zerolog.ErrorLevel, "REGISTER_ENCODE_FAILED "+err.Error())
		m.failLocked(registration.SocketFailure{Code: protocol.CodeWSFailure, Message: err.Error()},
			protocol.CodeWSFailure, CloseNormal, "register encode failed", &fx)
		m.mu.Unlock()
		m.finish(&fx)
		return
	}

	m.machine.Fire(registration.RegisterSent{})
	m.startRegisterTimerLocked(c)
	m.logLocked(zerolog.DebugLevel, "TX "+protocol.LogSummary(data))
	m.reportLocked()
	fx.send(s, data, protocol.TypeRegister)
	m.mu.Unlock()
	m.finish(&fx)
}

func (m *Manager) handleMessage(c *connection, data []byte) {
	var fx effects
	m.mu.Lock()
	if m.active != c || !c.open {
		m.mu.Unlock()
		return
	}

	now := m.now()
	m.lastActivity = now
	m.metrics.FramesReceived.Add(1)

	msg, err := protocol.Decode(data)
	if err != nil {
		m.metrics.DecodeErrors.Add(1)
		m.lastError = protocol.CodeBadSchema
		m.logLocked(zerolog.WarnLevel, "RX_DECODE_ERROR "+err.Error())
		m.reportLocked()
		m.mu.Unlock()
		m.finish(&fx)
		return
	}
	m.logLocked(zerolog.DebugLevel, "RX "+protocol.LogSummary(data))

	switch msg := msg.(type) {
	case protocol.RegisterAck:
		m.handleRegisterAckLocked(c, msg)

	case protocol.Heartbeat:
		m.metrics.RecordHeartbeat()
		if reply, err := protocol.EncodeAt(protocol.HeartbeatAck{}, now); err == nil {
			fx.send(c.socket, reply, protocol.TypeHeartbeatAck)
		}
		m.heartbeatObservedLocked(msg.TS, now)

	case protocol.HeartbeatAck:
		m.metrics.RecordHeartbeat()
		m.heartbeatObservedLocked(msg.TS, now)

	case protocol.CapabilityRequest:
		m.handleCapabilityRequestLocked(c, msg, &fx)

	case protocol.Error:
		m.lastError = msg.Code
		m.logLocked(zerolog.WarnLevel, fmt.Sprintf("ERROR code=%s message=%s", msg.Code, msg.Message))
		m.reportLocked()

	default:
		m.logLocked(zerolog.DebugLevel, "RX_IGNORED type="+msg.Type())
	}

	m.mu.Unlock()
	m.finish(&fx)
}

func (m *Manager) handleRegisterAckLocked(c *connection, ack protocol.RegisterAck) {
	if m.machine.State() != registration.Registering {
		m.logLocked(zerolog.InfoLevel, "REGISTER_ACK ignored state="+m.machine.State().String())
		return
	}
	m.stopRegisterTimerLocked()
	m.logLocked(zerolog.InfoLevel, fmt.Sprintf("REGISTER_ACK ok=%t sessionId=%s", ack.OK, ack.SessionID))

	if ack.OK && ack.SessionID != "" {
		m.machine.Fire(registration.RegisterAckOk{SessionID: ack.SessionID})
		m.sessionID = ack.SessionID
		m.lastError = ""
		m.metrics.RegistrationsOK.Add(1)
		gen := c.gen
		m.heartbeat.Start(func() { m.heartbeatTick(gen) })
	} else {
		gerr := registerAckError(ack)
		m.machine.Fire(registration.RegisterAckError{Err: gerr})
		m.sessionID = ""
		m.lastError = gerr.Code
		m.metrics.RegistrationsFailed.Add(1)
		m.logLocked(zerolog.WarnLevel, "REGISTER_FAILED "+gerr.Error())
	}
	m.reportLocked()
}

// registerAckError는 거부된 register_ack를 GatewayError로 분류합니다.
// ok=true라도 sessionId가 없으면 등록 실패로 취급합니다.
// REG_UNAUTHORIZED, REG_SERVER_ERROR 외의 서버 코드는 메시지만 유지하고 REGISTER_ACK_FAILED로 바꿉니다.
func registerAckError(ack protocol.RegisterAck) *protocol.GatewayError {
	if ack.OK {
		return protocol.NewError(protocol.CodeRegisterAckFailed, "register_ack missing sessionId")
	}
	if ack.Error != nil {
		switch ack.Error.Code {
		case protocol.CodeRegUnauthorized, protocol.CodeRegServerError:
			return ack.Error
		}
	}
	msg := "registration rejected"
	if ack.Error != nil && ack.Error.Message != "" {
		msg = ack.Error.Message
	}
	return protocol.NewError(protocol.CodeRegisterAckFailed, msg)
}

func (m *Manager) heartbeatObservedLocked(ts int64, now time.Time) {
	if ts == 0 {
		ts = now.UnixMilli()
	}
	if onHeartbeat := m.cb.OnHeartbeat; onHeartbeat != nil {
		m.notify.enqueue(func() { onHeartbeat(ts) })
	}
}

func (m *Manager) handleCapabilityRequestLocked(c *connection, req protocol.CapabilityRequest, fx *effects) {
	m.metrics.CapabilityRequests.Add(1)

	if !c.id.hasCapability(req.Capability) {
		gerr := protocol.Errorf(protocol.CodeCapabilityUnknown, "unknown capability %q", req.Capability)
		m.rejectRequestLocked(c, req, gerr, fx)
		return
	}
	if m.dispatcher == nil {
		gerr := protocol.Errorf(protocol.CodeCapabilityFailed, "no dispatcher for capability %q", req.Capability)
		m.rejectRequestLocked(c, req, gerr, fx)
		return
	}
	if !m.tracker.Track(req.RequestID, req.Capability) {
		m.logLocked(zerolog.WarnLevel, fmt.Sprintf("CAPABILITY_REQUEST duplicate requestId=%s ignored", req.RequestID))
		return
	}

	m.logLocked(zerolog.InfoLevel, fmt.Sprintf("CAPABILITY_REQUEST requestId=%s capability=%s", req.RequestID, req.Capability))
	d := m.dispatcher
	m.notify.enqueue(func() { d.DispatchCapability(req) })
}

// rejectRequestLocked는 디스패처를 거치지 않고 실패 결과를 즉시 보냅니다.
func (m *Manager) rejectRequestLocked(c *connection, req protocol.CapabilityRequest, gerr *protocol.GatewayError, fx *effects) {
	m.lastError = gerr.Code
	m.logLocked(zerolog.WarnLevel, fmt.Sprintf("%s requestId=%s capability=%s", gerr.Code, req.RequestID, req.Capability))
	m.reportLocked()

	res := protocol.FailedResult(req.RequestID, req.Capability, gerr)
	data, err := protocol.EncodeAt(res, m.now())
	if err != nil {
		m.logLocked(zerolog.ErrorLevel, "RESULT_ENCODE_FAILED "+err.Error())
		return
	}
	m.metrics.CapabilityResults.Add(1)
	m.metrics.CapabilityFailures.Add(1)
	m.logLocked(zerolog.DebugLevel, "TX "+protocol.LogSummary(data))
	fx.send(c.socket, data, protocol.TypeCapabilityResult)
}

func (m *Manager) heartbeatTick(gen uint64) {
	var fx effects
	m.mu.Lock()
	c := m.active
	if c == nil || c.gen != gen || !c.open || !m.machine.Registered() {
		m.mu.Unlock()
		return
	}

	now := m.now()
	if m.heartbeat.Expired(m.lastActivity, now) {
		m.metrics.HeartbeatTimeouts.Add(1)
		m.logLocked(zerolog.WarnLevel, "HEARTBEAT_TIMEOUT")
		msg := fmt.Sprintf("no inbound activity for %s", now.Sub(m.lastActivity).Round(time.Millisecond))
		m.failLocked(registration.SocketFailure{Code: protocol.CodeHeartbeatTimeout, Message: msg},
			protocol.CodeHeartbeatTimeout, CloseHeartbeatTimeout, "heartbeat timeout", &fx)
	} else {
		hb := protocol.Heartbeat{NodeID: c.id.nodeID, SessionID: m.sessionID}
		if data, err := protocol.EncodeAt(hb, now); err == nil {
			m.metrics.HeartbeatsSent.Add(1)
			m.logLocked(zerolog.DebugLevel, "TX "+protocol.LogSummary(data))
			fx.send(c.socket, data, protocol.TypeHeartbeat)
		}
	}

	m.mu.Unlock()
	m.finish(&fx)
}

func (m *Manager) startRegisterTimerLocked(c *connection) {
	m.stopRegisterTimerLocked()
	gen := c.gen
	m.registerTimer = time.AfterFunc(m.registerTimeout, func() { m.handleRegisterTimeout(gen) })
}

func (m *Manager) stopRegisterTimerLocked() {
	if m.registerTimer != nil {
		m.registerTimer.Stop()
		m.registerTimer = nil
	}
}

func (m *Manager) handleRegisterTimeout(gen uint64) {
	var fx effects
	m.mu.Lock()
	c := m.active
	if c == nil || c.gen != gen || m.machine.State() != registration.Registering {
		m.mu.Unlock()
		return
	}
	m.registerTimer = nil
	m.metrics.RegistrationsFailed.Add(1)
	m.logLocked(zerolog.WarnLevel, "REGISTER_TIMEOUT")
	m.failLocked(registration.RegisterTimeout{}, protocol.CodeRegTimeout, CloseRegisterTimeout, "register timeout", &fx)
	m.mu.Unlock()
	m.finish(&fx)
}

func (m *Manager) handleClosed(c *connection, code int, reason string) {
	var fx effects
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.machine.Fire(registration.SocketClosed{Code: code, Reason: reason})
	m.lastError = ""
	m.logLocked(zerolog.InfoLevel, fmt.Sprintf("CLOSED code=%d reason=%s", code, reason))
	m.reportLocked()
	m.scheduleReconnectLocked()
	m.mu.Unlock()
	m.finish(&fx)
}

func (m *Manager) handleFailure(c *connection, err error) {
	var fx effects
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	code := protocol.CodeControllerUnreachable
	if c.opened {
		code = protocol.CodeWSFailure
	}
	msg := "transport failure"
	if err != nil {
		msg = err.Error()
	}
	m.logLocked(zerolog.WarnLevel, "FAILURE "+msg)
	m.failLocked(registration.SocketFailure{Code: code, Message: msg}, code, 0, "", &fx)
	m.mu.Unlock()
	m.finish(&fx)
}

// failLocked는 active 연결을 떼어내고 ev를 적용한 뒤 재연결을 예약합니다.
// closeCode가 0이면 소켓을 닫지 않습니다.
func (m *Manager) failLocked(ev registration.Event, code string, closeCode int, closeReason string, fx *effects) {
	s := m.detachLocked()
	m.machine.Fire(ev)
	m.lastError = code
	m.metrics.ConnectionFailures.Add(1)
	m.reportLocked()
	m.scheduleReconnectLocked()
	if closeCode != 0 {
		fx.close(s, closeCode, closeReason)
	}
}

// detachLocked는 active 연결을 해제하고 그 소켓을 반환합니다.
// 이후 해당 소켓의 콜백은 모두 stale로 버려집니다.
func (m *Manager) detachLocked() Socket {
	m.heartbeat.Stop()
	m.stopRegisterTimerLocked()
	m.tracker.Clear()
	m.sessionID = ""

	c := m.active
	m.active = nil
	if c == nil {
		return nil
	}
	c.open = false
	return c.socket
}

func (m *Manager) scheduleReconnectLocked() {
	if m.intentional || m.shutdown || m.url == "" {
		return
	}
	m.scheduler.CancelAll()
	m.attempts++
	attempt := m.attempts
	delay := BackoffDelay(attempt, m.backoffUnit)
	url, gen := m.url, m.gen

	if _, ok := m.scheduler.Schedule(delay, func() { m.fireReconnect(url, gen) }); !ok {
		return
	}
	m.metrics.ReconnectsScheduled.Add(1)
	m.logLocked(zerolog.InfoLevel, fmt.Sprintf("RECONNECT_ATTEMPT attempt=%d delay=%s", attempt, delay))
}

func (m *Manager) fireReconnect(url string, gen uint64) {
	if err := m.connect(url, false, gen); err != nil && !errors.Is(err, ErrShutdown) {
		m.log.Warn().Err(err).Msg("재연결 실패")
	}
}

func (m *Manager) connectedLocked() bool {
	return m.active != nil && m.active.open
}

func (m *Manager) registeredLocked() bool {
	return m.machine.Registered() && m.sessionID != ""
}

// reportLocked는 현재 관찰 상태를 통지 큐에 넣습니다.
func (m *Manager) reportLocked() {
	connected, registered, lastError := m.connectedLocked(), m.registeredLocked(), m.lastError
	m.metrics.SetSession(connected, registered)
	if onState := m.cb.OnState; onState != nil {
		m.notify.enqueue(func() { onState(connected, registered, lastError) })
	}
}

// logLocked는 프로토콜 로그 한 줄을 통지 큐에 넣습니다.
// zerolog 기록과 OnLog 호출 모두 락 밖에서 순서대로 실행됩니다.
func (m *Manager) logLocked(level zerolog.Level, line string) {
	line = logger.MaskSensitive(line)
	state := m.machine.State().String()
	sessionID, attempt := m.sessionID, m.attempts
	onLog := m.cb.OnLog

	m.notify.enqueue(func() {
		m.log.WithLevel(level).
			Str("state", state).
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Msg(line)
		if onLog != nil {
			onLog(line)
		}
	})
}
