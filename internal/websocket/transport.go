package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/clawnode/internal/logger"
)

// 전송 계층 기본값.
const (
	// MaxMessageSize는 최대 수신 프레임 크기입니다 (8MB, 카메라 결과 등 대용량 페이로드 허용).
	MaxMessageSize = 8 * 1024 * 1024
	// WriteTimeout은 프레임 쓰기 타임아웃입니다.
	WriteTimeout = 10 * time.Second
	// ConnectTimeout은 핸드셰이크 타임아웃입니다.
	ConnectTimeout = 10 * time.Second
	// CloseGrace는 close 프레임 전송 후 상대의 응답을 기다리는 시간입니다.
	CloseGrace = 2 * time.Second
)

// ErrTransportClosed는 Shutdown된 Transport에 Open을 호출한 경우 반환됩니다.
var ErrTransportClosed = errors.New("transport: shut down")

// Socket은 Transport가 연 단일 소켓입니다.
type Socket interface {
	// Send는 텍스트 프레임을 보냅니다. 소켓이 열려 있지 않거나 쓰기에 실패하면 false를 반환합니다.
	Send(data []byte) bool
	// Close는 close 프레임을 보내고 소켓을 닫습니다. 여러 번 호출해도 안전합니다.
	Close(code int, reason string)
	// Ping은 ping 제어 프레임으로 연결 유효성을 확인합니다.
	Ping() error
}

// SocketListener는 소켓 이벤트를 받습니다.
// 콜백은 Transport의 고루틴에서 호출되며 Open 호출 중 동기적으로 호출되지 않습니다.
type SocketListener interface {
	OnOpen(s Socket)
	OnMessage(s Socket, data []byte)
	OnClosed(s Socket, code int, reason string)
	OnFailure(s Socket, err error)
}

// Transport는 소켓을 엽니다. Open은 즉시 반환하고 연결은 비동기로 진행됩니다.
type Transport interface {
	Open(url string, header http.Header, l SocketListener) (Socket, error)
	// Shutdown은 진행 중인 다이얼과 열린 소켓을 정리하고 이후 Open을 거부합니다.
	Shutdown()
}

// GorillaTransport는 gorilla/websocket 기반 Transport입니다.
type GorillaTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	sockets map[*gorillaSocket]struct{}
}

// TransportOption은 GorillaTransport 설정 함수입니다.
type TransportOption func(*GorillaTransport)

// WithHandshakeTimeout은 핸드셰이크 타임아웃을 설정합니다.
func WithHandshakeTimeout(d time.Duration) TransportOption {
	return func(t *GorillaTransport) {
		if d > 0 {
			t.dialer.HandshakeTimeout = d
		}
	}
}

// WithWriteTimeout은 프레임 쓰기 타임아웃을 설정합니다.
func WithWriteTimeout(d time.Duration) TransportOption {
	return func(t *GorillaTransport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// WithReadLimit은 최대 수신 프레임 크기를 설정합니다.
func WithReadLimit(n int64) TransportOption {
	return func(t *GorillaTransport) {
		if n > 0 {
			t.readLimit = n
		}
	}
}

// NewGorillaTransport는 새로운 GorillaTransport를 생성합니다.
func NewGorillaTransport(opts ...TransportOption) *GorillaTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &GorillaTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: ConnectTimeout,
		},
		writeTimeout: WriteTimeout,
		readLimit:    MaxMessageSize,
		ctx:          ctx,
		cancel:       cancel,
		sockets:      make(map[*gorillaSocket]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open은 url로 다이얼을 시작하고 즉시 소켓 핸들을 반환합니다.
func (t *GorillaTransport) Open(rawURL string, header http.Header, l SocketListener) (Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}

	ctx, cancel := context.WithCancel(t.ctx)
	s := &gorillaSocket{
		transport: t,
		url:       rawURL,
		listener:  l,
		ctx:       ctx,
		cancel:    cancel,
	}
	t.sockets[s] = struct{}{}

	go s.run(header.Clone())
	return s, nil
}

// Shutdown은 모든 다이얼을 취소하고 열린 소켓을 닫습니다.
func (t *GorillaTransport) Shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sockets := make([]*gorillaSocket, 0, len(t.sockets))
	for s := range t.sockets {
		sockets = append(sockets, s)
	}
	t.mu.Unlock()

	for _, s := range sockets {
		s.Close(websocket.CloseGoingAway, "shutdown")
	}
	t.cancel()
}

func (t *GorillaTransport) forget(s *gorillaSocket) {
	t.mu.Lock()
	delete(t.sockets, s)
	t.mu.Unlock()
}

// gorillaSocket은 하나의 다이얼 시도와 그 연결입니다.
type gorillaSocket struct {
	transport *GorillaTransport
	url       string
	listener  SocketListener

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        *websocket.Conn
	closing     bool
	closeCode   int
	closeReason string

	// writeMu는 데이터 프레임 쓰기를 직렬화합니다. 제어 프레임은 gorilla가 별도로 보호합니다.
	writeMu sync.Mutex
}

func (s *gorillaSocket) run(header http.Header) {
	defer s.transport.forget(s)
	defer s.cancel()

	conn, resp, err := s.transport.dialer.DialContext(s.ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if code, reason, closing := s.closeRequest(); closing {
			s.listener.OnClosed(s, code, reason)
			return
		}
		if resp != nil {
			err = fmt.Errorf("핸드셰이크 실패 (HTTP %d): %w", resp.StatusCode, err)
		}
		s.listener.OnFailure(s, err)
		return
	}

	conn.SetReadLimit(s.transport.readLimit)
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.transport.writeTimeout))
	})

	s.mu.Lock()
	if s.closing {
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		s.writeClose(conn, code, reason)
		_ = conn.Close()
		s.listener.OnClosed(s, code, reason)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.listener.OnOpen(s)
	s.readLoop(conn)
}

// readLoop는 연결이 끝날 때까지 프레임을 수신합니다.
// gorilla/websocket은 ReadMessage() 에러 후 재시도 시 panic하므로 첫 에러에서 종료합니다.
func (s *gorillaSocket) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			logger.Error().Interface("panic", r).Str("url", s.url).Msg("readLoop panic 복구")
			s.listener.OnFailure(s, fmt.Errorf("readLoop panic: %v", r))
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(conn, err)
			return
		}
		s.listener.OnMessage(s, data)
	}
}

func (s *gorillaSocket) finish(conn *websocket.Conn, err error) {
	_ = conn.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.listener.OnClosed(s, ce.Code, ce.Text)
		return
	}
	if code, reason, closing := s.closeRequest(); closing {
		s.listener.OnClosed(s, code, reason)
		return
	}
	s.listener.OnFailure(s, err)
}

func (s *gorillaSocket) closeRequest() (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason, s.closing
}

// Send는 텍스트 프레임을 보냅니다.
func (s *gorillaSocket) Send(data []byte) bool {
	s.mu.Lock()
	conn, closing := s.conn, s.closing
	s.mu.Unlock()

	if conn == nil || closing {
		return false
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.transport.writeTimeout))
	err := conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()

	if err != nil {
		// 쓰기 실패한 연결은 readLoop가 OnFailure로 정리합니다.
		_ = conn.Close()
		return false
	}
	return true
}

// Close는 close 프레임을 보내고 CloseGrace 후 연결을 강제로 닫습니다.
// 다이얼 중이면 다이얼을 취소합니다.
func (s *gorillaSocket) Close(code int, reason string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.cancel()
		return
	}

	s.writeClose(conn, code, reason)
	time.AfterFunc(CloseGrace, func() { _ = conn.Close() })
}

func (s *gorillaSocket) writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.transport.writeTimeout)); err != nil {
		_ = conn.Close()
	}
}

// Ping은 ping 제어 프레임을 보냅니다.
func (s *gorillaSocket) Ping() error {
	s.mu.Lock()
	conn, closing := s.conn, s.closing
	s.mu.Unlock()

	if conn == nil || closing {
		return websocket.ErrCloseSent
	}
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.transport.writeTimeout))
}
