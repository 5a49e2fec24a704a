// Package registration은 connect → register → registered/error 전이를 관리하는
// 결정적 상태 머신입니다. I/O와 타이머를 갖지 않으며 호출자의 락 안에서 동기 호출됩니다.
package registration

import (
	"fmt"

	"github.com/openclaw/clawnode/internal/protocol"
)

// State는 등록 상태입니다. 한 번에 하나만 활성화됩니다.
type State int

const (
	// Disconnected는 초기 상태이자 명시적 해제 후의 상태입니다.
	Disconnected State = iota
	// Connecting은 소켓 open을 기다리는 상태입니다.
	Connecting
	// ConnectedUnregistered는 소켓이 열렸으나 register를 아직 보내지 않은 상태입니다.
	ConnectedUnregistered
	// Registering은 register_ack를 기다리는 상태입니다.
	Registering
	// Registered는 세션이 할당된 상태입니다.
	Registered
	// Error는 등록 거부, 타임아웃, 전송 실패 후의 상태입니다.
	Error
)

// String은 로그와 상태 조회용 이름을 반환합니다.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case ConnectedUnregistered:
		return "CONNECTED_UNREGISTERED"
	case Registering:
		return "REGISTERING"
	case Registered:
		return "REGISTERED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connected는 state가 Disconnected가 아니면 true입니다.
func Connected(s State) bool {
	return s != Disconnected
}

// IsRegistered는 state가 Registered이면 true입니다.
func IsRegistered(s State) bool {
	return s == Registered
}

// Event는 상태 머신에 입력되는 이벤트입니다.
type Event interface {
	event()
	// Name은 로그용 이벤트 이름을 반환합니다.
	Name() string
}

// ConnectRequested는 connect 호출 이벤트입니다.
// 시도 횟수 초기화는 호출자의 책임입니다.
type ConnectRequested struct{}

// SocketOpened는 소켓 open 콜백 이벤트입니다.
type SocketOpened struct{}

// RegisterSent는 register 프레임 전송 이벤트입니다.
type RegisterSent struct{}

// RegisterAckOk는 ok && sessionId가 있는 register_ack 수신 이벤트입니다.
type RegisterAckOk struct {
	SessionID string
}

// RegisterAckError는 거부된 register_ack 수신 이벤트입니다.
type RegisterAckError struct {
	Err *protocol.GatewayError
}

// RegisterTimeout은 register_ack 대기 시간 초과 이벤트입니다.
type RegisterTimeout struct{}

// SocketClosed는 소켓 종료 콜백 이벤트입니다.
type SocketClosed struct {
	Code   int
	Reason string
}

// SocketFailure는 전송 실패 이벤트입니다.
// Code가 비어 있으면 WS_PROTOCOL_ERROR로 분류합니다.
type SocketFailure struct {
	Code    string
	Message string
}

// DisconnectRequested는 disconnect/shutdown 호출 이벤트입니다.
type DisconnectRequested struct{}

func (ConnectRequested) event()    {}
func (SocketOpened) event()        {}
func (RegisterSent) event()        {}
func (RegisterAckOk) event()       {}
func (RegisterAckError) event()    {}
func (RegisterTimeout) event()     {}
func (SocketClosed) event()        {}
func (SocketFailure) event()       {}
func (DisconnectRequested) event() {}

func (ConnectRequested) Name() string    { return "ConnectRequested" }
func (SocketOpened) Name() string        { return "SocketOpened" }
func (RegisterSent) Name() string        { return "RegisterSent" }
func (RegisterAckOk) Name() string       { return "RegisterAckOk" }
func (RegisterAckError) Name() string    { return "RegisterAckError" }
func (RegisterTimeout) Name() string     { return "RegisterTimeout" }
func (SocketClosed) Name() string        { return "SocketClosed" }
func (SocketFailure) Name() string       { return "SocketFailure" }
func (DisconnectRequested) Name() string { return "DisconnectRequested" }

// Transition은 (현재 상태, 이벤트)로부터 다음 상태와 에러를 계산합니다.
// 표에 없는 조합은 상태를 유지하고 nil 에러를 반환합니다.
func Transition(cur State, ev Event) (State, *protocol.GatewayError) {
	switch e := ev.(type) {
	case ConnectRequested:
		return Connecting, nil

	case SocketClosed:
		return Disconnected, nil

	case DisconnectRequested:
		return Disconnected, nil

	case SocketFailure:
		code := e.Code
		if code == "" {
			code = protocol.CodeWSProtocolError
		}
		return Error, protocol.NewError(code, e.Message)

	case SocketOpened:
		if cur == Connecting {
			return ConnectedUnregistered, nil
		}

	case RegisterSent:
		if cur == ConnectedUnregistered {
			return Registering, nil
		}

	case RegisterAckOk:
		if cur == Registering {
			return Registered, nil
		}

	case RegisterAckError:
		if cur == Registering {
			err := e.Err
			if err == nil || err.Code == "" {
				msg := ""
				if err != nil {
					msg = err.Message
				}
				err = protocol.NewError(protocol.CodeRegisterAckFailed, msg)
			}
			return Error, err
		}

	case RegisterTimeout:
		if cur == Registering {
			return Error, protocol.NewError(protocol.CodeRegTimeout, "register_ack not received")
		}
	}

	return cur, nil
}

// Machine은 현재 상태를 보관하는 Transition 래퍼입니다.
// 동시성 보호는 호출자가 담당합니다.
type Machine struct {
	state State
}

// NewMachine은 Disconnected 상태의 Machine을 생성합니다.
func NewMachine() *Machine {
	return &Machine{state: Disconnected}
}

// Fire는 이벤트를 적용하고 (이전 상태, 다음 상태)를 반환합니다.
// 전이 에러의 기록은 호출자가 담당합니다.
func (m *Machine) Fire(ev Event) (prev, next State) {
	prev = m.state
	next, _ = Transition(prev, ev)
	m.state = next
	return prev, next
}

// State는 현재 상태를 반환합니다.
func (m *Machine) State() State {
	return m.state
}

// Connected는 현재 상태가 Disconnected가 아니면 true입니다.
func (m *Machine) Connected() bool {
	return Connected(m.state)
}

// Registered는 현재 상태가 Registered이면 true입니다.
func (m *Machine) Registered() bool {
	return IsRegistered(m.state)
}
