package registration

import (
	"testing"

	"github.com/openclaw/clawnode/internal/protocol"
)

var allStates = []State{Disconnected, Connecting, ConnectedUnregistered, Registering, Registered, Error}

// TestTransition_Table은 전이표의 정의된 조합을 검증합니다.
func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name     string
		cur      State
		ev       Event
		want     State
		wantCode string
	}{
		{"연결 중 소켓 open", Connecting, SocketOpened{}, ConnectedUnregistered, ""},
		{"register 전송", ConnectedUnregistered, RegisterSent{}, Registering, ""},
		{"등록 성공", Registering, RegisterAckOk{SessionID: "s1"}, Registered, ""},
		{"등록 거부", Registering, RegisterAckError{Err: protocol.NewError(protocol.CodeRegUnauthorized, "denied")}, Error, protocol.CodeRegUnauthorized},
		{"코드 없는 등록 거부", Registering, RegisterAckError{}, Error, protocol.CodeRegisterAckFailed},
		{"등록 타임아웃", Registering, RegisterTimeout{}, Error, protocol.CodeRegTimeout},
		{"기본 소켓 실패 코드", Registered, SocketFailure{Message: "eof"}, Error, protocol.CodeWSProtocolError},
		{"전송 계층 실패 코드", Connecting, SocketFailure{Code: protocol.CodeControllerUnreachable}, Error, protocol.CodeControllerUnreachable},
		{"하트비트 타임아웃", Registered, SocketFailure{Code: protocol.CodeHeartbeatTimeout}, Error, protocol.CodeHeartbeatTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.cur, tt.ev)
			if got != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.cur, tt.ev.Name(), got, tt.want)
			}
			gotCode := ""
			if err != nil {
				gotCode = err.Code
			}
			if gotCode != tt.wantCode {
				t.Errorf("Transition(%s, %s) code = %q, want %q", tt.cur, tt.ev.Name(), gotCode, tt.wantCode)
			}
		})
	}
}

// TestTransition_AnyState는 모든 상태에서 허용되는 이벤트를 검증합니다.
func TestTransition_AnyState(t *testing.T) {
	for _, s := range allStates {
		if got, err := Transition(s, ConnectRequested{}); got != Connecting || err != nil {
			t.Errorf("Transition(%s, ConnectRequested) = (%s, %v), want CONNECTING", s, got, err)
		}
		if got, err := Transition(s, SocketClosed{Code: 1006}); got != Disconnected || err != nil {
			t.Errorf("Transition(%s, SocketClosed) = (%s, %v), want DISCONNECTED", s, got, err)
		}
		if got, err := Transition(s, DisconnectRequested{}); got != Disconnected || err != nil {
			t.Errorf("Transition(%s, DisconnectRequested) = (%s, %v), want DISCONNECTED", s, got, err)
		}
		if got, err := Transition(s, SocketFailure{}); got != Error || err == nil {
			t.Errorf("Transition(%s, SocketFailure) = (%s, %v), want ERROR with error", s, got, err)
		}
	}
}

// TestTransition_IgnoredEvents는 표에 없는 조합이 상태를 유지하는지 검증합니다.
func TestTransition_IgnoredEvents(t *testing.T) {
	tests := []struct {
		cur State
		ev  Event
	}{
		{Connecting, RegisterAckOk{SessionID: "s1"}},
		{Connecting, RegisterSent{}},
		{Registered, SocketOpened{}},
		{Registered, RegisterAckError{}},
		{Registered, RegisterTimeout{}},
		{ConnectedUnregistered, RegisterTimeout{}},
		{Disconnected, SocketOpened{}},
		{Error, RegisterAckOk{SessionID: "late"}},
	}

	for _, tt := range tests {
		t.Run(tt.cur.String()+"/"+tt.ev.Name(), func(t *testing.T) {
			got, err := Transition(tt.cur, tt.ev)
			if got != tt.cur {
				t.Errorf("Transition() = %s, want unchanged %s", got, tt.cur)
			}
			if err != nil {
				t.Errorf("Transition() error = %v, want nil", err)
			}
		})
	}
}

// TestConnectedRegistered는 관찰용 boolean 파생 규칙을 검증합니다.
func TestConnectedRegistered(t *testing.T) {
	for _, s := range allStates {
		if got, want := Connected(s), s != Disconnected; got != want {
			t.Errorf("Connected(%s) = %v, want %v", s, got, want)
		}
		if got, want := IsRegistered(s), s == Registered; got != want {
			t.Errorf("IsRegistered(%s) = %v, want %v", s, got, want)
		}
	}
}

// TestMachine_FullFlow는 Machine 래퍼의 정상 흐름을 검증합니다.
func TestMachine_FullFlow(t *testing.T) {
	m := NewMachine()
	if m.State() != Disconnected {
		t.Fatalf("initial state = %s, want DISCONNECTED", m.State())
	}

	for _, ev := range []Event{ConnectRequested{}, SocketOpened{}, RegisterSent{}, RegisterAckOk{SessionID: "s1"}} {
		m.Fire(ev)
	}
	if !m.Registered() || !m.Connected() {
		t.Errorf("after ack: connected=%v registered=%v, want true/true", m.Connected(), m.Registered())
	}

	prev, next := m.Fire(SocketFailure{Code: protocol.CodeHeartbeatTimeout})
	if prev != Registered || next != Error {
		t.Errorf("Fire(SocketFailure) = (%s, %s), want (REGISTERED, ERROR)", prev, next)
	}

	if _, next := m.Fire(ConnectRequested{}); next != Connecting {
		t.Errorf("Fire(ConnectRequested) from ERROR = %s, want CONNECTING", next)
	}

	m.Fire(DisconnectRequested{})
	if m.Connected() {
		t.Error("Connected() = true after DisconnectRequested, want false")
	}
}

// TestState_String은 상태 이름을 검증합니다.
func TestState_String(t *testing.T) {
	if got := ConnectedUnregistered.String(); got != "CONNECTED_UNREGISTERED" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q, want State(42)", got)
	}
}
