// Package protocol는 컨트롤러와 주고받는 JSON 메시지 봉투를 정의합니다.
// 모든 프레임은 type, v(프로토콜 버전), ts(밀리초) 필드를 가집니다.
package protocol

import "encoding/json"

// ProtocolVersion은 와이어 프로토콜 버전입니다.
// 호환되지 않는 와이어 변경 시 증가시킵니다.
const ProtocolVersion = 1

// 메시지 타입.
const (
	TypeRegister          = "register"
	TypeRegisterAck       = "register_ack"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatAck      = "heartbeat_ack"
	TypeCapabilityRequest = "capability_request"
	TypeCapabilityResult  = "capability_result"
	TypeError             = "error"
)

// Message는 모든 게이트웨이 메시지가 구현하는 인터페이스입니다.
type Message interface {
	// Type은 와이어상의 type 필드 값을 반환합니다.
	Type() string
}

// Capability는 호스트가 선언하는 이름/버전 쌍입니다.
// 연결 수명 동안 변경되지 않습니다.
type Capability struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Register는 소켓 open 직후 전송하는 등록 메시지입니다.
type Register struct {
	V            int                    `json:"v"`
	NodeID       string                 `json:"nodeId"`
	Platform     string                 `json:"platform"`
	AppVersion   string                 `json:"appVersion,omitempty"`
	Capabilities []Capability           `json:"capabilities"`
	Device       map[string]interface{} `json:"device"`
	TS           int64                  `json:"ts"`
}

// RegisterAck는 컨트롤러의 등록 응답입니다.
// 등록 성공은 OK && SessionID != "" 일 때만 인정합니다.
type RegisterAck struct {
	V         int           `json:"v"`
	OK        bool          `json:"ok"`
	SessionID string        `json:"sessionId,omitempty"`
	Error     *GatewayError `json:"error,omitempty"`
	TS        int64         `json:"ts"`
}

// Heartbeat는 주기적 생존 확인 메시지입니다. 컨트롤러가 먼저 보낼 수도 있습니다.
type Heartbeat struct {
	V         int    `json:"v"`
	NodeID    string `json:"nodeId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TS        int64  `json:"ts"`
}

// HeartbeatAck는 하트비트 응답입니다.
type HeartbeatAck struct {
	V  int   `json:"v"`
	TS int64 `json:"ts"`
}

// CapabilityRequest는 컨트롤러가 보내는 capability 실행 요청입니다.
type CapabilityRequest struct {
	V          int             `json:"v"`
	RequestID  string          `json:"requestId"`
	Capability string          `json:"capability"`
	Args       json.RawMessage `json:"args"`
	TS         int64           `json:"ts"`
}

// CapabilityResult는 capability 실행 결과입니다.
// 결과는 버퍼링하거나 재전송하지 않습니다.
type CapabilityResult struct {
	V          int             `json:"v"`
	RequestID  string          `json:"requestId"`
	Capability string          `json:"capability"`
	OK         bool            `json:"ok"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *GatewayError   `json:"error,omitempty"`
	TS         int64           `json:"ts"`
}

// Error는 컨트롤러가 보내는 일반 에러 프레임입니다.
type Error struct {
	V       int    `json:"v"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

func (Register) Type() string          { return TypeRegister }
func (RegisterAck) Type() string       { return TypeRegisterAck }
func (Heartbeat) Type() string         { return TypeHeartbeat }
func (HeartbeatAck) Type() string      { return TypeHeartbeatAck }
func (CapabilityRequest) Type() string { return TypeCapabilityRequest }
func (CapabilityResult) Type() string  { return TypeCapabilityResult }
func (Error) Type() string             { return TypeError }

// FailedResult는 실패한 capability_result를 생성합니다.
func FailedResult(requestID, capability string, err *GatewayError) CapabilityResult {
	return CapabilityResult{
		RequestID:  requestID,
		Capability: capability,
		OK:         false,
		Error:      err,
	}
}
