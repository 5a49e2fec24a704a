package protocol

import (
	"errors"
	"fmt"
)

// 에러 코드 분류.
const (
	// 전송 계층 실패
	CodeWSFailure             = "WS_FAILURE"
	CodeControllerUnreachable = "CONTROLLER_UNREACHABLE"
	CodeWSProtocolError       = "WS_PROTOCOL_ERROR"
	CodeWSClosed              = "WS_CLOSED"

	// 프로토콜 디코드 실패
	CodeBadSchema = "REG_BAD_SCHEMA"

	// 등록 거부 및 타임아웃
	CodeRegisterAckFailed = "REGISTER_ACK_FAILED"
	CodeRegServerError    = "REG_SERVER_ERROR"
	CodeRegUnauthorized   = "REG_UNAUTHORIZED"
	CodeRegTimeout        = "REG_TIMEOUT"

	// 생존 확인 실패
	CodeHeartbeatTimeout = "HEARTBEAT_TIMEOUT"

	// capability 라우팅/실행 실패
	CodeCapabilityUnknown = "CAPABILITY_UNKNOWN"
	CodeCapabilityBusy    = "CAPABILITY_BUSY"
	CodeCapabilityFailed  = "CAPABILITY_FAILED"

	// 전송 실패
	CodeGatewayNotConnected = "GATEWAY_NOT_CONNECTED"
)

// GatewayError는 (code, message) 분류 쌍입니다.
// 관찰자에게는 항상 이 형태로 보고되며 원시 에러를 그대로 노출하지 않습니다.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError는 새로운 GatewayError를 생성합니다.
func NewError(code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Errorf는 포맷된 메시지로 GatewayError를 생성합니다.
func Errorf(code, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error는 error 인터페이스를 구현합니다.
func (e *GatewayError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is는 같은 코드를 가진 GatewayError를 동일한 에러로 취급합니다.
func (e *GatewayError) Is(target error) bool {
	var t *GatewayError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf는 err 체인에서 GatewayError 코드를 추출합니다.
// GatewayError가 없으면 fallback을 반환합니다.
func CodeOf(err error, fallback string) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) && gerr.Code != "" {
		return gerr.Code
	}
	return fallback
}

// 디코드 실패 분류용 sentinel 에러.
var (
	// ErrMalformed는 JSON 객체로 파싱할 수 없는 프레임입니다.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrUnknownType은 type 필드가 없거나 알 수 없는 값인 프레임입니다.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrBadSchema는 type별 필수 필드가 누락되었거나 타입이 맞지 않는 프레임입니다.
	ErrBadSchema = errors.New("protocol: bad schema")
)

// DecodeError는 Decode 실패를 나타내는 타입 에러입니다.
type DecodeError struct {
	// Type은 프레임의 type 필드 값입니다 (알 수 없으면 빈 문자열).
	Type string
	// Err는 ErrMalformed, ErrUnknownType, ErrBadSchema 중 하나를 감쌉니다.
	Err error
}

// Error는 error 인터페이스를 구현합니다.
func (e *DecodeError) Error() string {
	if e.Type == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (type=%s)", e.Err.Error(), e.Type)
}

// Unwrap은 감싼 에러를 반환합니다.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// GatewayError는 디코드 실패를 REG_BAD_SCHEMA 분류로 변환합니다.
func (e *DecodeError) GatewayError() *GatewayError {
	return NewError(CodeBadSchema, e.Error())
}

func badSchema(msgType, format string, args ...interface{}) *DecodeError {
	return &DecodeError{
		Type: msgType,
		Err:  fmt.Errorf("%w: %s", ErrBadSchema, fmt.Sprintf(format, args...)),
	}
}
