package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 로그 요약 제한값.
const (
	// MaxLogValueBytes보다 긴 result 문자열 값은 로그에서 가립니다.
	MaxLogValueBytes = 1024
	// MaxLogSummaryBytes는 로그 요약 한 줄의 최대 길이입니다.
	MaxLogSummaryBytes = 4096
)

// binaryResultFields는 capability_result.result에서 항상 가리는 불투명 바이너리 필드입니다.
var binaryResultFields = map[string]bool{
	"image":       true,
	"imageBase64": true,
	"base64":      true,
	"data":        true,
	"jpeg":        true,
	"png":         true,
	"bytes":       true,
}

// Encode는 메시지를 JSON 프레임으로 직렬화합니다.
// v는 항상 ProtocolVersion으로, ts는 비어 있으면 현재 시각(밀리초)으로 채웁니다.
func Encode(msg Message) ([]byte, error) {
	return EncodeAt(msg, time.Now())
}

// EncodeAt은 ts 기본값으로 now를 사용하는 Encode입니다.
func EncodeAt(msg Message, now time.Time) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("protocol: nil message")
	}
	stamped, err := stamp(msg, now.UnixMilli())
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("%s 직렬화 실패: %w", msg.Type(), err)
	}

	framed, err := sjson.SetBytes(body, "type", msg.Type())
	if err != nil {
		return nil, fmt.Errorf("%s type 설정 실패: %w", msg.Type(), err)
	}
	return framed, nil
}

// stamp은 v/ts가 채워진 메시지 사본을 반환합니다.
func stamp(msg Message, ts int64) (Message, error) {
	pick := func(cur int64) int64 {
		if cur == 0 {
			return ts
		}
		return cur
	}

	switch m := msg.(type) {
	case Register:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		if m.Capabilities == nil {
			m.Capabilities = []Capability{}
		}
		if m.Device == nil {
			m.Device = map[string]interface{}{}
		}
		return m, nil
	case RegisterAck:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		return m, nil
	case Heartbeat:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		return m, nil
	case HeartbeatAck:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		return m, nil
	case CapabilityRequest:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		if len(m.Args) == 0 {
			m.Args = json.RawMessage(`{}`)
		}
		return m, nil
	case CapabilityResult:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		return m, nil
	case Error:
		m.V, m.TS = ProtocolVersion, pick(m.TS)
		return m, nil
	default:
		return nil, fmt.Errorf("protocol: 지원하지 않는 메시지 타입 %T", msg)
	}
}

// Decode는 JSON 프레임을 메시지로 역직렬화합니다.
// 실패는 항상 *DecodeError로 반환하며 panic이 경계를 넘지 않습니다.
func Decode(data []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, r)}
		}
	}()

	if !gjson.ValidBytes(data) {
		return nil, &DecodeError{Err: ErrMalformed}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &DecodeError{Err: fmt.Errorf("%w: JSON 객체가 아닙니다", ErrMalformed)}
	}

	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: type 필드 없음", ErrUnknownType)}
	}
	msgType := typ.Str
	version := versionOf(root)

	switch msgType {
	case TypeRegister:
		var m Register
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		if m.NodeID == "" {
			return nil, badSchema(msgType, "nodeId 누락")
		}
		m.V = version
		return m, nil

	case TypeRegisterAck:
		if !isBool(root.Get("ok")) {
			return nil, badSchema(msgType, "ok는 boolean이어야 합니다")
		}
		var m RegisterAck
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		m.V = version
		return m, nil

	case TypeHeartbeat:
		var m Heartbeat
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		m.V = version
		return m, nil

	case TypeHeartbeatAck:
		var m HeartbeatAck
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		m.V = version
		return m, nil

	case TypeCapabilityRequest:
		var m CapabilityRequest
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		if m.RequestID == "" {
			return nil, badSchema(msgType, "requestId 누락")
		}
		if m.Capability == "" {
			return nil, badSchema(msgType, "capability 누락")
		}
		args := root.Get("args")
		switch {
		case !args.Exists() || args.Type == gjson.Null:
			m.Args = json.RawMessage(`{}`)
		case !args.IsObject():
			return nil, badSchema(msgType, "args는 객체여야 합니다")
		}
		m.V = version
		return m, nil

	case TypeCapabilityResult:
		if !isBool(root.Get("ok")) {
			return nil, badSchema(msgType, "ok는 boolean이어야 합니다")
		}
		var m CapabilityResult
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		if m.RequestID == "" || m.Capability == "" {
			return nil, badSchema(msgType, "requestId/capability 누락")
		}
		m.V = version
		return m, nil

	case TypeError:
		var m Error
		if err := unmarshal(data, msgType, &m); err != nil {
			return nil, err
		}
		if m.Code == "" {
			return nil, badSchema(msgType, "code 누락")
		}
		m.V = version
		return m, nil

	default:
		return nil, &DecodeError{Type: msgType, Err: ErrUnknownType}
	}
}

// LogSummary는 인코딩된 프레임의 로그용 표현을 반환합니다.
// capability_result의 대용량 바이너리 필드는 가려지며, 원본 data는 수정하지 않습니다.
func LogSummary(data []byte) string {
	if !gjson.ValidBytes(data) {
		return truncate(string(data))
	}
	if gjson.GetBytes(data, "type").String() != TypeCapabilityResult {
		return truncate(string(data))
	}

	result := gjson.GetBytes(data, "result")
	if !result.IsObject() {
		return truncate(string(data))
	}

	out := append([]byte(nil), data...)
	result.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			return true
		}
		if !binaryResultFields[key.Str] && len(value.Str) <= MaxLogValueBytes {
			return true
		}
		redacted, err := sjson.SetBytes(out, "result."+escapePath(key.Str), fmt.Sprintf("<redacted %d bytes>", len(value.Str)))
		if err == nil {
			out = redacted
		}
		return true
	})

	return truncate(string(out))
}

func unmarshal(data []byte, msgType string, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return badSchema(msgType, "%v", err)
	}
	return nil
}

func versionOf(root gjson.Result) int {
	v := root.Get("v")
	if !v.Exists() {
		v = root.Get("version")
	}
	if v.Type == gjson.Number && v.Int() > 0 {
		return int(v.Int())
	}
	return ProtocolVersion
}

func isBool(r gjson.Result) bool {
	return r.Type == gjson.True || r.Type == gjson.False
}

// escapePath는 sjson 경로 특수문자를 이스케이프합니다.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

func truncate(s string) string {
	if len(s) <= MaxLogSummaryBytes {
		return s
	}
	return s[:MaxLogSummaryBytes] + fmt.Sprintf("...(%d bytes)", len(s))
}
