package websocket

import (
	"github.com/openclaw/clawnode/internal/protocol"
)

// Callbacks는 호스트가 Manager에 제공하는 협력자 함수 모음입니다.
// 모든 필드는 선택 사항이며 Manager 락 밖에서 호출됩니다.
type Callbacks struct {
	// NodeID는 안정적인 노드 식별자를 반환합니다.
	NodeID func() string
	// Capabilities는 연결 시점의 capability 매니페스트를 반환합니다.
	Capabilities func() []protocol.Capability
	// Platform은 register.platform 값을 반환합니다.
	Platform func() string
	// AppVersion은 register.appVersion 값을 반환합니다.
	AppVersion func() string
	// DeviceInfo는 register.device 값을 반환합니다.
	DeviceInfo func() map[string]interface{}

	// OnState는 관찰 가능한 연결 상태가 보고될 때마다 호출됩니다.
	OnState func(connected, registered bool, lastError string)
	// OnLog는 프로토콜 로그 한 줄마다 호출됩니다.
	OnLog func(line string)
	// OnHeartbeat는 heartbeat/heartbeat_ack 수신 시 프레임의 ts로 호출됩니다.
	OnHeartbeat func(ts int64)
}

// CapabilityDispatcher는 수신한 capability_request를 실행기로 넘깁니다.
// 결과는 Manager.SendCapabilityResult로 돌려보냅니다.
type CapabilityDispatcher interface {
	DispatchCapability(req protocol.CapabilityRequest)
}

// DispatcherFunc는 함수를 CapabilityDispatcher로 변환합니다.
type DispatcherFunc func(req protocol.CapabilityRequest)

// DispatchCapability는 f(req)를 호출합니다.
func (f DispatcherFunc) DispatchCapability(req protocol.CapabilityRequest) {
	f(req)
}

// identity는 연결 시점에 협력자로부터 읽은 값의 스냅샷입니다.
type identity struct {
	nodeID     string
	platform   string
	appVersion string
	device     map[string]interface{}
	manifest   []protocol.Capability
}

func (cb Callbacks) snapshot() identity {
	id := identity{}
	if cb.NodeID != nil {
		id.nodeID = cb.NodeID()
	}
	if cb.Platform != nil {
		id.platform = cb.Platform()
	}
	if cb.AppVersion != nil {
		id.appVersion = cb.AppVersion()
	}
	if cb.DeviceInfo != nil {
		id.device = cb.DeviceInfo()
	}
	if cb.Capabilities != nil {
		caps := cb.Capabilities()
		id.manifest = append([]protocol.Capability(nil), caps...)
	}
	return id
}

func (id identity) hasCapability(name string) bool {
	for _, c := range id.manifest {
		if c.Name == name {
			return true
		}
	}
	return false
}
