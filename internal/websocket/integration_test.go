//go:build integration

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/openclaw/clawnode/internal/protocol"
)

// upgrader is a shared WebSocket upgrader for mock controllers.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serverConn serializes server-side writes; gorilla allows one concurrent writer.
type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sc *serverConn) writeText(frame string) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (sc *serverConn) writeClose(code int, reason string) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return sc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// mockController accepts one gateway connection at a time and records frames.
type mockController struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conns    []*serverConn
	received []string
	nodeIDs  []string
	onFrame  func(sc *serverConn, frame gjson.Result)
}

func newMockController(t *testing.T) *mockController {
	mc := &mockController{t: t}
	mc.server = httptest.NewServer(http.HandlerFunc(mc.handle))
	t.Cleanup(mc.server.Close)
	return mc
}

func (mc *mockController) url() string {
	return "ws" + strings.TrimPrefix(mc.server.URL, "http")
}

func (mc *mockController) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		mc.t.Logf("upgrade failed: %v", err)
		return
	}
	sc := &serverConn{conn: conn}
	mc.mu.Lock()
	mc.conns = append(mc.conns, sc)
	mc.nodeIDs = append(mc.nodeIDs, r.Header.Get(NodeIDHeader))
	mc.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mc.mu.Lock()
		mc.received = append(mc.received, string(data))
		onFrame := mc.onFrame
		mc.mu.Unlock()

		if onFrame != nil {
			onFrame(sc, gjson.ParseBytes(data))
		}
	}
}

func (mc *mockController) frames(msgType string) []gjson.Result {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var out []gjson.Result
	for _, raw := range mc.received {
		r := gjson.Parse(raw)
		if r.Get("type").String() == msgType {
			out = append(out, r)
		}
	}
	return out
}

func (mc *mockController) connCount() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.conns)
}

func (mc *mockController) lastConn() *serverConn {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.conns[len(mc.conns)-1]
}

// ackRegistrations replies to every register frame with the given session ID.
func ackRegistrations(sessionID string) func(*serverConn, gjson.Result) {
	return func(sc *serverConn, frame gjson.Result) {
		if frame.Get("type").String() != protocol.TypeRegister {
			return
		}
		ack := `{"type":"register_ack","v":1,"ok":true,"sessionId":"` + sessionID + `","ts":1}`
		_ = sc.writeText(ack)
	}
}

func newIntegrationManager(t *testing.T, opts ...Option) (*Manager, *recorder) {
	rec := &recorder{}
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithDispatcher(DispatcherFunc(rec.dispatch)),
	}
	m := NewManager(NewGorillaTransport(), rec.callbacks(), append(base, opts...)...)
	t.Cleanup(m.Shutdown)
	return m, rec
}

// TestIntegration_RegisterRoundTrip verifies registration against a real server.
func TestIntegration_RegisterRoundTrip(t *testing.T) {
	mc := newMockController(t)
	mc.onFrame = ackRegistrations("s1")

	m, rec := newIntegrationManager(t)
	if err := m.Connect(mc.url()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	waitFor(t, "registered", func() bool { return m.Snapshot().Registered })

	if st := m.Snapshot(); st.SessionID != "s1" || !st.Connected {
		t.Errorf("Snapshot() = %+v", st)
	}
	if ev := rec.lastState(); !ev.connected || !ev.registered {
		t.Errorf("last state = %+v", ev)
	}
	regs := mc.frames(protocol.TypeRegister)
	if len(regs) != 1 || regs[0].Get("nodeId").String() != "node-1" {
		t.Errorf("register frames = %v", regs)
	}
	mc.mu.Lock()
	nodeID := mc.nodeIDs[0]
	mc.mu.Unlock()
	if nodeID != "node-1" {
		t.Errorf("%s header = %q, want node-1", NodeIDHeader, nodeID)
	}
}

// TestIntegration_CapabilityRoundTrip verifies request dispatch and result delivery.
func TestIntegration_CapabilityRoundTrip(t *testing.T) {
	mc := newMockController(t)
	mc.onFrame = ackRegistrations("s1")

	m, rec := newIntegrationManager(t)
	_ = m.Connect(mc.url())
	waitFor(t, "registered", func() bool { return m.Snapshot().Registered })

	req := `{"type":"capability_request","v":1,"requestId":"r1","capability":"camera.snap","args":{}}`
	if err := mc.lastConn().writeText(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	waitFor(t, "dispatch", func() bool { return rec.requestCount() == 1 })

	err := m.SendCapabilityResult(protocol.CapabilityResult{
		RequestID:  "r1",
		Capability: "camera.snap",
		OK:         true,
	})
	if err != nil {
		t.Fatalf("SendCapabilityResult() error: %v", err)
	}

	waitFor(t, "result frame", func() bool { return len(mc.frames(protocol.TypeCapabilityResult)) == 1 })
	res := mc.frames(protocol.TypeCapabilityResult)[0]
	if res.Get("requestId").String() != "r1" || !res.Get("ok").Bool() {
		t.Errorf("result = %s", res.Raw)
	}
}

// TestIntegration_ServerCloseReconnects verifies reconnect after the server drops the socket.
func TestIntegration_ServerCloseReconnects(t *testing.T) {
	mc := newMockController(t)
	mc.onFrame = ackRegistrations("s1")

	m, rec := newIntegrationManager(t, WithBackoffUnit(10*time.Millisecond))
	_ = m.Connect(mc.url())
	waitFor(t, "registered", func() bool { return m.Snapshot().Registered })

	_ = mc.lastConn().writeClose(4500, "maintenance")

	waitFor(t, "closed log", func() bool { return rec.hasLog("CLOSED code=4500 reason=maintenance") })
	waitFor(t, "second connection", func() bool { return mc.connCount() == 2 })
	waitFor(t, "re-registered", func() bool { return m.Snapshot().Registered })

	if got := m.Snapshot().Attempts; got != 0 {
		t.Errorf("Attempts after reconnect = %d, want 0", got)
	}
}

// TestIntegration_UnreachableController verifies classification of a refused dial.
func TestIntegration_UnreachableController(t *testing.T) {
	mc := newMockController(t)
	url := mc.url()
	mc.server.Close()

	m, rec := newIntegrationManager(t)
	_ = m.Connect(url)

	waitFor(t, "failure", func() bool {
		return rec.lastState().lastError == protocol.CodeControllerUnreachable
	})
	if !rec.hasLog("RECONNECT_ATTEMPT attempt=1 delay=2s") {
		t.Error("reconnect not scheduled")
	}
}

// TestIntegration_DisconnectSendsNormalClose verifies the close frame seen by the server.
func TestIntegration_DisconnectSendsNormalClose(t *testing.T) {
	closeCh := make(chan int, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if ce, ok := err.(*websocket.CloseError); ok {
				closeCh <- ce.Code
				return
			}
			if err != nil {
				return
			}
			if gjson.GetBytes(data, "type").String() == protocol.TypeRegister {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"register_ack","ok":true,"sessionId":"s1"}`))
			}
		}
	}))
	defer server.Close()

	m, _ := newIntegrationManager(t)
	_ = m.Connect("ws" + strings.TrimPrefix(server.URL, "http"))
	waitFor(t, "registered", func() bool { return m.Snapshot().Registered })

	m.Disconnect()

	select {
	case code := <-closeCh:
		if code != websocket.CloseNormalClosure {
			t.Errorf("close code = %d, want %d", code, websocket.CloseNormalClosure)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not observe close frame")
	}
}
