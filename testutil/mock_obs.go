package testutil

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockOBSServer simulates an OBS WebSocket v5 server for testing. It keeps
// enough recording state to answer the request sequence a capture backend
// sends, and it pushes RecordStateChanged events the way real OBS does.
type MockOBSServer struct {
	listener net.Listener
	server   *http.Server

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	mode        string
	recording   bool
	recordDir   string
	filenameFmt string
	sceneItems  []map[string]interface{}
}

// Failure modes define how the mock server behaves
const (
	ModeNormal     = "normal"
	ModeCode204    = "code204"
	ModeCode203    = "code203"
	ModeDisconnect = "disconnect"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewMockOBS creates a new mock OBS server
func NewMockOBS() *MockOBSServer {
	return &MockOBSServer{
		mode:      ModeNormal,
		recordDir: "/tmp/obs-recordings",
	}
}

// Start begins listening on a dynamic port
func (m *MockOBSServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	m.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleWebSocket)

	m.server = &http.Server{Handler: mux}

	go func() {
		_ = m.server.Serve(m.listener)
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	return nil
}

// Stop gracefully shuts down the server
func (m *MockOBSServer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	if m.server != nil {
		_ = m.server.Close()
	}

	if m.listener != nil {
		_ = m.listener.Close()
	}

	m.connected = false
	return nil
}

// URL returns the ws:// address clients should dial
func (m *MockOBSServer) URL() string {
	if m.listener == nil {
		return ""
	}
	return "ws://" + m.listener.Addr().String()
}

// SetFailureMode configures how the server responds to requests
func (m *MockOBSServer) SetFailureMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SetRecordDirectory sets the directory OBS pretends to record into
func (m *MockOBSServer) SetRecordDirectory(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDir = dir
}

// SeedDisplaySource pre-populates the scene with an enabled screen source
func (m *MockOBSServer) SeedDisplaySource(name, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sceneItems = append(m.sceneItems, map[string]interface{}{
		"sourceName":       name,
		"inputKind":        kind,
		"sceneItemEnabled": true,
	})
}

// Recording reports whether the mock currently believes it is recording
func (m *MockOBSServer) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// Connected returns whether a client is currently connected
func (m *MockOBSServer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SimulateUserStop ends the recording as if the user clicked Stop in the
// OBS UI: state flips and a RecordStateChanged event is pushed, but no
// request/response exchange happens.
func (m *MockOBSServer) SimulateUserStop() error {
	m.mu.Lock()
	m.recording = false
	path := m.recordDir + "/" + m.filenameFmt + ".mkv"
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no client connected")
	}
	return m.pushRecordStateChanged(conn, false, path)
}

// DropConnection closes the websocket without any close handshake
func (m *MockOBSServer) DropConnection() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// handleWebSocket manages the WebSocket connection
func (m *MockOBSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.connected = false
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	// Send Hello (op 0)
	hello := map[string]interface{}{
		"op": 0,
		"d": map[string]interface{}{
			"obsWebSocketVersion": "5.0.0",
			"rpcVersion":          1,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	// Wait for Identify (op 1)
	var identifyMsg map[string]interface{}
	if err := conn.ReadJSON(&identifyMsg); err != nil {
		return
	}

	// Send Identified (op 2)
	identified := map[string]interface{}{
		"op": 2,
		"d": map[string]interface{}{
			"negotiatedRpcVersion": 1,
		},
	}
	if err := conn.WriteJSON(identified); err != nil {
		return
	}

	// Handle subsequent requests
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		m.mu.Lock()
		mode := m.mode
		m.mu.Unlock()

		if mode == ModeDisconnect {
			break
		}

		requestType, response := m.generateResponse(msg)
		if response == nil {
			continue
		}

		if err := conn.WriteJSON(response); err != nil {
			break
		}

		// Real OBS pushes a RecordStateChanged event right after the
		// record output flips state
		if mode == ModeNormal {
			switch requestType {
			case "StartRecord":
				_ = m.pushRecordStateChanged(conn, true, "")
			case "StopRecord":
				m.mu.Lock()
				path := m.recordDir + "/" + m.filenameFmt + ".mkv"
				m.mu.Unlock()
				_ = m.pushRecordStateChanged(conn, false, path)
			}
		}
	}
}

func (m *MockOBSServer) pushRecordStateChanged(conn *websocket.Conn, active bool, path string) error {
	event := map[string]interface{}{
		"op": 5,
		"d": map[string]interface{}{
			"eventType": "RecordStateChanged",
			"eventData": map[string]interface{}{
				"outputActive": active,
				"outputPath":   path,
			},
		},
	}
	return conn.WriteJSON(event)
}

// generateResponse creates a response based on the request and current mode
func (m *MockOBSServer) generateResponse(msg map[string]interface{}) (string, map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := msg["d"].(map[string]interface{})
	if !ok {
		return "", nil
	}

	requestType, _ := d["requestType"].(string)
	requestID, _ := d["requestId"].(string)

	fail := func(code int, comment string) map[string]interface{} {
		return map[string]interface{}{
			"op": 7,
			"d": map[string]interface{}{
				"requestType": requestType,
				"requestId":   requestID,
				"requestStatus": map[string]interface{}{
					"result":  false,
					"code":    code,
					"comment": comment,
				},
			},
		}
	}

	switch m.mode {
	case ModeCode204:
		return requestType, fail(204, "InvalidRequestType")
	case ModeCode203:
		return requestType, fail(203, "RequestProcessingFailed")
	}

	responseData := map[string]interface{}{}

	switch requestType {
	case "GetRecordStatus":
		responseData = map[string]interface{}{
			"outputActive":   m.recording,
			"outputPaused":   false,
			"outputTimecode": "00:00:00",
			"outputDuration": 0,
			"outputBytes":    0,
		}

	case "GetRecordDirectory":
		responseData = map[string]interface{}{
			"recordDirectory": m.recordDir,
		}

	case "StartRecord":
		if m.recording {
			return requestType, fail(500, "output already active")
		}
		m.recording = true

	case "StopRecord":
		if !m.recording {
			return requestType, fail(501, "output not active")
		}
		m.recording = false
		responseData = map[string]interface{}{
			"outputPath": m.recordDir + "/" + m.filenameFmt + ".mkv",
		}

	case "SetProfileParameter":
		if params, ok := d["requestData"].(map[string]interface{}); ok {
			if name, _ := params["parameterName"].(string); name == "FilenameFormatting" {
				m.filenameFmt, _ = params["parameterValue"].(string)
			}
		}

	case "GetCurrentProgramScene":
		responseData = map[string]interface{}{
			"currentProgramSceneName": "Recording",
		}

	case "GetSceneItemList":
		items := make([]interface{}, len(m.sceneItems))
		for i, item := range m.sceneItems {
			items[i] = item
		}
		responseData = map[string]interface{}{
			"sceneItems": items,
		}

	case "CreateInput":
		if params, ok := d["requestData"].(map[string]interface{}); ok {
			name, _ := params["inputName"].(string)
			kind, _ := params["inputKind"].(string)
			m.sceneItems = append(m.sceneItems, map[string]interface{}{
				"sourceName":       name,
				"inputKind":        kind,
				"sceneItemEnabled": true,
			})
		}

	case "GetVersion":
		responseData = map[string]interface{}{
			"obsVersion":          "30.2.3",
			"obsWebSocketVersion": "5.5.2",
		}
	}

	return requestType, map[string]interface{}{
		"op": 7,
		"d": map[string]interface{}{
			"requestType": requestType,
			"requestId":   requestID,
			"requestStatus": map[string]interface{}{
				"result":  true,
				"code":    100,
				"comment": "",
			},
			"responseData": responseData,
		},
	}
}
