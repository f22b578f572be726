// Package testhelpers provides common utilities for testing the relay over a
// real WebSocket: dialing, emitting events, and reading typed frames.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the Origin header sent by Dial.
const DefaultOrigin = "http://localhost:3000"

// Frame mirrors the relay's wire frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChatMessage mirrors the broadcast chat payload.
type ChatMessage struct {
	Usuario string `json:"usuario"`
	Mensaje string `json:"mensaje"`
	Tiempo  string `json:"tiempo"`
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// Dial connects to wsURL with DefaultOrigin and closes the connection when
// the test ends.
func Dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := DialWithOrigin(wsURL, DefaultOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin creates a WebSocket connection presenting the given origin.
func DialWithOrigin(wsURL, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Emit sends one event frame.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

// ReadFrame reads the next frame, failing the test after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// ExpectEvent reads the next frame, checks its event name and decodes its
// payload into out.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()
	f := ReadFrame(t, conn, 2*time.Second)
	require.Equal(t, event, f.Event, "payload: %s", string(f.Data))
	if out != nil {
		require.NoError(t, json.Unmarshal(f.Data, out))
	}
}

// ExpectNoFrame asserts that nothing arrives within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", string(data))
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
