package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// newTestHub starts a hub whose clients have no network connection; frames
// queued for them are read straight from their send channels.
func newTestHub(t *testing.T, cfg *Config) *Hub {
	t.Helper()
	require.NoError(t, cfg.Validate())
	h := NewHub(cfg.Relay, zap.NewNop())
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

func joinClient(t *testing.T, h *Hub, cfg *Config) *Client {
	t.Helper()
	c := NewClient(nil, h, "127.0.0.1:1", cfg)
	require.True(t, h.join(c))
	return c
}

func nextFrame(t *testing.T, c *Client) (Frame, bool) {
	t.Helper()
	select {
	case raw, ok := <-c.GetSendChan():
		if !ok {
			return Frame{}, false
		}
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f, true
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}, false
	}
}

func TestNewClientHasUniqueIDs(t *testing.T) {
	cfg := NewConfig()
	h := NewHub(cfg.Relay, zap.NewNop())
	a := NewClient(nil, h, "127.0.0.1:1", cfg)
	b := NewClient(nil, h, "127.0.0.1:2", cfg)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, cfg.SendBuffer, cap(a.send))
}

func TestHubBroadcastsToEveryClient(t *testing.T) {
	cfg := NewConfig()
	h := newTestHub(t, cfg)
	a := joinClient(t, h, cfg)
	b := joinClient(t, h, cfg)

	require.True(t, h.deliver(inbound{client: a, event: relay.EventNewUser, text: "alice"}))

	for _, c := range []*Client{a, b} {
		f, ok := nextFrame(t, c)
		require.True(t, ok)
		assert.Equal(t, relay.EventSystemMessage, f.Event)
		assert.JSONEq(t, `"alice se ha unido al chat"`, string(f.Data))

		f, ok = nextFrame(t, c)
		require.True(t, ok)
		assert.Equal(t, relay.EventUserList, f.Event)
		assert.JSONEq(t, `["alice"]`, string(f.Data))
	}
}

func TestHubSendsErrorsToOneClient(t *testing.T) {
	cfg := NewConfig()
	cfg.Relay.RejectUnregistered = true
	h := newTestHub(t, cfg)
	a := joinClient(t, h, cfg)
	b := joinClient(t, h, cfg)

	require.True(t, h.deliver(inbound{client: a, event: relay.EventChatMessage, text: "hello?"}))

	f, ok := nextFrame(t, a)
	require.True(t, ok)
	assert.Equal(t, relay.EventError, f.Event)

	select {
	case raw := <-b.GetSendChan():
		t.Fatalf("unexpected frame for b: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubUnregisterBroadcastsDeparture(t *testing.T) {
	cfg := NewConfig()
	h := newTestHub(t, cfg)
	a := joinClient(t, h, cfg)
	b := joinClient(t, h, cfg)

	require.True(t, h.deliver(inbound{client: a, event: relay.EventNewUser, text: "alice"}))
	for i := 0; i < 2; i++ {
		_, ok := nextFrame(t, b)
		require.True(t, ok)
	}

	h.leave(a)

	f, ok := nextFrame(t, b)
	require.True(t, ok)
	assert.JSONEq(t, `"alice ha salido del chat"`, string(f.Data))
	f, ok = nextFrame(t, b)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(f.Data))

	// a's channel drains the two join frames and is then closed.
	for i := 0; i < 2; i++ {
		_, ok = nextFrame(t, a)
		require.True(t, ok)
	}
	_, ok = nextFrame(t, a)
	assert.False(t, ok)
}

func TestHubEvictsClientWithFullBuffer(t *testing.T) {
	cfg := NewConfig()
	cfg.SendBuffer = 1
	h := newTestHub(t, cfg)
	a := joinClient(t, h, cfg)

	require.True(t, h.deliver(inbound{client: a, event: relay.EventNewUser, text: "alice"}))

	f, ok := nextFrame(t, a)
	require.True(t, ok)
	assert.Equal(t, relay.EventSystemMessage, f.Event)

	_, ok = nextFrame(t, a)
	assert.False(t, ok, "the user list did not fit, so the client was evicted")
}

func TestHubIgnoresEventsFromDepartedClients(t *testing.T) {
	cfg := NewConfig()
	h := newTestHub(t, cfg)
	a := joinClient(t, h, cfg)
	b := joinClient(t, h, cfg)

	h.leave(a)
	require.True(t, h.deliver(inbound{client: a, event: relay.EventNewUser, text: "ghost"}))
	require.True(t, h.deliver(inbound{client: b, event: relay.EventNewUser, text: "bob"}))

	f, ok := nextFrame(t, b)
	require.True(t, ok)
	assert.JSONEq(t, `"bob se ha unido al chat"`, string(f.Data))
}

func TestHubShutdownRefusesNewClients(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	h := NewHub(cfg.Relay, zap.NewNop())
	go h.Run()
	require.NoError(t, h.Shutdown(time.Second))

	c := NewClient(nil, h, "127.0.0.1:1", cfg)
	assert.False(t, h.join(c))
	assert.False(t, h.deliver(inbound{client: c, event: relay.EventNewUser, text: "late"}))
}

func TestEncodeFrame(t *testing.T) {
	raw, err := EncodeFrame(relay.EventChatMessage, relay.ChatMessage{Usuario: "a", Mensaje: "b", Tiempo: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"chat message","data":{"usuario":"a","mensaje":"b","tiempo":"c"}}`, string(raw))
}

func TestDecodeInbound(t *testing.T) {
	event, text, err := decodeInbound([]byte(`{"event":"nuevo usuario","data":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, relay.EventNewUser, event)
	assert.Equal(t, "alice", text)

	_, _, err = decodeInbound([]byte(`{"event":"mensaje sistema","data":"forged"}`))
	assert.ErrorIs(t, err, errUnknownEvent)

	_, _, err = decodeInbound([]byte(`{"event":"chat message","data":{"x":1}}`))
	assert.ErrorIs(t, err, errBadPayload)

	_, _, err = decodeInbound([]byte(`{"event":"chat message"}`))
	assert.ErrorIs(t, err, errBadPayload)

	_, _, err = decodeInbound([]byte(`{`))
	assert.Error(t, err)
}
