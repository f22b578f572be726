package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	to      ConnID // empty for broadcasts
	event   string
	payload any
}

type recordingOutbox struct {
	events []sent
}

func (o *recordingOutbox) Broadcast(event string, payload any) {
	o.events = append(o.events, sent{event: event, payload: payload})
}

func (o *recordingOutbox) Send(id ConnID, event string, payload any) {
	o.events = append(o.events, sent{to: id, event: event, payload: payload})
}

func (o *recordingOutbox) broadcasts(event string) []any {
	var out []any
	for _, e := range o.events {
		if e.to == "" && e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (o *recordingOutbox) reset() {
	o.events = nil
}

var t0 = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestRelay(t *testing.T, customize func(p *Policy)) (*Relay, *recordingOutbox) {
	t.Helper()
	policy := DefaultPolicy()
	if customize != nil {
		customize(&policy)
	}
	out := &recordingOutbox{}
	return New(policy, out, zap.NewNop()), out
}

func TestAnnounceBroadcastsNoticeThenList(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")

	require.Len(t, out.events, 2)
	assert.Equal(t, sent{event: EventSystemMessage, payload: "alice se ha unido al chat"}, out.events[0])
	assert.Equal(t, sent{event: EventUserList, payload: []string{"alice"}}, out.events[1])
}

func TestEndToEndScenario(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "hi <b>team</b>", t0)
	require.Len(t, out.events, 1)
	msg, ok := out.events[0].payload.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, EventChatMessage, out.events[0].event)
	assert.Equal(t, ConnID(""), out.events[0].to, "chat messages go to everyone, sender included")
	assert.Equal(t, "alice", msg.Usuario)
	assert.Equal(t, "hi &lt;b&gt;team&lt;/b&gt;", msg.Mensaje)
	assert.Equal(t, "3:09:26 PM", msg.Tiempo)
	out.reset()

	r.Disconnect("a")
	require.Len(t, out.events, 2)
	assert.Equal(t, sent{event: EventSystemMessage, payload: "alice ha salido del chat"}, out.events[0])
	assert.Equal(t, sent{event: EventUserList, payload: []string{}}, out.events[1])
}

func TestUnregisteredSenderIsDropped(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Submit("a", "hello", t0)
	assert.Empty(t, out.events)
}

func TestUnregisteredSenderCanBeRejected(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) { p.RejectUnregistered = true })
	r.Connect("a")
	r.Submit("a", "hello", t0)
	assert.Equal(t, []sent{{to: "a", event: EventError, payload: ErrNotRegistered}}, out.events)
}

func TestSubmitFromUnknownConnectionIsIgnored(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Submit("ghost", "boo", t0)
	r.Announce("ghost", "casper")
	assert.Empty(t, out.events)
}

func TestSpacingDropsFastMessages(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "first", t0)
	r.Submit("a", "second", t0.Add(500*time.Millisecond))
	r.Submit("a", "third", t0.Add(time.Second))

	msgs := out.broadcasts(EventChatMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].(ChatMessage).Mensaje)
	assert.Equal(t, "third", msgs[1].(ChatMessage).Mensaje)
	assert.Len(t, out.events, 2, "spacing drops are silent")
}

func TestSpacingDropsCanBeNotified(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) { p.NotifyThrottled = true })
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "first", t0)
	r.Submit("a", "second", t0.Add(100*time.Millisecond))

	require.Len(t, out.events, 2)
	assert.Equal(t, sent{to: "a", event: EventError, payload: ErrTooFast}, out.events[1])
}

func TestSpacingIsPerConnection(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Connect("b")
	r.Announce("a", "alice")
	r.Announce("b", "bob")
	out.reset()

	r.Submit("a", "from alice", t0)
	r.Submit("b", "from bob", t0.Add(10*time.Millisecond))

	assert.Len(t, out.broadcasts(EventChatMessage), 2)
}

func TestCeilingRejectsWithError(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) { p.CeilingWindow = time.Hour })
	r.Connect("a")
	r.Connect("b")
	r.Announce("a", "alice")
	out.reset()

	now := t0
	for i := 0; i < 50; i++ {
		r.Submit("a", "msg", now)
		now = now.Add(time.Second)
	}
	require.Len(t, out.broadcasts(EventChatMessage), 50)
	out.reset()

	r.Submit("a", "one too many", now)
	assert.Equal(t, []sent{{to: "a", event: EventError, payload: ErrTooManyMessages}}, out.events)
}

func TestCeilingWindowResets(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) {
		p.MessageCeiling = 2
		p.CeilingWindow = 10 * time.Second
	})
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "1", t0)
	r.Submit("a", "2", t0.Add(time.Second))
	r.Submit("a", "3", t0.Add(2*time.Second))
	r.Submit("a", "4", t0.Add(10*time.Second))

	msgs := out.broadcasts(EventChatMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, "4", msgs[2].(ChatMessage).Mensaje)
	assert.Equal(t, sent{to: "a", event: EventError, payload: ErrTooManyMessages}, out.events[2])
}

func TestEmptyMessageIsDroppedWithoutUsingBudget(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "   ", t0)
	r.Submit("a", "real", t0.Add(10*time.Millisecond))

	msgs := out.broadcasts(EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "real", msgs[0].(ChatMessage).Mensaje)
}

func TestAnnounceSanitizesName(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "  <i>mallory</i>"+strings.Repeat("x", 40))

	names := out.broadcasts(EventUserList)
	require.Len(t, names, 1)
	name := names[0].([]string)[0]
	assert.True(t, strings.HasPrefix(name, "&lt;i&gt;mallory&lt;/i&gt;"))
	assert.NotContains(t, name, "<")
}

func TestAnnounceIgnoresBlankName(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "   ")
	assert.Empty(t, out.events)
	assert.Empty(t, r.Snapshot())
}

func TestDisconnectWithoutNameIsQuiet(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Disconnect("a")
	r.Disconnect("a")
	assert.Empty(t, out.events)
	assert.Equal(t, 0, r.Connections())
}

func TestSharedNameSurvivesOneDeparture(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Connect("b")
	r.Announce("a", "alice")
	r.Announce("b", "alice")
	out.reset()

	r.Submit("b", "still me", t0)
	msgs := out.broadcasts(EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].(ChatMessage).Usuario)

	r.Disconnect("a")
	lists := out.broadcasts(EventUserList)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"alice"}, lists[0])
}

func TestSanitizeDisabledKeepsMarkup(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) { p.Sanitize = false })
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Submit("a", "  <b>bold</b>  ", t0)
	msgs := out.broadcasts(EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "<b>bold</b>", msgs[0].(ChatMessage).Mensaje)
}

func TestAnnounceUsesStripPolicyForNames(t *testing.T) {
	r, out := newTestRelay(t, func(p *Policy) { p.SanitizePolicy = PolicyStrip })
	r.Connect("a")
	r.Announce("a", "  <b>bob</b> ")

	assert.Equal(t, []string{"bob"}, r.Snapshot())
	require.NotEmpty(t, out.events)
	assert.Equal(t, "bob se ha unido al chat", out.events[0].payload)
}

func TestAnnounceRenameLeavesOldName(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Announce("a", "alicia")
	require.Len(t, out.events, 3)
	assert.Equal(t, sent{event: EventSystemMessage, payload: "alice ha salido del chat"}, out.events[0])
	assert.Equal(t, sent{event: EventSystemMessage, payload: "alicia se ha unido al chat"}, out.events[1])
	assert.Equal(t, sent{event: EventUserList, payload: []string{"alicia"}}, out.events[2])
}

func TestAnnounceSameNameTwiceIsQuiet(t *testing.T) {
	r, out := newTestRelay(t, nil)
	r.Connect("a")
	r.Announce("a", "alice")
	out.reset()

	r.Announce("a", " alice ")
	assert.Empty(t, out.events)
	assert.Equal(t, []string{"alice"}, r.Snapshot())
}
