package relay

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Policy parameterizes the relay's message pipeline.
type Policy struct {
	Sanitize           bool          `yaml:"sanitize"`
	SanitizePolicy     string        `yaml:"sanitize_policy"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	MaxNameLength      int           `yaml:"max_name_length"`
	MinInterval        time.Duration `yaml:"min_interval"`
	MessageCeiling     int           `yaml:"message_ceiling"`
	CeilingWindow      time.Duration `yaml:"ceiling_window"`
	NotifyThrottled    bool          `yaml:"notify_throttled"`
	RejectUnregistered bool          `yaml:"reject_unregistered"`
	TimeLayout         string        `yaml:"time_layout"`
}

// DefaultPolicy returns the reference pipeline settings.
func DefaultPolicy() Policy {
	return Policy{
		Sanitize:         true,
		SanitizePolicy:   PolicyEscape,
		MaxMessageLength: 500,
		MaxNameLength:    32,
		MinInterval:      time.Second,
		MessageCeiling:   50,
		CeilingWindow:    time.Minute,
		TimeLayout:       "3:04:05 PM",
	}
}

type connection struct {
	throttle *throttle
}

// Relay is the chat relay state machine. Every method must be called from a
// single goroutine; the relay performs no locking of its own.
type Relay struct {
	policy    Policy
	registry  *Registry
	conns     map[ConnID]*connection
	sanitizer *Sanitizer
	names     *Sanitizer
	out       Outbox
	logger    *zap.Logger
}

// New returns a Relay publishing through out.
func New(policy Policy, out Outbox, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		policy:    policy,
		registry:  NewRegistry(),
		conns:     make(map[ConnID]*connection),
		sanitizer: NewSanitizer(policy.Sanitize, policy.SanitizePolicy, policy.MaxMessageLength),
		names:     NewSanitizer(policy.Sanitize, policy.SanitizePolicy, policy.MaxNameLength),
		out:       out,
		logger:    logger,
	}
}

// Connect starts tracking a freshly opened connection.
func (r *Relay) Connect(id ConnID) {
	if _, ok := r.conns[id]; ok {
		return
	}
	r.conns[id] = &connection{
		throttle: newThrottle(r.policy.MinInterval, r.policy.MessageCeiling, r.policy.CeilingWindow),
	}
}

// Announce registers the connection's display name and broadcasts the join
// notice followed by the updated name list. A connection switching names
// leaves under its old name first; announcing the current name again is a
// no-op.
func (r *Relay) Announce(id ConnID, rawName string) {
	if _, ok := r.conns[id]; !ok {
		r.logger.Warn("announce from unknown connection", zap.String("conn_id", string(id)))
		return
	}

	name := r.names.Sanitize(strings.TrimSpace(rawName))
	if name == "" {
		r.logger.Debug("ignoring empty display name", zap.String("conn_id", string(id)))
		return
	}

	prev, renamed := r.registry.NameOf(id)
	if renamed && prev == name {
		return
	}

	names := r.registry.Register(id, name)
	r.logger.Info("user joined",
		zap.String("conn_id", string(id)),
		zap.String("name", name),
		zap.Int("active", len(names)))

	if renamed {
		r.out.Broadcast(EventSystemMessage, leaveNotice(prev))
	}
	r.out.Broadcast(EventSystemMessage, joinNotice(name))
	r.out.Broadcast(EventUserList, names)
}

// Submit runs a raw chat message through the pipeline and broadcasts it when
// accepted.
func (r *Relay) Submit(id ConnID, rawText string, now time.Time) {
	conn, ok := r.conns[id]
	if !ok {
		return
	}

	name, registered := r.registry.NameOf(id)
	if !registered {
		if r.policy.RejectUnregistered {
			r.out.Send(id, EventError, ErrNotRegistered)
		}
		return
	}

	switch conn.throttle.check(now) {
	case tooSoon:
		if r.policy.NotifyThrottled {
			r.out.Send(id, EventError, ErrTooFast)
		}
		return
	case overCeiling:
		r.logger.Warn("message ceiling reached",
			zap.String("conn_id", string(id)),
			zap.String("name", name),
			zap.Int("ceiling", r.policy.MessageCeiling))
		r.out.Send(id, EventError, ErrTooManyMessages)
		return
	}

	text := r.sanitizer.Sanitize(rawText)
	if text == "" {
		return
	}

	conn.throttle.accept(now)
	r.out.Broadcast(EventChatMessage, ChatMessage{
		Usuario: name,
		Mensaje: text,
		Tiempo:  now.Format(r.policy.TimeLayout),
		SentAt:  now,
	})
}

// Disconnect forgets the connection. When it had announced a name, the leave
// notice and the updated name list are broadcast.
func (r *Relay) Disconnect(id ConnID) {
	if _, ok := r.conns[id]; !ok {
		return
	}
	delete(r.conns, id)

	names, name, ok := r.registry.Unregister(id)
	if !ok {
		return
	}
	r.logger.Info("user left",
		zap.String("conn_id", string(id)),
		zap.String("name", name),
		zap.Int("active", len(names)))

	r.out.Broadcast(EventSystemMessage, leaveNotice(name))
	r.out.Broadcast(EventUserList, names)
}

// Snapshot returns the active display names in registration order.
func (r *Relay) Snapshot() []string {
	return r.registry.Snapshot()
}

// Connections reports the number of tracked connections.
func (r *Relay) Connections() int {
	return len(r.conns)
}
