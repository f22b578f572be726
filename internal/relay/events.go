// Package relay implements the chat relay core: the display-name registry,
// the per-connection throttle, message sanitization and the fan-out of chat
// messages and system notices. It knows nothing about the transport; callers
// feed it connection events and receive outbound events through an Outbox.
package relay

import "time"

// Event names exchanged with clients. They are matched exactly.
const (
	EventNewUser       = "nuevo usuario"
	EventChatMessage   = "chat message"
	EventSystemMessage = "mensaje sistema"
	EventUserList      = "lista usuarios"
	EventError         = "error"
)

// Texts sent to a single connection when a submission is refused.
const (
	ErrTooManyMessages = "Demasiados mensajes"
	ErrTooFast         = "Espera un momento antes de enviar otro mensaje"
	ErrNotRegistered   = "Debes elegir un nombre antes de enviar mensajes"
)

// ConnID identifies a live connection. The relay treats it as opaque.
type ConnID string

// ChatMessage is the broadcast form of an accepted message.
type ChatMessage struct {
	Usuario string `json:"usuario"`
	Mensaje string `json:"mensaje"`
	Tiempo  string `json:"tiempo"`

	SentAt time.Time `json:"-"`
}

// Outbox delivers outbound events. Implementations must not block the caller.
type Outbox interface {
	// Broadcast delivers the event to every open connection.
	Broadcast(event string, payload any)
	// Send delivers the event to a single connection.
	Send(id ConnID, event string, payload any)
}

func joinNotice(name string) string {
	return name + " se ha unido al chat"
}

func leaveNotice(name string) string {
	return name + " ha salido del chat"
}
