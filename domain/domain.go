package domain

// Event is the outbound frame pushed to clients. Payload schema is
// defined by the producer, not by the delivery layer.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ClientMessage is the inbound frame read from clients.
type ClientMessage struct {
	Action    string `json:"action"`
	Token     string `json:"token,omitempty"`
	Room      string `json:"room,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Connection is one live transport session.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Registry tracks live connections and their room memberships.
type Registry interface {
	Register(conn Connection) error
	Unregister(connID string)
	Join(connID, room string) error
	Leave(connID, room string) error
	RoomsOf(connID string) []string
	MembersOf(room string) []string
}

// Broadcaster is the send API used by producers that do not care
// which connections are subscribed.
type Broadcaster interface {
	SendToRoom(room, eventType string, payload any) error
	SendToAll(eventType string, payload any) error
}

// MessageHandler dispatches an inbound client frame.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
