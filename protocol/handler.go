package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sashishuu/portalberita-sub001/auth"
	"github.com/sashishuu/portalberita-sub001/domain"
	"github.com/sashishuu/portalberita-sub001/hub"
)

// Client-issued actions.
const (
	ActionAuthenticate = "authenticate"
	ActionJoinRoom     = "join-room"
	ActionLeaveRoom    = "leave-room"
	ActionPing         = "ping"
)

// Authenticator verifies a credential and binds the identity to the
// connection.
type Authenticator interface {
	Authenticate(connID, token string) (string, error)
}

// Rejection is the payload of an "error" event sent back to the
// offending connection. The connection stays open.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler dispatches inbound client frames to the auth and room
// layers and reports outcomes back on the same connection.
type Handler struct {
	authenticator Authenticator
	registry      domain.Registry
}

func NewHandler(authenticator Authenticator, registry domain.Registry) *Handler {
	return &Handler{authenticator: authenticator, registry: registry}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "connId", conn.ID(), "error", err)
		h.reject(conn, "bad-message", "message is not valid JSON")
		return
	}

	switch msg.Action {
	case ActionAuthenticate:
		h.handleAuthenticate(conn, msg)
	case ActionJoinRoom:
		h.handleJoin(conn, msg)
	case ActionLeaveRoom:
		h.handleLeave(conn, msg)
	case ActionPing:
		h.send(conn, domain.Event{Type: "pong", Payload: map[string]int64{"timestamp": msg.Timestamp}})
	default:
		slog.Warn("unknown action", "connId", conn.ID(), "action", msg.Action)
		h.reject(conn, "bad-message", "unknown action")
	}
}

func (h *Handler) handleAuthenticate(conn domain.Connection, msg domain.ClientMessage) {
	identity, err := h.authenticator.Authenticate(conn.ID(), msg.Token)
	if err != nil {
		h.reject(conn, rejectionCode(err), err.Error())
		return
	}
	h.send(conn, domain.Event{Type: "authenticated", Payload: map[string]string{"userId": identity}})
}

func (h *Handler) handleJoin(conn domain.Connection, msg domain.ClientMessage) {
	if err := h.registry.Join(conn.ID(), msg.Room); err != nil {
		h.reject(conn, rejectionCode(err), err.Error())
		return
	}
	h.send(conn, domain.Event{Type: "joined", Payload: map[string]string{"room": msg.Room}})
}

func (h *Handler) handleLeave(conn domain.Connection, msg domain.ClientMessage) {
	if err := h.registry.Leave(conn.ID(), msg.Room); err != nil {
		h.reject(conn, rejectionCode(err), err.Error())
		return
	}
	h.send(conn, domain.Event{Type: "left", Payload: map[string]string{"room": msg.Room}})
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid-token"
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired-token"
	case errors.Is(err, hub.ErrAlreadyAuthenticated):
		return "already-authenticated"
	case errors.Is(err, hub.ErrRoomForbidden):
		return "room-forbidden"
	case errors.Is(err, hub.ErrConnectionNotFound):
		return "connection-not-found"
	default:
		return "internal"
	}
}

func (h *Handler) reject(conn domain.Connection, code, message string) {
	h.send(conn, domain.Event{Type: "error", Payload: Rejection{Code: code, Message: message}})
}

func (h *Handler) send(conn domain.Connection, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("marshal error", "connId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("reply send failed", "connId", conn.ID(), "error", err)
	}
}
