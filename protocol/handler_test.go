package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashishuu/portalberita-sub001/auth"
	"github.com/sashishuu/portalberita-sub001/domain"
	"github.com/sashishuu/portalberita-sub001/hub"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) lastEvent(t *testing.T) domain.Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)

	var event domain.Event
	require.NoError(t, json.Unmarshal(m.sent[len(m.sent)-1], &event))
	return event
}

func (m *mockConn) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockAuthenticator struct {
	identity string
	err      error
	calls    int
}

func (m *mockAuthenticator) Authenticate(connID, token string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.identity, nil
}

type mockRegistry struct {
	joinErr  error
	leaveErr error
	joins    []string
	leaves   []string
}

func (m *mockRegistry) Register(conn domain.Connection) error { return nil }

func (m *mockRegistry) Unregister(connID string) {}

func (m *mockRegistry) Join(connID, room string) error {
	if m.joinErr != nil {
		return m.joinErr
	}
	m.joins = append(m.joins, room)
	return nil
}

func (m *mockRegistry) Leave(connID, room string) error {
	if m.leaveErr != nil {
		return m.leaveErr
	}
	m.leaves = append(m.leaves, room)
	return nil
}

func (m *mockRegistry) RoomsOf(connID string) []string { return nil }
func (m *mockRegistry) MembersOf(room string) []string { return nil }

func frame(t *testing.T, msg domain.ClientMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestHandler_Authenticate(t *testing.T) {
	authenticator := &mockAuthenticator{identity: "u1"}
	handler := NewHandler(authenticator, &mockRegistry{})
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionAuthenticate, Token: "tok"}))

	event := conn.lastEvent(t)
	assert.Equal(t, "authenticated", event.Type)
	assert.Equal(t, map[string]any{"userId": "u1"}, event.Payload)
	assert.Equal(t, 1, authenticator.calls)
}

func TestHandler_AuthenticateRejections(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "invalid token", err: auth.ErrInvalidToken, wantCode: "invalid-token"},
		{name: "expired token", err: auth.ErrExpiredToken, wantCode: "expired-token"},
		{name: "already authenticated", err: hub.ErrAlreadyAuthenticated, wantCode: "already-authenticated"},
		{name: "disconnected mid-auth", err: hub.ErrConnectionNotFound, wantCode: "connection-not-found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&mockAuthenticator{err: tt.err}, &mockRegistry{})
			conn := &mockConn{id: "c1"}

			handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionAuthenticate, Token: "tok"}))

			event := conn.lastEvent(t)
			assert.Equal(t, "error", event.Type)

			payload, ok := event.Payload.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, payload["code"])
		})
	}
}

func TestHandler_JoinRoom(t *testing.T) {
	registry := &mockRegistry{}
	handler := NewHandler(&mockAuthenticator{}, registry)
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionJoinRoom, Room: "article:42"}))

	assert.Equal(t, []string{"article:42"}, registry.joins)
	event := conn.lastEvent(t)
	assert.Equal(t, "joined", event.Type)
	assert.Equal(t, map[string]any{"room": "article:42"}, event.Payload)
}

func TestHandler_JoinForbiddenRoom(t *testing.T) {
	registry := &mockRegistry{joinErr: hub.ErrRoomForbidden}
	handler := NewHandler(&mockAuthenticator{}, registry)
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionJoinRoom, Room: "user:u2"}))

	event := conn.lastEvent(t)
	assert.Equal(t, "error", event.Type)

	payload, ok := event.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "room-forbidden", payload["code"])
}

func TestHandler_LeaveRoom(t *testing.T) {
	registry := &mockRegistry{}
	handler := NewHandler(&mockAuthenticator{}, registry)
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionLeaveRoom, Room: "article:42"}))

	assert.Equal(t, []string{"article:42"}, registry.leaves)
	event := conn.lastEvent(t)
	assert.Equal(t, "left", event.Type)
}

func TestHandler_Ping(t *testing.T) {
	handler := NewHandler(&mockAuthenticator{}, &mockRegistry{})
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: ActionPing, Timestamp: 12345}))

	event := conn.lastEvent(t)
	assert.Equal(t, "pong", event.Type)
	assert.Equal(t, map[string]any{"timestamp": float64(12345)}, event.Payload)
}

func TestHandler_InvalidJSON(t *testing.T) {
	registry := &mockRegistry{}
	handler := NewHandler(&mockAuthenticator{}, registry)
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, []byte("not json"))

	event := conn.lastEvent(t)
	assert.Equal(t, "error", event.Type)

	payload, ok := event.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bad-message", payload["code"])
	assert.Empty(t, registry.joins)
}

func TestHandler_UnknownAction(t *testing.T) {
	handler := NewHandler(&mockAuthenticator{}, &mockRegistry{})
	conn := &mockConn{id: "c1"}

	handler.Handle(conn, frame(t, domain.ClientMessage{Action: "self-destruct"}))

	event := conn.lastEvent(t)
	assert.Equal(t, "error", event.Type)

	payload, ok := event.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bad-message", payload["code"])
	assert.Equal(t, 1, conn.sentCount())
}
