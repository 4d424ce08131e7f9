package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sashishuu/portalberita-sub001/domain"
)

var (
	// ErrNotInitialized is returned by every operation on a Hub that was
	// not constructed with New.
	ErrNotInitialized = errors.New("hub not initialized")
	// ErrDuplicateConnection is returned when a connection id is already
	// registered. Should not occur under a correct transport layer.
	ErrDuplicateConnection = errors.New("duplicate connection id")
	// ErrConnectionNotFound is an expected race outcome: the connection
	// disconnected between lookup and use. Callers treat it as a no-op.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrAlreadyAuthenticated is returned on a second identity bind for
	// the same connection. The bound identity never changes.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrRoomForbidden is returned when a connection tries to join a
	// personal room it does not own.
	ErrRoomForbidden = errors.New("room forbidden")
)

const userRoomPrefix = "user:"

// UserRoom returns the personal notification room name for a user.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ArticleRoom returns the comment-thread room name for an article.
func ArticleRoom(articleID string) string { return "article:" + articleID }

type session struct {
	conn     domain.Connection
	identity string
	rooms    map[string]struct{}
	state    connState
}

// Hub owns the live-connection registry and room membership. Both maps
// are mutated only under one lock, so session.rooms and the room member
// sets stay in lockstep. The zero value is unusable; call New.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]domain.Connection
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]domain.Connection),
	}
}

func (h *Hub) initialized() bool { return h != nil && h.sessions != nil }

// Register adds a fresh connection with no identity and no rooms.
func (h *Hub) Register(conn domain.Connection) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[conn.ID()]; exists {
		slog.Error("duplicate connection id", "connId", conn.ID())
		return ErrDuplicateConnection
	}

	s := &session{conn: conn, rooms: make(map[string]struct{}), state: stateConnecting}
	next, err := s.state.open()
	if err != nil {
		return err
	}
	s.state = next
	h.sessions[conn.ID()] = s

	slog.Info("client connected", "connId", conn.ID(), "clients", len(h.sessions))
	return nil
}

// Unregister removes the connection from every room it joined and
// discards its record. Idempotent, no events emitted.
func (h *Hub) Unregister(connID string) {
	if !h.initialized() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[connID]
	if !exists {
		return
	}

	next, err := s.state.close()
	if err != nil {
		slog.Warn("close on closed connection", "connId", connID)
	} else {
		s.state = next
	}

	for room := range s.rooms {
		h.removeMember(room, connID)
	}
	delete(h.sessions, connID)

	slog.Info("client disconnected", "connId", connID, "clients", len(h.sessions))
}

// removeMember drops connID from a room and destroys the room when its
// member set becomes empty. Caller holds the write lock.
func (h *Hub) removeMember(room, connID string) {
	members, exists := h.rooms[room]
	if !exists {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
		slog.Debug("room removed", "room", room)
	}
}

// BindIdentity binds a user identity to a connection exactly once.
// Callers performing I/O before binding must rely on the
// ErrConnectionNotFound result rather than pre-I/O state.
func (h *Hub) BindIdentity(connID, userID string) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[connID]
	if !exists {
		return ErrConnectionNotFound
	}
	if s.identity != "" {
		return ErrAlreadyAuthenticated
	}
	s.identity = userID

	slog.Info("identity bound", "connId", connID, "userId", userID)
	return nil
}

// IdentityOf returns the bound identity, empty if unauthenticated.
func (h *Hub) IdentityOf(connID string) (string, error) {
	if !h.initialized() {
		return "", ErrNotInitialized
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	s, exists := h.sessions[connID]
	if !exists {
		return "", ErrConnectionNotFound
	}
	return s.identity, nil
}

// Join adds the connection to a room, creating the room lazily.
// Idempotent. Personal rooms may only be joined by their owner.
func (h *Hub) Join(connID, room string) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[connID]
	if !exists {
		return ErrConnectionNotFound
	}
	if strings.HasPrefix(room, userRoomPrefix) {
		if s.identity == "" || room != UserRoom(s.identity) {
			return ErrRoomForbidden
		}
	}
	if _, joined := s.rooms[room]; joined {
		return nil
	}

	members, exists := h.rooms[room]
	if !exists {
		members = make(map[string]domain.Connection)
		h.rooms[room] = members
	}
	members[connID] = s.conn
	s.rooms[room] = struct{}{}

	slog.Debug("joined room", "connId", connID, "room", room, "members", len(members))
	return nil
}

// Leave removes the connection from a room. Idempotent; leaving a room
// never joined is a no-op.
func (h *Hub) Leave(connID, room string) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[connID]
	if !exists {
		return ErrConnectionNotFound
	}
	if _, joined := s.rooms[room]; !joined {
		return nil
	}

	delete(s.rooms, room)
	h.removeMember(room, connID)

	slog.Debug("left room", "connId", connID, "room", room)
	return nil
}

// RoomsOf returns a point-in-time snapshot of the rooms a connection
// has joined, sorted. Nil if the connection is unknown.
func (h *Hub) RoomsOf(connID string) []string {
	if !h.initialized() {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	s, exists := h.sessions[connID]
	if !exists {
		return nil
	}
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// MembersOf returns a point-in-time snapshot of a room's member ids,
// sorted. Nil for an absent room.
func (h *Hub) MembersOf(room string) []string {
	if !h.initialized() {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	members, exists := h.rooms[room]
	if !exists {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendToRoom delivers an event to every connection currently in the
// room. Delivery is fire-and-forget: a failing target is logged and
// skipped, never aborting the rest of the room.
func (h *Hub) SendToRoom(room, eventType string, payload any) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	data, err := json.Marshal(domain.Event{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]domain.Connection, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	h.deliver(targets, eventType, data)
	return nil
}

// SendToAll delivers an event to every registered connection.
func (h *Hub) SendToAll(eventType string, payload any) error {
	if !h.initialized() {
		return ErrNotInitialized
	}

	data, err := json.Marshal(domain.Event{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]domain.Connection, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s.conn)
	}
	h.mu.RUnlock()

	h.deliver(targets, eventType, data)
	return nil
}

func (h *Hub) deliver(targets []domain.Connection, eventType string, data []byte) {
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			slog.Warn("send failed", "connId", conn.ID(), "event", eventType, "error", err)
		}
	}
}

// Stats reports current room and client counts.
func (h *Hub) Stats() (rooms, clients int) {
	if !h.initialized() {
		return 0, 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.sessions)
}
