package websocket

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub is the registry of live connections, keyed by user, and of room
// membership. One mutex guards both maps and every send traversal, so a
// broadcast never races a connect or disconnect.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*Client]struct{} // user id -> live connections
	rooms map[string]map[string]struct{}  // room -> user ids
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Client]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register adds a client and joins its user to rooms.
func (h *Hub) Register(c *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.conns[c.UserID] = set
	}
	set[c] = struct{}{}
	for _, room := range rooms {
		h.joinLocked(c.UserID, room)
	}
	c.setState(StateJoined)
	log.Info().Str("user_id", c.UserID).Int("user_connections", len(set)).Msg("Client connected")
}

// Unregister removes a client. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removeLocked(c) {
		log.Info().Str("user_id", c.UserID).Msg("Client disconnected")
	}
}

// JoinRoom adds the client's user to a room. It reports false, and changes
// nothing, once the client has been unregistered.
func (h *Hub) JoinRoom(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false
	}
	h.joinLocked(c.UserID, room)
	return true
}

// LeaveRoom removes the client's user from a room.
func (h *Hub) LeaveRoom(c *Client, room string) {
	h.mu.Lock()
	h.leaveLocked(c.UserID, room)
	h.mu.Unlock()
}

// SendToUser delivers msg to every live connection of a user and returns how
// many connections accepted it.
func (h *Hub) SendToUser(userID string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendUserLocked(userID, msg)
}

// BroadcastToRoom delivers msg once to every connection of every user in
// room at the time of the call.
func (h *Hub) BroadcastToRoom(room string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]string, 0, len(h.rooms[room]))
	for userID := range h.rooms[room] {
		members = append(members, userID)
	}
	sent := 0
	for _, userID := range members {
		sent += h.sendUserLocked(userID, msg)
	}
	return sent
}

// BroadcastAll delivers msg to every live connection.
func (h *Hub) BroadcastAll(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	sent := 0
	for _, userID := range users {
		sent += h.sendUserLocked(userID, msg)
	}
	return sent
}

// ConnectedUsers returns the ids of users with at least one live connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// IsConnected reports whether the user has a live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID]) > 0
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// RoomMembers returns the user ids joined to room.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms[room]))
	for userID := range h.rooms[room] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// CloseAll drops every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.conns {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

// send delivers msg to a single client, e.g. a reply to its own request.
func (h *Hub) send(c *Client, msg []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trySendLocked(c, msg)
}

func (h *Hub) sendUserLocked(userID string, msg []byte) int {
	targets := make([]*Client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	sent := 0
	for _, c := range targets {
		if h.trySendLocked(c, msg) {
			sent++
		}
	}
	return sent
}

// trySendLocked never blocks. A client whose buffer is full is pruned.
func (h *Hub) trySendLocked(c *Client, msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("user_id", c.UserID).Msg("Client send buffer full, dropping connection")
		h.removeLocked(c)
		return false
	}
}

func (h *Hub) removeLocked(c *Client) bool {
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	c.setState(StateClosed)

	set := h.conns[c.UserID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.UserID)
		for room := range h.rooms {
			h.leaveLocked(c.UserID, room)
		}
	}
	return true
}

func (h *Hub) joinLocked(userID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[userID] = struct{}{}
}

func (h *Hub) leaveLocked(userID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}
