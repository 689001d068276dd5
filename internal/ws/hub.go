package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"collab-service/internal/dispatch"
	"collab-service/internal/observability"
)

// Hub tracks live connections, their users and the rooms they joined. It
// implements dispatch.Rooms. With a Relay attached, broadcasts are also
// forwarded to the other nodes.
type Hub struct {
	nodeID string
	relay  Relay

	mu     sync.RWMutex
	rooms  map[string]map[dispatch.Conn]struct{}
	users  map[int]map[dispatch.Conn]struct{}
	joined map[dispatch.Conn]map[string]struct{}
	infos  map[dispatch.Conn]ConnInfo
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		nodeID: uuid.NewString(),
		rooms:  make(map[string]map[dispatch.Conn]struct{}),
		users:  make(map[int]map[dispatch.Conn]struct{}),
		joined: make(map[dispatch.Conn]map[string]struct{}),
		infos:  make(map[dispatch.Conn]ConnInfo),
	}
}

// NodeID identifies this hub on the relay.
func (h *Hub) NodeID() string { return h.nodeID }

// SetRelay attaches a cross-node relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// Register tracks a new connection for user-addressed delivery.
func (h *Hub) Register(c dispatch.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addConn(h.users, c.UserID(), c)
	h.joined[c] = make(map[string]struct{})
	h.infos[c] = info
}

// Unregister forgets a connection and returns the rooms it had joined.
func (h *Hub) Unregister(c dispatch.Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rooms []string
	for room := range h.joined[c] {
		rooms = append(rooms, room)
		removeConn(h.rooms, room, c)
	}
	delete(h.joined, c)
	delete(h.infos, c)
	removeConn(h.users, c.UserID(), c)
	return rooms
}

func (h *Hub) Join(room string, c dispatch.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[c]; !ok {
		h.joined[c] = make(map[string]struct{})
	}
	addConn(h.rooms, room, c)
	h.joined[c][room] = struct{}{}
}

func (h *Hub) Leave(room string, c dispatch.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeConn(h.rooms, room, c)
	delete(h.joined[c], room)
}

// LeaveUser removes every connection of userID from room, on this node and,
// through the relay, on the others.
func (h *Hub) LeaveUser(room string, userID int) {
	h.leaveUser(room, userID)
	h.forward(RelayMessage{Kind: RelayLeaveUser, Room: room, UserID: userID})
}

// CloseRoom drops every membership of room on every node.
func (h *Hub) CloseRoom(room string) {
	h.closeRoom(room)
	h.forward(RelayMessage{Kind: RelayCloseRoom, Room: room})
}

func (h *Hub) leaveUser(room string, userID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		if c.UserID() == userID {
			removeConn(h.rooms, room, c)
			delete(h.joined[c], room)
		}
	}
}

func (h *Hub) closeRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		delete(h.joined[c], room)
	}
	delete(h.rooms, room)
}

// Broadcast delivers payload to every connection in room except one, and
// forwards it to the relay. It returns the number of local deliveries.
func (h *Hub) Broadcast(room string, payload []byte, except dispatch.Conn) int {
	exceptID := ""
	if except != nil {
		exceptID = except.ID()
	}
	n := h.deliverRoom(room, payload, exceptID)
	h.forward(RelayMessage{Room: room, Except: exceptID, Payload: payload})
	return n
}

// NotifyUser delivers payload to every connection of userID.
func (h *Hub) NotifyUser(userID int, payload []byte) int {
	n := h.deliverUser(userID, payload)
	h.forward(RelayMessage{UserID: userID, Payload: payload})
	return n
}

// Deliver applies a relayed message from another node to local connections.
// Membership changes return 0.
func (h *Hub) Deliver(msg RelayMessage) int {
	if msg.Origin == h.nodeID {
		return 0
	}
	switch msg.Kind {
	case RelayLeaveUser:
		h.leaveUser(msg.Room, msg.UserID)
		return 0
	case RelayCloseRoom:
		h.closeRoom(msg.Room)
		return 0
	}
	if msg.Room != "" {
		return h.deliverRoom(msg.Room, msg.Payload, msg.Except)
	}
	return h.deliverUser(msg.UserID, msg.Payload)
}

// Joined reports whether c is currently a member of room.
func (h *Hub) Joined(room string, c dispatch.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][room]
	return ok
}

// RoomSize reports the number of local connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf lists the rooms c has joined.
func (h *Hub) RoomsOf(c dispatch.Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.joined[c]))
	for room := range h.joined[c] {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) deliverRoom(room string, payload []byte, exceptID string) int {
	h.mu.RLock()
	targets := make([]dispatch.Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if exceptID != "" && c.ID() == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.send(targets, payload)
}

func (h *Hub) deliverUser(userID int, payload []byte) int {
	h.mu.RLock()
	targets := make([]dispatch.Conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.send(targets, payload)
}

func (h *Hub) send(targets []dispatch.Conn, payload []byte) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			h.publishWSError(c, err)
			continue
		}
		delivered++
	}
	observability.AddBroadcastFrames(delivered)
	return delivered
}

func (h *Hub) forward(msg RelayMessage) {
	if h.relay == nil {
		return
	}
	msg.Origin = h.nodeID
	if err := h.relay.Publish(context.Background(), msg); err != nil {
		observability.IncRelayError()
		log.Printf("ws: relay publish failed: %v", err)
	}
}

func (h *Hub) publishWSError(c dispatch.Conn, err error) {
	h.mu.RLock()
	info, ok := h.infos[c]
	h.mu.RUnlock()
	if !ok {
		return
	}
	publishWSEvent(context.Background(), "ws_error", info, err.Error())
}

func addConn[K comparable](index map[K]map[dispatch.Conn]struct{}, key K, c dispatch.Conn) {
	if _, ok := index[key]; !ok {
		index[key] = make(map[dispatch.Conn]struct{})
	}
	index[key][c] = struct{}{}
}

func removeConn[K comparable](index map[K]map[dispatch.Conn]struct{}, key K, c dispatch.Conn) {
	conns, ok := index[key]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(index, key)
	}
}

// Relay message kinds. The zero kind is a frame delivery.
const (
	RelayLeaveUser = "leave_user"
	RelayCloseRoom = "close_room"
)

// RelayMessage carries one broadcast or membership change between nodes.
type RelayMessage struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind,omitempty"`
	Room    string          `json:"room,omitempty"`
	UserID  int             `json:"user_id,omitempty"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay forwards broadcasts to the hubs of other nodes.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}
