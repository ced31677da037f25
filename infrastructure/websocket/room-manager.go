package websocket

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	ErrRoomNotFound = errors.New("room not found")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
)

// group is one fan-out set, guarded by its own lock so a busy room never
// serializes traffic in unrelated rooms.
type group struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

func newGroup() *group {
	return &group{clients: make(map[string]*Client)}
}

func (g *group) add(c *Client) {
	g.mu.Lock()
	g.clients[c.ID] = c
	g.mu.Unlock()
}

func (g *group) remove(c *Client) int {
	g.mu.Lock()
	delete(g.clients, c.ID)
	n := len(g.clients)
	g.mu.Unlock()
	return n
}

func (g *group) snapshot() []*Client {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()
	return clients
}

// RoomManager is the gateway's fan-out registry: room groups keyed by room
// key and personal groups keyed by principal id. A principal may hold
// several concurrent connections; each is tracked by connection id.
type RoomManager struct {
	rooms map[string]*group
	users map[string]*group
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*group),
		users: make(map[string]*group),
	}
}

func (rm *RoomManager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// AddClient registers the connection in its principal's personal group.
// It reports whether this is the principal's first live connection.
func (rm *RoomManager) AddClient(c *Client) bool {
	rm.mu.Lock()
	g, ok := rm.users[c.Principal.ID]
	if !ok {
		g = newGroup()
		rm.users[c.Principal.ID] = g
	}
	rm.mu.Unlock()

	g.add(c)
	return !ok
}

// RemoveClient drops the connection from its personal group and every room
// it joined. It returns the room keys that became empty and whether the
// principal has no remaining connections.
func (rm *RoomManager) RemoveClient(c *Client) (emptiedRooms []string, userGone bool) {
	for _, roomKey := range c.Rooms() {
		if rm.LeaveRoom(roomKey, c) {
			emptiedRooms = append(emptiedRooms, roomKey)
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	g, ok := rm.users[c.Principal.ID]
	if !ok {
		return emptiedRooms, false
	}
	if g.remove(c) == 0 {
		delete(rm.users, c.Principal.ID)
		userGone = true
	}
	return emptiedRooms, userGone
}

// JoinRoom subscribes the connection to the room's fan-out group and reports
// whether the group was newly created.
func (rm *RoomManager) JoinRoom(roomKey string, c *Client) bool {
	rm.mu.Lock()
	g, ok := rm.rooms[roomKey]
	if !ok {
		g = newGroup()
		rm.rooms[roomKey] = g
	}
	rm.mu.Unlock()

	g.add(c)
	c.trackRoom(roomKey)
	return !ok
}

// LeaveRoom reports whether the room group became empty and was removed.
func (rm *RoomManager) LeaveRoom(roomKey string, c *Client) bool {
	rm.mu.Lock()
	g, ok := rm.rooms[roomKey]
	rm.mu.Unlock()
	if !ok {
		return false
	}

	c.untrackRoom(roomKey)
	if g.remove(c) > 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	g.mu.RLock()
	empty := len(g.clients) == 0
	g.mu.RUnlock()
	if empty {
		delete(rm.rooms, roomKey)
	}
	return empty
}

// InRoom reports whether the connection currently belongs to the room group.
func (rm *RoomManager) InRoom(roomKey string, c *Client) bool {
	rm.mu.RLock()
	g, ok := rm.rooms[roomKey]
	rm.mu.RUnlock()
	if !ok {
		return false
	}

	g.mu.RLock()
	_, in := g.clients[c.ID]
	g.mu.RUnlock()
	return in
}

// BroadcastToRoom fans one event out to every connection in the room,
// excluding excludeConnID when non-empty.
func (rm *RoomManager) BroadcastToRoom(roomKey string, msg *WSMessage, excludeConnID string) error {
	rm.mu.RLock()
	g, ok := rm.rooms[roomKey]
	rm.mu.RUnlock()
	if !ok {
		return ErrRoomNotFound
	}

	for _, c := range g.snapshot() {
		if c.ID == excludeConnID {
			continue
		}
		c.Enqueue(msg)
	}
	return nil
}

// SendToUser delivers one event to every live connection of the principal.
func (rm *RoomManager) SendToUser(userID string, msg *WSMessage) {
	rm.mu.RLock()
	g, ok := rm.users[userID]
	rm.mu.RUnlock()
	if !ok {
		return
	}

	for _, c := range g.snapshot() {
		c.Enqueue(msg)
	}
}

func (rm *RoomManager) RoomSize(roomKey string) int {
	rm.mu.RLock()
	g, ok := rm.rooms[roomKey]
	rm.mu.RUnlock()
	if !ok {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (rm *RoomManager) DisconnectAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for _, g := range rm.users {
		for _, c := range g.snapshot() {
			c.Close()
		}
	}

	rm.rooms = make(map[string]*group)
	rm.users = make(map[string]*group)
}
