package http

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// event is the wire shape of every realtime message.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinPayload struct {
	PlayerName string `json:"playerName"`
}

// client is one admitted websocket connection, bound to a lobby and player.
// A single writer goroutine drains send so the connection never sees
// concurrent writes.
type client struct {
	conn     *websocket.Conn
	send     chan event
	lobbyID  string
	playerID string
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// Hub groups admitted connections by lobby id and broadcasts lifecycle events
// to one room at a time. It implements app.Notifier.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.lobbyID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.lobbyID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.lobbyID]
	if !ok {
		return
	}
	if _, member := room[c]; !member {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.lobbyID)
	}
}

// broadcast delivers ev to every connection in the lobby's room. A consumer
// whose buffer is full is disconnected rather than handed a lossy stream:
// every connection still in the room has received every event broadcast to it.
func (h *Hub) broadcast(lobbyID string, ev event) {
	var stale []*client
	h.mu.RLock()
	for c := range h.rooms[lobbyID] {
		select {
		case c.send <- ev:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Printf("ws consumer too slow, disconnecting from lobby %s", c.lobbyID)
		h.remove(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// RoomSize reports the number of connections in a lobby's room.
func (h *Hub) RoomSize(lobbyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[lobbyID])
}

// NotifyPlayerJoin broadcasts a newPlayer event carrying the display name.
func (h *Hub) NotifyPlayerJoin(lobbyID, playerName string) {
	h.broadcast(lobbyID, event{Type: "newPlayer", Payload: joinPayload{PlayerName: playerName}})
}

// NotifyLobbyStart broadcasts the lobbyStart event to the lobby's room.
func (h *Hub) NotifyLobbyStart(lobbyID string) {
	h.broadcast(lobbyID, event{Type: "lobbyStart"})
}

// NotifyLobbyEnd broadcasts the lobbyEnd event to the lobby's room.
func (h *Hub) NotifyLobbyEnd(lobbyID string) {
	h.broadcast(lobbyID, event{Type: "lobbyEnd"})
}
