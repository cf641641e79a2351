package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/domain"
	"github.com/gorilla/websocket"
)

// accessDenied carries the authentication failure reason delivered to a
// connection that is not admitted.
type accessDenied struct {
	Message string `json:"message"`
}

func (e accessDenied) Error() string { return e.Message }

// WSHandler admits realtime connections. Each connection presents
// {lobbyId, playerId} as query credentials and is authenticated against lobby
// membership before joining the lobby's room.
type WSHandler struct {
	lobbies  app.LobbyRepository
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(lobbies app.LobbyRepository, hub *Hub) *WSHandler {
	return &WSHandler{
		lobbies: lobbies,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the admission sequence. A failed
// authentication receives the reason over the socket and is never added to a
// room; it does not affect other connections.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	lobbyID := r.URL.Query().Get("lobbyId")
	playerID := r.URL.Query().Get("playerId")
	player, err := h.authenticate(r.Context(), lobbyID, playerID)
	if err != nil {
		var denied accessDenied
		if errors.As(err, &denied) {
			log.Printf("ws connection denied: %s", denied.Message)
			_ = conn.WriteJSON(event{Type: "accessDenied", Payload: denied})
		} else {
			log.Printf("ws authentication failed: %v", err)
			_ = conn.WriteJSON(event{Type: "error", Payload: accessDenied{Message: "authentication failed"}})
		}
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan event, 16),
		lobbyID:  lobbyID,
		playerID: playerID,
	}
	h.hub.add(c)
	defer h.hub.remove(c)

	c.send <- event{Type: "connection", Payload: "CONNECTION_OPENED"}
	h.hub.NotifyPlayerJoin(lobbyID, player.Name)

	go c.writeLoop()

	// The channel is event-push only; the read loop just detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// authenticate applies the admission rules in order: a player id, a lobby id,
// an existing lobby, and membership.
func (h *WSHandler) authenticate(ctx context.Context, lobbyID, playerID string) (domain.Player, error) {
	if playerID == "" {
		return domain.Player{}, accessDenied{Message: "a playerId is required"}
	}
	if lobbyID == "" {
		return domain.Player{}, accessDenied{Message: "a lobbyId is required"}
	}
	lobby, err := h.lobbies.FindByID(ctx, lobbyID)
	if errors.Is(err, domain.ErrLobbyNotFound) {
		return domain.Player{}, accessDenied{Message: "Lobby not found"}
	}
	if err != nil {
		return domain.Player{}, err
	}
	player, ok := lobby.PlayerByID(playerID)
	if !ok {
		return domain.Player{}, accessDenied{Message: "Player is not in the lobby"}
	}
	return player, nil
}
