package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/isdelr/alertflow/internal/auth"
	"github.com/isdelr/alertflow/internal/models"
	ws "github.com/isdelr/alertflow/internal/websocket"
	"github.com/rs/zerolog/log"
)

// CloseInvalidToken is the close code sent when the credential is rejected.
const CloseInvalidToken = 4001

// UserLookup resolves the user behind a token.
type UserLookup interface {
	GetUserByID(id string) (models.User, error)
}

// WebSocketHandler handles upgrading HTTP connections to WebSocket connections.
type WebSocketHandler struct {
	hub    *ws.Hub
	tokens *auth.Manager
	users  UserLookup
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *ws.Hub, tokens *auth.Manager, users UserLookup) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, tokens: tokens, users: users}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (consider tightening this in production).
		return true
	},
}

// Serve authenticates the caller and upgrades the connection. A rejected
// credential still upgrades so the client sees close code 4001.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	user, authErr := h.authenticate(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	if authErr != nil {
		log.Warn().Err(authErr).Str("remote", r.RemoteAddr).Msg("Rejected websocket credential")
		msg := websocket.FormatCloseMessage(CloseInvalidToken, "Invalid or expired token")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := ws.NewClient(h.hub, conn, user.ID, user.Username, user.Role)
	rooms := ws.DefaultRooms(user.Role)
	h.hub.Register(client, rooms...)

	welcome := ws.NewMessage(ws.TypeSystem, "connected", map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
		"rooms":   rooms,
	})
	welcome.Message = "Welcome " + user.Username + "! Real-time notifications active."
	if b, err := welcome.Encode(); err == nil {
		client.Send(b)
	}
	client.Open()

	go client.WritePump()
	go client.ReadPump(h.handleIncomingWSMessage)
}

func (h *WebSocketHandler) authenticate(r *http.Request) (models.User, error) {
	token := auth.TokenFromRequest(r, true)
	if token == "" {
		return models.User{}, errMissingToken
	}
	claims, err := h.tokens.ValidateJWT(token)
	if err != nil {
		return models.User{}, err
	}
	user, err := h.users.GetUserByID(claims.UserID)
	if err != nil {
		return models.User{}, err
	}
	if !user.IsActive {
		return models.User{}, errInactiveUser
	}
	return user, nil
}

// handleIncomingWSMessage processes messages received from a websocket client.
// Replies go to the sending connection only.
func (h *WebSocketHandler) handleIncomingWSMessage(client *ws.Client, message []byte) {
	var msg ws.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("user_id", client.UserID).Msg("Error decoding websocket message")
		client.Send(ws.NewErrorMessage("Invalid JSON format"))
		return
	}

	var reply ws.Message
	switch msg.Action {
	case "ping":
		reply = ws.Message{Type: ws.TypePong, Timestamp: msg.Timestamp}
		if reply.Timestamp == nil {
			reply.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		}

	case "subscribe":
		if !ws.CanJoin(client.Role, msg.Room) {
			client.Send(ws.NewErrorMessage("Cannot subscribe to room: " + msg.Room))
			return
		}
		if !h.hub.JoinRoom(client, msg.Room) {
			return
		}
		reply = ws.Message{Type: ws.TypeSubscribed, Room: msg.Room}

	case "unsubscribe":
		if msg.Room == "" {
			client.Send(ws.NewErrorMessage("Room is required"))
			return
		}
		h.hub.LeaveRoom(client, msg.Room)
		reply = ws.Message{Type: ws.TypeUnsubscribed, Room: msg.Room}

	default:
		log.Warn().Str("action", msg.Action).Msg("Unknown websocket action received")
		client.Send(ws.NewErrorMessage("Unknown action: " + msg.Action))
		return
	}

	b, err := reply.Encode()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode websocket reply")
		return
	}
	client.Send(b)
}
