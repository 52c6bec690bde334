// Package ws adapts websocket connections onto the relay core. One goroutine
// pair per connection; inbound frames are decoded into typed commands at
// this boundary.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/relay"
)

type Controller struct {
	Relay *relay.Relay
	Cfg   *config.Config
}

func NewController(r *relay.Relay, cfg *config.Config) *Controller {
	return &Controller{Relay: r, Cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func relayConnID(id string) relay.ConnID { return relay.ConnID(id) }

// Handle upgrades the request, registers the connection with the relay, and
// runs the pumps until the transport dies.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	connID := uuid.NewString()
	wc := newWSConn(conn, ctl.Cfg.SendBuffer)
	ctl.Relay.Registry.Register(relayConnID(connID), wc)
	log.Info().Str("module", "ws").Str("conn", connID).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, wc)
	}()
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, wc)
	}()
}

// handleEvent dispatches one inbound frame. Malformed input is dropped with
// a log line; only the request/response shaped events answer rejections with
// a named error event.
func (ctl *Controller) handleEvent(connID string, c *wsConn, data []byte) {
	id := relayConnID(connID)
	typ, cmd, err := decodeEvent(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", connID).Msg("rejected event")
		switch typ {
		case eventSendMessage:
			ctl.Relay.SendError(id, "failed to send message")
		case eventGetChatHistory:
			ctl.Relay.HistoryError(id, "failed to load chat history")
		}
		return
	}

	switch ev := cmd.(type) {
	case *joinEvent:
		ctl.Relay.Join(id, relay.JoinRequest{
			UserID:   ev.UserID,
			Username: ev.Username,
			Email:    ev.Email,
			Avatar:   ev.Avatar,
		})
	case *joinRoomEvent:
		ctl.Relay.JoinRoom(id, ev.UserID, domain.RoomID(ev.RoomID))
	case *sendMessageEvent:
		ctl.Relay.SendMessage(id, relay.SendRequest{
			Sender:   ev.Sender,
			Receiver: ev.Receiver,
			Body:     ev.Message,
			Room:     ev.Room,
			Kind:     ev.MessageType,
		})
	case *typingEvent:
		ctl.Relay.Typing(id, domain.RoomID(ev.Room), ev.User, ev.IsTyping)
	case *markAsReadEvent:
		ctl.Relay.MarkAsRead(id, ev.MessageID, ev.UserID, ev.Sender)
	case *getChatHistoryEvent:
		ctl.Relay.History(id, ev.Room, ev.Limit, ev.Skip)
	}
}
