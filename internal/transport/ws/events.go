package ws

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound events. Each client frame is a tagged object; required-field
// validation happens once here, so the router never does ad-hoc presence
// checks.

const (
	eventJoin           = "join"
	eventJoinRoom       = "joinRoom"
	eventSendMessage    = "sendMessage"
	eventTyping         = "typing"
	eventMarkAsRead     = "markAsRead"
	eventGetChatHistory = "getChatHistory"
)

type envelope struct {
	Type string `json:"type"`
}

type joinEvent struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

type joinRoomEvent struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId"`
}

type sendMessageEvent struct {
	Sender      string `json:"sender" validate:"required"`
	Receiver    string `json:"receiver" validate:"required"`
	Message     string `json:"message" validate:"required"`
	Room        string `json:"room" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text image audio"`
}

type typingEvent struct {
	Room     string `json:"room" validate:"required"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type markAsReadEvent struct {
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId"`
	Sender    string `json:"sender" validate:"required"`
}

type getChatHistoryEvent struct {
	Room  string `json:"room" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0"`
	Skip  int    `json:"skip" validate:"gte=0"`
}

var validate = validator.New()

// decodeEvent unmarshals and validates one inbound frame, returning the
// envelope tag and a well-formed command value, or an error describing the
// rejection.
func decodeEvent(data []byte) (string, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("bad frame: %w", err)
	}

	var cmd any
	switch env.Type {
	case eventJoin:
		cmd = &joinEvent{}
	case eventJoinRoom:
		cmd = &joinRoomEvent{}
	case eventSendMessage:
		cmd = &sendMessageEvent{}
	case eventTyping:
		cmd = &typingEvent{}
	case eventMarkAsRead:
		cmd = &markAsReadEvent{}
	case eventGetChatHistory:
		cmd = &getChatHistoryEvent{}
	default:
		return env.Type, nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return env.Type, nil, fmt.Errorf("bad %s payload: %w", env.Type, err)
	}
	if err := validate.Struct(cmd); err != nil {
		return env.Type, nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return env.Type, cmd, nil
}
