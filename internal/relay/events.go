package relay

import (
	"time"

	"chat-relay/internal/domain"
)

// Server→client events. Every frame carries a "type" tag so clients can
// dispatch without peeking at the payload.

type UserOnlineEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type UserOfflineEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type NewMessageEvent struct {
	Type      string             `json:"type"`
	ID        string             `json:"id"`
	Sender    string             `json:"sender"`
	Receiver  string             `json:"receiver"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      domain.MessageKind `json:"messageType"`
}

type UserTypingEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type MessageReadEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

type ChatHistoryEvent struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
}

// ErrorEvent is delivered to the originating connection only, never
// broadcast.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

const (
	EventUserOnline       = "userOnline"
	EventUserOffline      = "userOffline"
	EventNewMessage       = "newMessage"
	EventUserTyping       = "userTyping"
	EventMessageRead      = "messageRead"
	EventChatHistory      = "chatHistory"
	EventMessageError     = "messageError"
	EventChatHistoryError = "chatHistoryError"
)

func newMessageEvent(msg domain.Message) NewMessageEvent {
	return NewMessageEvent{
		Type:      EventNewMessage,
		ID:        msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Message:   msg.Body,
		Timestamp: msg.Timestamp,
		Kind:      msg.Kind,
	}
}
