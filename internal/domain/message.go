package domain

import (
	"errors"
	"time"
)

var ErrUnknownKind = errors.New("unknown message kind")

// MessageKind discriminates the payload of a message body. Non-text kinds
// carry a reference (object-storage URL), never raw bytes.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
)

// ParseKind maps a wire value to a MessageKind. The empty string defaults
// to text, matching lenient client behavior.
func ParseKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case "":
		return KindText, nil
	case KindText, KindImage, KindAudio:
		return MessageKind(s), nil
	default:
		return "", ErrUnknownKind
	}
}

// Message is a single chat message. ID and Timestamp are assigned by the
// store at persistence time; everything but IsRead is immutable afterwards.
// JSON tags double as the wire and storage encoding.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Body      string      `json:"message"`
	Room      string      `json:"room"`
	Kind      MessageKind `json:"messageType"`
	Timestamp time.Time   `json:"timestamp"`
	IsRead    bool        `json:"isRead"`
}
