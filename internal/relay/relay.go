// Package relay is the core of the server: the connection registry plus the
// message router. It owns no transport; adapters hand it Senders and typed
// requests.
package relay

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"chat-relay/internal/domain"
)

// HistoryStore is the durable collaborator behind the router. *store.Store
// satisfies it; tests substitute a stub.
type HistoryStore interface {
	Append(msg domain.Message) (domain.Message, error)
	History(room string, limit, offset int) ([]domain.Message, error)
	SetRead(id string) error
	UpsertPresence(p domain.Presence) error
	ListPresence() ([]domain.Presence, error)
}

type JoinRequest struct {
	UserID   string
	Username string
	Email    string
	Avatar   string
}

type SendRequest struct {
	Sender   string
	Receiver string
	Body     string
	Room     string
	Kind     string
}

type Relay struct {
	Registry *Registry
	Store    HistoryStore
	Policy   RoomPolicy
}

func New(reg *Registry, st HistoryStore, policy RoomPolicy) *Relay {
	if policy == nil {
		policy = OpenPolicy{}
	}
	return &Relay{Registry: reg, Store: st, Policy: policy}
}

// Join binds a connection to a user identity, flips the durable presence to
// online, subscribes the connection to the user's personal room, and tells
// everyone else. A missing user id makes the whole thing a logged no-op:
// clients race their startup sequence and expect the relay to shrug.
func (r *Relay) Join(connID ConnID, req JoinRequest) {
	if req.UserID == "" {
		log.Warn().Str("module", "relay").Str("conn", string(connID)).Msg("join without user id, ignoring")
		return
	}
	if !r.Registry.BindUser(connID, req.UserID, req.Username) {
		log.Warn().Str("module", "relay").Str("conn", string(connID)).Msg("join for unknown connection")
		return
	}

	p := domain.Presence{
		UserID:   req.UserID,
		Username: req.Username,
		Email:    req.Email,
		Avatar:   req.Avatar,
	}
	p.Touch(true, time.Now().UTC())
	if err := r.Store.UpsertPresence(p); err != nil {
		// Best-effort: the live binding is authoritative while connected.
		log.Error().Err(err).Str("module", "relay").Str("user", req.UserID).Msg("presence upsert on join failed")
	}

	r.Registry.JoinRoom(connID, domain.PersonalRoom(req.UserID))

	r.broadcastExcept(connID, UserOnlineEvent{
		Type:     EventUserOnline,
		UserID:   req.UserID,
		Username: req.Username,
	})
	log.Info().Str("module", "relay").Str("user", req.UserID).Str("conn", string(connID)).Msg("user joined")
}

// JoinRoom subscribes the connection to a room's delivery set, gated only by
// the pluggable policy (open by default).
func (r *Relay) JoinRoom(connID ConnID, userID string, room domain.RoomID) {
	if !r.Policy.Allow(userID, room) {
		log.Warn().Str("module", "relay").Str("user", userID).Str("room", string(room)).Msg("room join denied by policy")
		return
	}
	if !r.Registry.JoinRoom(connID, room) {
		log.Warn().Str("module", "relay").Str("conn", string(connID)).Str("room", string(room)).Msg("room join for unknown connection")
	}
}

// SendMessage persists the message and, only once the write succeeded, fans
// it out to every connection subscribed to the room (the sender included).
// On a storage failure the originating connection alone gets a messageError.
func (r *Relay) SendMessage(connID ConnID, req SendRequest) {
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		log.Warn().Str("module", "relay").Str("kind", req.Kind).Msg("unknown message kind, dropping")
		r.sendTo(connID, ErrorEvent{Type: EventMessageError, Error: "unknown message type"})
		return
	}

	stored, err := r.Store.Append(domain.Message{
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Body:     req.Body,
		Room:     req.Room,
		Kind:     kind,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("room", req.Room).Msg("message persistence failed")
		r.sendTo(connID, ErrorEvent{Type: EventMessageError, Error: "failed to send message"})
		return
	}

	r.broadcastRoom(domain.RoomID(stored.Room), newMessageEvent(stored))
	log.Debug().Str("module", "relay").Str("id", stored.ID).Str("room", stored.Room).Msg("message relayed")
}

// Typing is a pure ephemeral broadcast to the room, excluding the typist.
// Never persisted, never acknowledged.
func (r *Relay) Typing(connID ConnID, room domain.RoomID, user string, isTyping bool) {
	ev := UserTypingEvent{Type: EventUserTyping, User: user, IsTyping: isTyping}
	data := marshalEvent(ev)
	if data == nil {
		return
	}
	for _, peer := range r.Registry.ConnectionsIn(room) {
		if peer.ConnID == connID {
			continue
		}
		r.trySend(peer, data)
	}
}

// MarkAsRead flips the read flag (no-op when already set or unknown) and
// notifies the original sender's personal room.
func (r *Relay) MarkAsRead(connID ConnID, messageID, readerID, sender string) {
	if err := r.Store.SetRead(messageID); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("message_id", messageID).Msg("mark as read failed")
		return
	}
	r.broadcastRoom(domain.PersonalRoom(sender), MessageReadEvent{
		Type:      EventMessageRead,
		MessageID: messageID,
		ReadBy:    readerID,
	})
}

// History replays a chronological page of a room's log to the requesting
// connection only.
func (r *Relay) History(connID ConnID, room string, limit, offset int) {
	messages, err := r.Store.History(room, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("room", room).Msg("history query failed")
		r.sendTo(connID, ErrorEvent{Type: EventChatHistoryError, Error: "failed to load chat history"})
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	r.sendTo(connID, ChatHistoryEvent{Type: EventChatHistory, Messages: messages})
}

// Disconnect tears down the binding. Only when the user's last binding is
// gone does presence flip to offline and the userOffline broadcast go out;
// other devices keep the user online.
func (r *Relay) Disconnect(connID ConnID) {
	userID, username, last := r.Registry.Deregister(connID)
	if userID == "" || !last {
		return
	}

	p := domain.Presence{UserID: userID, Username: username}
	p.Touch(false, time.Now().UTC())
	if err := r.Store.UpsertPresence(p); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("user", userID).Msg("presence upsert on disconnect failed")
	}

	r.broadcastExcept(connID, UserOfflineEvent{
		Type:     EventUserOffline,
		UserID:   userID,
		Username: username,
	})
	log.Info().Str("module", "relay").Str("user", userID).Msg("user went offline")
}

// SendError surfaces a send-path failure to one connection only.
func (r *Relay) SendError(connID ConnID, msg string) {
	r.sendTo(connID, ErrorEvent{Type: EventMessageError, Error: msg})
}

// HistoryError surfaces a replay failure to one connection only.
func (r *Relay) HistoryError(connID ConnID, msg string) {
	r.sendTo(connID, ErrorEvent{Type: EventChatHistoryError, Error: msg})
}

func (r *Relay) sendTo(connID ConnID, v any) {
	data := marshalEvent(v)
	if data == nil {
		return
	}
	if peer, ok := r.Registry.Peer(connID); ok {
		r.trySend(peer, data)
	}
}

func (r *Relay) broadcastRoom(room domain.RoomID, v any) {
	data := marshalEvent(v)
	if data == nil {
		return
	}
	for _, peer := range r.Registry.ConnectionsIn(room) {
		r.trySend(peer, data)
	}
}

// broadcastExcept fans out to every registered connection but one. Used for
// the global presence events.
func (r *Relay) broadcastExcept(connID ConnID, v any) {
	data := marshalEvent(v)
	if data == nil {
		return
	}
	for _, peer := range r.Registry.Peers() {
		if peer.ConnID == connID {
			continue
		}
		r.trySend(peer, data)
	}
}

func (r *Relay) trySend(peer Peer, data []byte) {
	if err := peer.Sender.TrySend(data); err != nil {
		log.Debug().Err(err).Str("module", "relay").Str("conn", string(peer.ConnID)).Msg("dropped frame")
	}
}

func marshalEvent(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("event marshal failed")
		return nil
	}
	return data
}
