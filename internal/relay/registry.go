package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"chat-relay/internal/domain"
)

// ConnID identifies one live transport connection. Ephemeral and
// process-local; never persisted.
type ConnID string

// Sender is the transport endpoint of a connection. Owned by the adapter;
// the adapter must Close() it.
type Sender interface {
	TrySend(data []byte) error
	Close()
}

type binding struct {
	sender   Sender
	userID   string
	username string
	rooms    map[domain.RoomID]struct{}
}

// Peer is a read-only snapshot of one registered connection.
type Peer struct {
	ConnID   ConnID
	UserID   string
	Username string
	Sender   Sender
}

// Registry maintains the live connection->user bindings, the per-user
// binding set (a user may be connected from several devices), and the
// connection->room delivery sets. All state is in-memory and dies with the
// process.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]*binding
	byUser map[string]map[ConnID]struct{}
	rooms  map[domain.RoomID]map[ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[ConnID]*binding),
		byUser: make(map[string]map[ConnID]struct{}),
		rooms:  make(map[domain.RoomID]map[ConnID]struct{}),
	}
}

// Register records a new transport connection before any identity is known.
func (r *Registry) Register(id ConnID, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &binding{sender: s, rooms: make(map[domain.RoomID]struct{})}
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Msg("connection registered")
}

// BindUser associates a registered connection with a user identity.
// Presence is "online" while at least one binding exists for the user.
func (r *Registry) BindUser(id ConnID, userID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[id]
	if !ok {
		return false
	}
	// A connection re-binding to a different user must release its previous
	// binding, or the old user keeps a phantom live connection.
	if b.userID != "" && b.userID != userID {
		r.dropUserBinding(id, b.userID)
	}
	b.userID = userID
	b.username = username
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[ConnID]struct{})
		r.byUser[userID] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("user", userID).Msg("bound user")
	return true
}

// Deregister removes the connection, its room subscriptions, and its user
// binding. It reports the bound user (empty if the connection never joined)
// and whether this was the user's last live binding.
func (r *Registry) Deregister(id ConnID) (userID, username string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[id]
	if !ok {
		return "", "", false
	}
	for room := range b.rooms {
		r.dropFromRoom(id, room)
	}
	delete(r.conns, id)

	if b.userID == "" {
		return "", "", false
	}
	last = r.dropUserBinding(id, b.userID)
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("user", b.userID).Bool("last", last).Msg("connection deregistered")
	return b.userID, b.username, last
}

// JoinRoom adds the connection to the room's delivery set.
func (r *Registry) JoinRoom(id ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[id]
	if !ok {
		return false
	}
	b.rooms[room] = struct{}{}
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[ConnID]struct{})
		r.rooms[room] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("room", string(room)).Msg("joined room")
	return true
}

// RoomsOf lists the rooms a connection is subscribed to.
func (r *Registry) RoomsOf(id ConnID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(b.rooms))
	for room := range b.rooms {
		out = append(out, room)
	}
	return out
}

// ConnectionsIn snapshots the delivery set of a room.
func (r *Registry) ConnectionsIn(room domain.RoomID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[room]
	out := make([]Peer, 0, len(set))
	for id := range set {
		if b, ok := r.conns[id]; ok {
			out = append(out, r.snapshot(id, b))
		}
	}
	return out
}

// Peers snapshots every registered connection.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.conns))
	for id, b := range r.conns {
		out = append(out, r.snapshot(id, b))
	}
	return out
}

// Peer returns the snapshot of a single connection.
func (r *Registry) Peer(id ConnID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[id]
	if !ok {
		return Peer{}, false
	}
	return r.snapshot(id, b), true
}

// Online reports whether the user has at least one live binding.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) snapshot(id ConnID, b *binding) Peer {
	return Peer{ConnID: id, UserID: b.userID, Username: b.username, Sender: b.sender}
}

// dropUserBinding must be called with r.mu held. It reports whether the
// user's binding set became empty.
func (r *Registry) dropUserBinding(id ConnID, userID string) bool {
	set, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// dropFromRoom must be called with r.mu held.
func (r *Registry) dropFromRoom(id ConnID, room domain.RoomID) {
	set, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
}
