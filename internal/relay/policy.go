package relay

import "chat-relay/internal/domain"

// RoomPolicy decides whether a user may subscribe to a room. The relay ships
// with no membership enforcement; a stricter deployment swaps the policy
// without touching the router.
type RoomPolicy interface {
	Allow(userID string, room domain.RoomID) bool
}

// OpenPolicy admits any user to any room.
type OpenPolicy struct{}

func (OpenPolicy) Allow(string, domain.RoomID) bool { return true }
