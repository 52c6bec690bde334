package domain

// RoomID names a logical delivery channel: a 1:1 chat, a group, or a user's
// personal notification channel.
type RoomID string

// PersonalRoom is the channel a user is always subscribed to; read receipts
// and direct notifications are delivered there.
func PersonalRoom(userID string) RoomID {
	return RoomID(userID)
}
