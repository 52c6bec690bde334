// Package domain contains entity without logic, just meta-data
package domain

import "time"

// Presence is the durable online/offline record of a user, independent of
// any single connection. Upserted on join and on disconnect.
type Presence struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Online   bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Touch records a presence transition at the given instant.
func (p *Presence) Touch(online bool, at time.Time) {
	p.Online = online
	p.LastSeen = at
}
