package models

import "time"

// Member is a completed group member: a join request that passed the OAuth
// handshake and was converted into an account exactly once.
type Member struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
