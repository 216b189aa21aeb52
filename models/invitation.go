package models

import "time"

// Invitation represents a shareable invitation code that lets a user
// request membership in a group.
type Invitation struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	GroupID   string     `json:"groupId"`
	Label     string     `json:"label,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedBy string     `json:"createdBy"` // Account ID of the creator
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the invitation currently accepts new requests.
func (i *Invitation) IsOpen() bool {
	if !i.Enabled {
		return false
	}
	if i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt) {
		return false
	}
	return true
}
