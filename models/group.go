package models

import "time"

// Group is a shared streaming group. Members join through invitations and
// inherit the group's addon set on completion.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AddonIDs    []string  `json:"addonIds,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
