package models

import "time"

// Addon is a streaming addon identified by its manifest URL. Groups reference
// addons by ID; the manifest set is pushed to a member's account after they
// complete the join handshake.
type Addon struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ManifestURL string    `json:"manifestUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
