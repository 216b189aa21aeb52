package joinflow

import (
	"time"

	"groupwatch/models"
)

// Snapshot is one status fetch result plus the time it arrived. FetchedAt
// orders snapshots; the reconciler drops any snapshot that is not strictly
// newer than the last one it accepted.
type Snapshot struct {
	models.JoinRequestStatus
	FetchedAt time.Time
}

// Link returns the authorization link, or "" when none is issued.
func (s Snapshot) Link() string {
	if s.OAuthLink == nil {
		return ""
	}
	return *s.OAuthLink
}

// AuthCode returns the authorization code, or "" when none is issued.
func (s Snapshot) AuthCode() string {
	if s.OAuthCode == nil {
		return ""
	}
	return *s.OAuthCode
}

// Expired reports whether the issued link's expiry has passed. A snapshot
// without an expiry never expires.
func (s Snapshot) Expired(now time.Time) bool {
	return s.OAuthExpiresAt != nil && now.After(*s.OAuthExpiresAt)
}
