package models

import "time"

// RequestStatus is the lifecycle state of a join request as reported by the
// backend. A request moves pending -> accepted -> completed, or pending ->
// rejected. The accepted phase may cycle through several OAuth links.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCompleted RequestStatus = "completed"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted
}

// Valid reports whether s is one of the known lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected, RequestCompleted:
		return true
	}
	return false
}

// JoinRequest is the server-side record of a membership request, one row per
// (invitation code, email) pair.
type JoinRequest struct {
	ID             string        `json:"id"`
	InvitationCode string        `json:"invitationCode"`
	Email          string        `json:"email"`
	Username       string        `json:"username"`
	Status         RequestStatus `json:"status"`
	OAuthLink      string        `json:"oauthLink,omitempty"`
	OAuthCode      string        `json:"oauthCode,omitempty"`
	OAuthExpiresAt *time.Time    `json:"oauthExpiresAt,omitempty"`
	MemberID       string        `json:"memberId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// JoinRequestStatus is the wire shape of a status poll response. Pointer
// fields distinguish "absent" from "empty": an accepted request whose link
// was cleared reports a nil OAuthLink, which clients treat as a renewal.
type JoinRequestStatus struct {
	Status         RequestStatus `json:"status"`
	OAuthLink      *string       `json:"oauthLink,omitempty"`
	OAuthCode      *string       `json:"oauthCode,omitempty"`
	OAuthExpiresAt *time.Time    `json:"oauthExpiresAt,omitempty"`
	GroupName      string        `json:"groupName,omitempty"`
	Email          string        `json:"email,omitempty"`
	Username       string        `json:"username,omitempty"`
}
