package joinflow

import (
	"time"

	"groupwatch/models"
)

// State is the single discriminator a view renders a join from. The engine
// derives it fresh after every accepted snapshot.
type State int

const (
	StateUnknown State = iota
	StateNotFound
	StateInvitationDisabled
	StateEmailMismatch
	StatePending
	StateRejected
	StateAcceptedNoLink
	StateRenewed
	StateAcceptedWithLink
	StateLinkExpired
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotFound:
		return "not-found"
	case StateInvitationDisabled:
		return "invitation-disabled"
	case StateEmailMismatch:
		return "email-mismatch"
	case StatePending:
		return "pending"
	case StateRejected:
		return "rejected"
	case StateAcceptedNoLink:
		return "accepted"
	case StateRenewed:
		return "renewed"
	case StateAcceptedWithLink:
		return "authorize"
	case StateLinkExpired:
		return "link-expired"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Terminal reports whether no further automated activity can change s.
func (s State) Terminal() bool {
	switch s {
	case StateNotFound, StateInvitationDisabled, StateEmailMismatch, StateRejected, StateCompleted:
		return true
	}
	return false
}

// DeriveState maps the stored identity and the freshest snapshot onto the
// state to render. A persisted email mismatch wins over everything: that
// request is dead until the user starts over with a matching account.
//
// An accepted snapshot without a link is Renewed when the reconciler saw a
// link disappear (or never saw one at all), otherwise plain accepted. An
// expired link is derived purely from the clock; the engine never signals
// expiry as an error.
func DeriveState(identity models.PersistedIdentity, snap *Snapshot, renewed bool, now time.Time) State {
	if identity.EmailMismatch {
		return StateEmailMismatch
	}
	if snap == nil {
		return StateNotFound
	}

	switch snap.Status {
	case models.RequestPending:
		return StatePending
	case models.RequestRejected:
		return StateRejected
	case models.RequestCompleted:
		return StateCompleted
	case models.RequestAccepted:
		if snap.Link() == "" {
			if renewed {
				return StateRenewed
			}
			return StateAcceptedNoLink
		}
		if snap.Expired(now) {
			return StateLinkExpired
		}
		return StateAcceptedWithLink
	}
	return StateUnknown
}
