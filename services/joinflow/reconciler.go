package joinflow

import (
	"groupwatch/models"
)

// Update identifies a derived transition between two observed snapshots.
type Update int

const (
	// UpdateLinkCleared fires when a previously seen authorization link is
	// gone while the request stays accepted: an admin revoked it and a new
	// one must be generated.
	UpdateLinkCleared Update = iota
	// UpdateLinkIssued fires when the authorization link changed.
	UpdateLinkIssued
	// UpdateCodeChanged fires when the authorization code changed while the
	// link stayed the same.
	UpdateCodeChanged
	// UpdateStatusChanged fires on any request status transition.
	UpdateStatusChanged
	// UpdateCompleted accompanies the status transition into completed.
	UpdateCompleted
)

func (u Update) String() string {
	switch u {
	case UpdateLinkCleared:
		return "link-cleared"
	case UpdateLinkIssued:
		return "link-issued"
	case UpdateCodeChanged:
		return "code-changed"
	case UpdateStatusChanged:
		return "status-changed"
	case UpdateCompleted:
		return "completed"
	}
	return "unknown"
}

// Change is one transition derived from a snapshot diff. From and To are
// filled for status changes only.
type Change struct {
	Update Update
	From   models.RequestStatus
	To     models.RequestStatus
}

// Reconciler diffs each fresh snapshot against the previously accepted one
// and derives the transitions the rest of the engine reacts to. A snapshot
// whose FetchedAt is not strictly newer than the last accepted one is
// rejected outright, so a slow response resolving late can never roll state
// back. Not safe for concurrent use; the engine serializes access.
type Reconciler struct {
	prior      *Snapshot
	generation int
	renewed    bool
}

// Apply ingests a snapshot and returns the derived changes plus whether the
// snapshot was accepted. A stale snapshot returns (nil, false) and leaves
// every piece of state untouched.
//
// The first accepted snapshot initializes state without emitting
// transitions, with one exception: an accepted request that already has no
// link is reported as a cleared link, since an admin may have revoked it
// before this process ever saw it.
func (r *Reconciler) Apply(snap Snapshot) ([]Change, bool) {
	if r.prior != nil && !snap.FetchedAt.After(r.prior.FetchedAt) {
		return nil, false
	}

	var changes []Change
	if r.prior == nil {
		if snap.Status == models.RequestAccepted && snap.Link() == "" {
			r.renewed = true
			changes = append(changes, Change{Update: UpdateLinkCleared})
		}
		r.prior = &snap
		return changes, true
	}

	prior := *r.prior
	switch {
	case prior.Link() != "" && snap.Link() == "":
		r.renewed = true
		changes = append(changes, Change{Update: UpdateLinkCleared})
	case snap.Link() != "" && snap.Link() != prior.Link():
		r.generation++
		changes = append(changes, Change{Update: UpdateLinkIssued})
	case snap.AuthCode() != "" && snap.AuthCode() != prior.AuthCode():
		r.generation++
		changes = append(changes, Change{Update: UpdateCodeChanged})
	}

	if snap.Status != prior.Status {
		changes = append(changes, Change{Update: UpdateStatusChanged, From: prior.Status, To: snap.Status})
		if snap.Status == models.RequestCompleted {
			r.renewed = false
			changes = append(changes, Change{Update: UpdateCompleted})
		}
	}

	r.prior = &snap
	return changes, true
}

// Generation returns the link rotation counter. It increments exactly once
// per distinct (link, code) pair observed, never per fetch, so stale timers
// keyed on an old generation can be invalidated.
func (r *Reconciler) Generation() int {
	return r.generation
}

// Renewed reports whether a cleared link is still waiting for a reissue.
// The flag is sticky across polls and resets when the request completes.
func (r *Reconciler) Renewed() bool {
	return r.renewed
}

// Prior returns the last accepted snapshot, or nil before the first fetch.
func (r *Reconciler) Prior() *Snapshot {
	return r.prior
}
