package models

// PersistedIdentity is the locally stored identity a user claimed when
// submitting a join request. It survives restarts so an interrupted join can
// resume without retyping, and it carries the two flags that gate resumption.
//
// Submitted means the user (or a server-confirmed duplicate check) actually
// sent the request; it is never inferred from the mere presence of a stored
// record.
type PersistedIdentity struct {
	Email         string `json:"email,omitempty"`
	Username      string `json:"username,omitempty"`
	Submitted     bool   `json:"submitted,omitempty"`
	EmailMismatch bool   `json:"emailMismatchError,omitempty"`
}

// Resumable reports whether the record carries enough to restore the
// submitted flag: both identity fields must be present.
func (p PersistedIdentity) Resumable() bool {
	return p.Email != "" && p.Username != ""
}

// IdentityPatch is a partial update to a stored identity. Nil fields leave
// the stored value untouched, so concurrent writers cannot clobber fields
// they did not set.
type IdentityPatch struct {
	Email         *string
	Username      *string
	Submitted     *bool
	EmailMismatch *bool
}
