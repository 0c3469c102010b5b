// Package editor implements the per-session document state machine: identity
// resolution, the ownership gate, dirty tracking, and the publish engine.
package editor

// BaselineID is the sentinel id of the unsaved default template. It never
// round-trips to the remote store.
const BaselineID = "initial-baseline"

// BaselineOwner labels the template content before anyone has saved it.
const BaselineOwner = "System"

// Identity is an opaque signed-in user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type AccessMode string

const (
	// AccessDirect is normal navigation: remembered id or baseline.
	AccessDirect AccessMode = "direct"
	// AccessShare is entry via a share link.
	AccessShare AccessMode = "share"
)

type Capability string

const (
	ReadOnly  Capability = "read-only"
	ReadWrite Capability = "read-write"
)

// Resolve picks the session's target document id from a share parameter, a
// remembered last-viewed id, and the baseline sentinel, in that order of
// precedence. Pure and synchronous; no network.
func Resolve(shareID, lastViewed string) (target string, mode AccessMode) {
	if shareID != "" {
		return shareID, AccessShare
	}
	if lastViewed != "" {
		return lastViewed, AccessDirect
	}
	return BaselineID, AccessDirect
}

// Gate computes the capability for the current (user, owner, mode) triple.
// The baseline template is writable by anyone since publishing it always
// mints a fresh id; otherwise only the signed-in owner gets read-write.
// Callers re-derive this on every snapshot delivery and auth change.
func Gate(user *Identity, ownerID, documentID string, mode AccessMode) Capability {
	if documentID == BaselineID && mode == AccessDirect {
		return ReadWrite
	}
	if user == nil {
		return ReadOnly
	}
	if user.ID == ownerID {
		return ReadWrite
	}
	return ReadOnly
}
