package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"monument/api/internal/drafts"
	"monument/api/internal/framework"
)

var (
	ErrSignInRequired  = errors.New("sign-in required")
	ErrSignInDeferred  = errors.New("publish deferred until sign-in completes")
	ErrReadOnly        = errors.New("document is read-only")
	ErrNameRequired    = errors.New("document name required")
	ErrConfirmRequired = errors.New("confirmation required")
	ErrSyncFailed      = errors.New("sync failed")
	ErrDocumentGone    = errors.New("document not found or access denied")
	ErrNoDocument      = errors.New("no document loaded")
)

// Record is a full remote document record: content plus ownership metadata.
type Record struct {
	ID         string
	Name       string
	OwnerID    string
	OwnerEmail string
	ForkedFrom string
	UpdatedAt  time.Time
	Doc        *framework.Document
}

// Publisher writes a full record snapshot to the remote store. The returned
// time is the server-assigned updatedAt.
type Publisher interface {
	Put(ctx context.Context, rec Record) (time.Time, error)
}

type pendingFork struct {
	doc  *framework.Document
	name string
	from string
}

// Session is the authoritative state container for one editing session. All
// transitions happen on discrete events: resolve, snapshot delivery, auth
// change, edit commit, publish request. Not safe for concurrent use; the
// owning service serializes access.
type Session struct {
	ID       string
	ClientID string

	mode       AccessMode
	docID      string
	name       string
	doc        *framework.Document
	user       *Identity
	ownerID    string
	ownerEmail string
	forkedFrom string
	capability Capability
	missing    bool

	lastSyncedFP   string
	lastSyncedName string

	pending *pendingFork

	state    drafts.Store
	pub      Publisher
	template *framework.Document
}

// Begin resolves the session's target id and seeds initial state. For the
// baseline sentinel the content comes from the template, overridden by a
// pending local draft for that id; for any other id the content arrives via
// the first watcher delivery.
func Begin(ctx context.Context, sessionID, clientID, shareID string, state drafts.Store, pub Publisher, template *framework.Document) (*Session, error) {
	lastViewed, err := state.LastViewed(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("read last-viewed: %w", err)
	}

	target, mode := Resolve(shareID, lastViewed)
	s := &Session{
		ID:       sessionID,
		ClientID: clientID,
		mode:     mode,
		docID:    target,
		state:    state,
		pub:      pub,
		template: template,
	}

	if target == BaselineID {
		s.ownerID = BaselineOwner
		baselineFP, err := template.Fingerprint()
		if err != nil {
			return nil, err
		}
		s.lastSyncedFP = baselineFP
		s.doc = template.Clone()

		draft, ok, err := state.PendingDraft(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("read pending draft: %w", err)
		}
		if ok && draft.DocumentID == BaselineID {
			s.doc = draft.Doc.Clone()
		}
	}

	s.capability = Gate(s.user, s.ownerID, s.docID, s.mode)
	return s, nil
}

func (s *Session) DocumentID() string     { return s.docID }
func (s *Session) Name() string           { return s.name }
func (s *Session) Mode() AccessMode       { return s.mode }
func (s *Session) Capability() Capability { return s.capability }
func (s *Session) Missing() bool          { return s.missing }
func (s *Session) User() *Identity        { return s.user }
func (s *Session) OwnerID() string        { return s.ownerID }
func (s *Session) OwnerEmail() string     { return s.ownerEmail }
func (s *Session) ForkedFrom() string     { return s.forkedFrom }

// Document returns the in-memory working copy. Callers must not retain it
// across transitions.
func (s *Session) Document() *framework.Document { return s.doc }

// HasDeferredPublish reports whether a fork is stashed awaiting sign-in.
func (s *Session) HasDeferredPublish() bool { return s.pending != nil }

// AuthChanged installs the new identity (nil for signed out) and re-derives
// the capability.
func (s *Session) AuthChanged(user *Identity) {
	s.user = user
	s.capability = Gate(s.user, s.ownerID, s.docID, s.mode)
}

// ApplySnapshot consumes one watcher delivery. A delivery for a different id
// is a leftover from a cancelled subscription and is dropped. When a pending
// draft targets this exact id and the viewer owns the record, the draft wins
// over the remote content; the last-synced snapshot still tracks the remote
// side either way.
func (s *Session) ApplySnapshot(ctx context.Context, rec Record) error {
	if rec.ID != s.docID {
		return nil
	}

	remoteFP, err := rec.Doc.Fingerprint()
	if err != nil {
		return err
	}

	s.doc = rec.Doc.Clone()
	if s.user != nil && s.user.ID == rec.OwnerID {
		draft, ok, err := s.state.PendingDraft(ctx, s.ClientID)
		if err != nil {
			return fmt.Errorf("read pending draft: %w", err)
		}
		if ok && draft.DocumentID == rec.ID {
			s.doc = draft.Doc.Clone()
		}
	}

	s.name = rec.Name
	s.ownerID = rec.OwnerID
	s.ownerEmail = rec.OwnerEmail
	s.forkedFrom = rec.ForkedFrom
	s.lastSyncedFP = remoteFP
	s.lastSyncedName = rec.Name
	s.missing = false
	s.capability = Gate(s.user, s.ownerID, s.docID, s.mode)

	if !s.ownedByViewer() && s.docID != BaselineID {
		if err := s.state.TouchRecentShare(ctx, s.ClientID, drafts.ShareEntry{
			ID:         rec.ID,
			Name:       rec.Name,
			OwnerEmail: rec.OwnerEmail,
		}); err != nil {
			return fmt.Errorf("update recent shares: %w", err)
		}
	}
	return nil
}

// DocumentMissing marks the current id terminally unavailable. Recovery
// requires navigating to a different id.
func (s *Session) DocumentMissing() {
	s.missing = true
	s.capability = ReadOnly
}

func (s *Session) ownedByViewer() bool {
	return s.user != nil && s.user.ID == s.ownerID
}

// EditPractice replaces one practice's text in the working copy and persists
// the draft. A bad address is a silent no-op; a read-only session rejects
// the edit with no state change.
func (s *Session) EditPractice(ctx context.Context, domainID, index int, text string) error {
	if s.missing {
		return ErrDocumentGone
	}
	if s.capability != ReadWrite {
		return ErrReadOnly
	}
	if s.doc == nil {
		return ErrNoDocument
	}
	if err := s.doc.SetPracticeText(domainID, index, text); err != nil {
		return nil
	}
	return s.saveDraft(ctx)
}

// Rename changes the working name. The name participates in the dirty check.
func (s *Session) Rename(name string) error {
	if s.missing {
		return ErrDocumentGone
	}
	if s.capability != ReadWrite {
		return ErrReadOnly
	}
	s.name = name
	return nil
}

func (s *Session) saveDraft(ctx context.Context) error {
	err := s.state.SavePendingDraft(ctx, s.ClientID, drafts.Draft{
		DocumentID: s.docID,
		Doc:        s.doc.Clone(),
	})
	if err != nil {
		return fmt.Errorf("save pending draft: %w", err)
	}
	return nil
}

// Dirty reports whether the working document or name diverges from the
// last-synced snapshot.
func (s *Session) Dirty() (bool, error) {
	if s.doc == nil {
		return false, nil
	}
	fp, err := s.doc.Fingerprint()
	if err != nil {
		return false, err
	}
	return fp != s.lastSyncedFP || s.name != s.lastSyncedName, nil
}

// Publish writes the working document under the current id, or mints a new
// id when the session still points at the baseline sentinel. On success the
// dirty gap closes and the client's last-viewed pointer moves. A failed
// remote write surfaces ErrSyncFailed and leaves every in-memory edit
// intact for retry.
func (s *Session) Publish(ctx context.Context, suppliedName string) (Record, error) {
	if s.missing {
		return Record{}, ErrDocumentGone
	}
	if s.user == nil {
		return Record{}, ErrSignInRequired
	}
	if s.capability != ReadWrite {
		return Record{}, ErrReadOnly
	}
	if s.doc == nil {
		return Record{}, ErrNoDocument
	}

	id := s.docID
	name := s.name
	forkedFrom := s.forkedFrom
	if id == BaselineID {
		if suppliedName == "" {
			return Record{}, ErrNameRequired
		}
		id = uuid.NewString()
		name = suppliedName
		forkedFrom = ""
	} else if suppliedName != "" {
		name = suppliedName
	}

	return s.write(ctx, Record{
		ID:         id,
		Name:       name,
		OwnerID:    s.user.ID,
		OwnerEmail: s.user.Email,
		ForkedFrom: forkedFrom,
		Doc:        s.doc.Clone(),
	})
}

// Fork always mints a new identifier and records the originating id. Without
// a signed-in user the content and name are stashed and the publish is
// deferred; ResumeDeferred completes it after sign-in.
func (s *Session) Fork(ctx context.Context, suppliedName string) (Record, error) {
	if s.doc == nil {
		return Record{}, ErrNoDocument
	}
	if suppliedName == "" {
		return Record{}, ErrNameRequired
	}
	if s.user == nil {
		s.pending = &pendingFork{
			doc:  s.doc.Clone(),
			name: suppliedName,
			from: s.docID,
		}
		return Record{}, ErrSignInDeferred
	}
	return s.publishFork(ctx, s.doc.Clone(), suppliedName, s.docID)
}

// ResumeDeferred publishes a fork stashed by an unauthenticated Fork call.
// The stashed content is published unchanged.
func (s *Session) ResumeDeferred(ctx context.Context) (Record, error) {
	if s.user == nil {
		return Record{}, ErrSignInRequired
	}
	if s.pending == nil {
		return Record{}, ErrNoDocument
	}
	stash := s.pending
	rec, err := s.publishFork(ctx, stash.doc, stash.name, stash.from)
	if err != nil {
		return Record{}, err
	}
	s.pending = nil
	return rec, nil
}

func (s *Session) publishFork(ctx context.Context, doc *framework.Document, name, from string) (Record, error) {
	forkedFrom := from
	if forkedFrom == BaselineID {
		// The sentinel never exists remotely, so it cannot be an origin.
		forkedFrom = ""
	}
	return s.write(ctx, Record{
		ID:         uuid.NewString(),
		Name:       name,
		OwnerID:    s.user.ID,
		OwnerEmail: s.user.Email,
		ForkedFrom: forkedFrom,
		Doc:        doc,
	})
}

func (s *Session) write(ctx context.Context, rec Record) (Record, error) {
	updatedAt, err := s.pub.Put(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	rec.UpdatedAt = updatedAt

	fp, err := rec.Doc.Fingerprint()
	if err != nil {
		return Record{}, err
	}

	s.docID = rec.ID
	s.name = rec.Name
	s.doc = rec.Doc.Clone()
	s.ownerID = rec.OwnerID
	s.ownerEmail = rec.OwnerEmail
	s.forkedFrom = rec.ForkedFrom
	s.mode = AccessDirect
	s.lastSyncedFP = fp
	s.lastSyncedName = rec.Name
	s.capability = Gate(s.user, s.ownerID, s.docID, s.mode)

	if err := s.state.SetLastViewed(ctx, s.ClientID, rec.ID); err != nil {
		return Record{}, fmt.Errorf("update last-viewed: %w", err)
	}
	if err := s.state.ClearPendingDraft(ctx, s.ClientID); err != nil {
		return Record{}, fmt.Errorf("clear pending draft: %w", err)
	}
	return rec, nil
}

// ResetBaseline restores the template into the working copy. When the viewer
// owns the current remote document the reset also rewrites the remote record;
// the pending draft is discarded in every case.
func (s *Session) ResetBaseline(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmRequired
	}
	if s.missing {
		return ErrDocumentGone
	}
	if s.capability != ReadWrite {
		return ErrReadOnly
	}

	s.doc = s.template.Clone()

	if s.ownedByViewer() && s.docID != BaselineID {
		if _, err := s.write(ctx, Record{
			ID:         s.docID,
			Name:       s.name,
			OwnerID:    s.user.ID,
			OwnerEmail: s.user.Email,
			ForkedFrom: s.forkedFrom,
			Doc:        s.doc.Clone(),
		}); err != nil {
			return err
		}
		return nil
	}

	baselineFP, err := s.template.Fingerprint()
	if err != nil {
		return err
	}
	s.lastSyncedFP = baselineFP
	if err := s.state.ClearPendingDraft(ctx, s.ClientID); err != nil {
		return fmt.Errorf("clear pending draft: %w", err)
	}
	return nil
}

// RecentShares reads the client's recently-shared ledger.
func (s *Session) RecentShares(ctx context.Context) ([]drafts.ShareEntry, error) {
	return s.state.RecentShares(ctx, s.ClientID)
}
