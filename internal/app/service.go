package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"monument/api/internal/auth"
	"monument/api/internal/authlink"
	"monument/api/internal/config"
	"monument/api/internal/drafts"
	"monument/api/internal/editor"
	"monument/api/internal/framework"
	"monument/api/internal/search"
	"monument/api/internal/seed"
	"monument/api/internal/store"
	"monument/api/internal/util"
	"monument/api/internal/watch"
)

// Session is an authenticated API session issued after sign-in link redemption.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetDocument(context.Context, string) (store.DocumentRecord, error)
	PutDocument(context.Context, store.DocumentRecord) (time.Time, error)
	ListDocumentsByOwner(context.Context, string) ([]store.DocumentRecord, error)
	CountDocuments(context.Context) (int, error)
	CreateSignInLink(context.Context, string, string, time.Time) error
	ConsumeSignInLink(context.Context, string) (string, error)
	Ping(context.Context) error
}

// refreshStore holds refresh tokens. Redis in production, Postgres fallback.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, email string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type editSessionRecord struct {
	mu        sync.Mutex
	sess      *editor.Session
	expiresAt time.Time
}

type Service struct {
	cfg     config.Config
	store   dataStore
	refresh refreshStore
	state   drafts.Store
	hub     *watch.Hub
	search  *search.Service
	seed    *seed.Source
	links   *authlink.Service

	editTTL      time.Duration
	editMu       sync.Mutex
	editSessions map[string]*editSessionRecord
}

// New wires a service that keeps refresh tokens in Postgres.
func New(cfg config.Config, pg *store.PostgresStore, state drafts.Store, seedSrc *seed.Source, links *authlink.Service, searchSvc *search.Service, hub *watch.Hub) *Service {
	return newService(cfg, pg, pg, state, seedSrc, links, searchSvc, hub)
}

// NewWithSessionStore wires a service with a dedicated refresh-token store.
func NewWithSessionStore(cfg config.Config, pg *store.PostgresStore, refresh refreshStore, state drafts.Store, seedSrc *seed.Source, links *authlink.Service, searchSvc *search.Service, hub *watch.Hub) *Service {
	return newService(cfg, pg, refresh, state, seedSrc, links, searchSvc, hub)
}

func newService(cfg config.Config, ds dataStore, refresh refreshStore, state drafts.Store, seedSrc *seed.Source, links *authlink.Service, searchSvc *search.Service, hub *watch.Hub) *Service {
	return &Service{
		cfg:          cfg,
		store:        ds,
		refresh:      refresh,
		state:        state,
		hub:          hub,
		search:       searchSvc,
		seed:         seedSrc,
		links:        links,
		editTTL:      2 * time.Hour,
		editSessions: make(map[string]*editSessionRecord),
	}
}

// Bootstrap seeds the default document on an empty store.
func (s *Service) Bootstrap(ctx context.Context) error {
	return seed.Bootstrap(ctx, s.store, s.seed)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Auth ---

// RequestSignInLink mints and mails a one-time sign-in link. A delivery
// failure is surfaced inline; the caller retries.
func (s *Service) RequestSignInLink(ctx context.Context, email string) (map[string]any, error) {
	result, err := s.links.RequestLink(ctx, email)
	if err != nil {
		if errors.Is(err, authlink.ErrInvalidEmail) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A valid email address is required", nil)
		}
		return nil, domainError(http.StatusBadGateway, "LINK_SEND_FAILED", "Could not send the sign-in link", nil)
	}

	payload := map[string]any{"ok": true}
	if result.DevToken != "" {
		// SMTP unconfigured: hand the token back so local setups can
		// complete sign-in without a mailbox.
		payload["devToken"] = result.DevToken
	}
	return payload, nil
}

// CompleteSignIn redeems a link token and issues an API session. When the
// caller names an editing session, the new identity is installed there and
// any fork stashed before sign-in is published.
func (s *Service) CompleteSignIn(ctx context.Context, token, editSessionID string) (map[string]any, error) {
	user, err := s.links.CompleteSignIn(ctx, token)
	if err != nil {
		return nil, domainError(http.StatusUnauthorized, "INVALID_LINK", "Sign-in link is invalid or expired", nil)
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
	}

	if editSessionID != "" {
		rec, ok := s.lookupEditSession(editSessionID)
		if ok {
			rec.mu.Lock()
			rec.sess.AuthChanged(&editor.Identity{ID: user.ID, Email: user.Email})
			if rec.sess.HasDeferredPublish() {
				published, err := rec.sess.ResumeDeferred(ctx)
				if err != nil {
					rec.mu.Unlock()
					return nil, err
				}
				payload["published"] = map[string]any{
					"id":   published.ID,
					"name": published.Name,
				}
			}
			state, err := s.sessionState(ctx, editSessionID, rec.sess)
			rec.mu.Unlock()
			if err != nil {
				return nil, err
			}
			payload["session"] = state
		}
	}

	return payload, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.Email, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- Editing sessions ---

// Put implements editor.Publisher: it writes the full record, then fans the
// new state out to watchers and the search index. Indexing is best-effort.
func (s *Service) Put(ctx context.Context, rec editor.Record) (time.Time, error) {
	data, err := json.Marshal(rec.Doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal document: %w", err)
	}

	updatedAt, err := s.store.PutDocument(ctx, store.DocumentRecord{
		ID:         rec.ID,
		Name:       rec.Name,
		OwnerID:    rec.OwnerID,
		OwnerEmail: rec.OwnerEmail,
		ForkedFrom: rec.ForkedFrom,
		Data:       data,
	})
	if err != nil {
		return time.Time{}, err
	}

	rec.UpdatedAt = updatedAt
	s.hub.Broadcast(rec)
	s.search.IndexRecord(search.Record{
		ID:         rec.ID,
		Name:       rec.Name,
		OwnerID:    rec.OwnerID,
		OwnerEmail: rec.OwnerEmail,
		ForkedFrom: rec.ForkedFrom,
	})
	return updatedAt, nil
}

// BeginEditSession opens an editing session for a client. The share id, when
// present, wins over the client's remembered last-viewed id. Non-baseline
// targets get their first snapshot delivered synchronously.
func (s *Service) BeginEditSession(ctx context.Context, user *editor.Identity, clientID, shareID string) (map[string]any, error) {
	if clientID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientId is required", nil)
	}

	template, err := s.seed.Template(ctx)
	if err != nil {
		return nil, domainError(http.StatusServiceUnavailable, "TEMPLATE_UNAVAILABLE", "Baseline template could not be loaded", nil)
	}

	sessionID := util.NewID("edit")
	sess, err := editor.Begin(ctx, sessionID, clientID, shareID, s.state, s, template)
	if err != nil {
		return nil, err
	}
	if user != nil {
		sess.AuthChanged(user)
	}

	if sess.DocumentID() != editor.BaselineID {
		if err := s.deliverSnapshot(ctx, sess); err != nil {
			return nil, err
		}
	}

	rec := &editSessionRecord{sess: sess, expiresAt: time.Now().Add(s.editTTL)}
	s.editMu.Lock()
	s.editSessions[sessionID] = rec
	s.editMu.Unlock()

	return s.sessionState(ctx, sessionID, sess)
}

// deliverSnapshot fetches the session's target and applies it: a missing row
// is the terminal not-found state, any other store failure is the distinct
// no-access outcome. A confirmed missing row also notifies watchers of that
// document and evicts any stale search index entry.
func (s *Service) deliverSnapshot(ctx context.Context, sess *editor.Session) error {
	stored, err := s.store.GetDocument(ctx, sess.DocumentID())
	if errors.Is(err, sql.ErrNoRows) {
		sess.DocumentMissing()
		s.hub.BroadcastNotFound(sess.DocumentID())
		s.search.DeleteRecord(sess.DocumentID())
		return nil
	}
	if err != nil {
		return domainError(http.StatusBadGateway, "NO_ACCESS", "Document could not be loaded", nil)
	}

	rec, err := toEditorRecord(stored)
	if err != nil {
		return err
	}
	return sess.ApplySnapshot(ctx, rec)
}

func toEditorRecord(stored store.DocumentRecord) (editor.Record, error) {
	doc, err := framework.Parse(stored.Data)
	if err != nil {
		return editor.Record{}, fmt.Errorf("parse stored document %s: %w", stored.ID, err)
	}
	return editor.Record{
		ID:         stored.ID,
		Name:       stored.Name,
		OwnerID:    stored.OwnerID,
		OwnerEmail: stored.OwnerEmail,
		ForkedFrom: stored.ForkedFrom,
		UpdatedAt:  stored.UpdatedAt,
		Doc:        doc,
	}, nil
}

func (s *Service) lookupEditSession(sessionID string) (*editSessionRecord, bool) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	rec, ok := s.editSessions[sessionID]
	if !ok {
		return nil, false
	}
	if time.Now().After(rec.expiresAt) {
		delete(s.editSessions, sessionID)
		return nil, false
	}
	rec.expiresAt = time.Now().Add(s.editTTL)
	return rec, true
}

var errEditSessionNotFound = domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Editing session not found or expired", nil)

// withEditSession runs fn with the locked session, keeping the gate in step
// with the caller's current identity first.
func (s *Service) withEditSession(sessionID string, user *editor.Identity, fn func(*editor.Session) error) error {
	rec, ok := s.lookupEditSession(sessionID)
	if !ok {
		return errEditSessionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sess.AuthChanged(user)
	return fn(rec.sess)
}

func (s *Service) EditSessionState(ctx context.Context, sessionID string, user *editor.Identity) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		state, err := s.sessionState(ctx, sessionID, sess)
		if err != nil {
			return err
		}
		payload = state
		return nil
	})
	return payload, err
}

func (s *Service) EditPractice(ctx context.Context, sessionID string, user *editor.Identity, domainID, index int, text string) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		if err := sess.EditPractice(ctx, domainID, index, text); err != nil {
			return err
		}
		state, err := s.sessionState(ctx, sessionID, sess)
		if err != nil {
			return err
		}
		payload = state
		return nil
	})
	return payload, err
}

func (s *Service) RenameDocument(ctx context.Context, sessionID string, user *editor.Identity, name string) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		if err := sess.Rename(name); err != nil {
			return err
		}
		state, err := s.sessionState(ctx, sessionID, sess)
		if err != nil {
			return err
		}
		payload = state
		return nil
	})
	return payload, err
}

func (s *Service) PublishDocument(ctx context.Context, sessionID string, user *editor.Identity, name string) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		published, err := sess.Publish(ctx, name)
		if err != nil {
			return err
		}
		state, err := s.sessionState(ctx, sessionID, sess)
		if err != nil {
			return err
		}
		state["published"] = map[string]any{
			"id":        published.ID,
			"name":      published.Name,
			"updatedAt": published.UpdatedAt,
		}
		payload = state
		return nil
	})
	return payload, err
}

// ForkDocument publishes a copy under a fresh id. Unauthenticated callers get
// a deferred outcome; the stash publishes when sign-in completes.
func (s *Service) ForkDocument(ctx context.Context, sessionID string, user *editor.Identity, name string) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		published, err := sess.Fork(ctx, name)
		if errors.Is(err, editor.ErrSignInDeferred) {
			payload = map[string]any{"deferred": true}
			return nil
		}
		if err != nil {
			return err
		}
		state, stateErr := s.sessionState(ctx, sessionID, sess)
		if stateErr != nil {
			return stateErr
		}
		state["published"] = map[string]any{
			"id":         published.ID,
			"name":       published.Name,
			"forkedFrom": published.ForkedFrom,
			"updatedAt":  published.UpdatedAt,
		}
		payload = state
		return nil
	})
	return payload, err
}

func (s *Service) ResetDocument(ctx context.Context, sessionID string, user *editor.Identity, confirm bool) (map[string]any, error) {
	var payload map[string]any
	err := s.withEditSession(sessionID, user, func(sess *editor.Session) error {
		if err := sess.ResetBaseline(ctx, confirm); err != nil {
			return err
		}
		state, err := s.sessionState(ctx, sessionID, sess)
		if err != nil {
			return err
		}
		payload = state
		return nil
	})
	return payload, err
}

// WatchSession subscribes the session to its current document's updates,
// replacing any prior subscription the session held.
func (s *Service) WatchSession(sessionID string) (*watch.Subscriber, error) {
	rec, ok := s.lookupEditSession(sessionID)
	if !ok {
		return nil, errEditSessionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return s.hub.Subscribe(sessionID, rec.sess.DocumentID()), nil
}

// ApplyWatchEvent feeds a watch delivery into the session and returns the
// refreshed state for streaming to the client.
func (s *Service) ApplyWatchEvent(ctx context.Context, sessionID string, ev watch.Event) (map[string]any, error) {
	rec, ok := s.lookupEditSession(sessionID)
	if !ok {
		return nil, errEditSessionNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ev.NotFound {
		rec.sess.DocumentMissing()
	} else if ev.Record != nil {
		if err := rec.sess.ApplySnapshot(ctx, *ev.Record); err != nil {
			return nil, err
		}
	}
	return s.sessionState(ctx, sessionID, rec.sess)
}

func (s *Service) sessionState(ctx context.Context, sessionID string, sess *editor.Session) (map[string]any, error) {
	dirty, err := sess.Dirty()
	if err != nil {
		return nil, err
	}
	shares, err := sess.RecentShares(ctx)
	if err != nil {
		return nil, err
	}

	state := map[string]any{
		"sessionId":    sessionID,
		"documentId":   sess.DocumentID(),
		"name":         sess.Name(),
		"mode":         string(sess.Mode()),
		"readOnly":     sess.Capability() != editor.ReadWrite,
		"dirty":        dirty,
		"missing":      sess.Missing(),
		"forkedFrom":   sess.ForkedFrom(),
		"deferred":     sess.HasDeferredPublish(),
		"recentShares": shareEntries(shares),
	}
	if sess.Document() != nil {
		state["document"] = sess.Document()
	}
	if sess.OwnerID() != "" {
		state["owner"] = map[string]any{
			"id":    sess.OwnerID(),
			"email": sess.OwnerEmail(),
		}
	}
	return state, nil
}

func shareEntries(shares []drafts.ShareEntry) []map[string]any {
	out := make([]map[string]any, 0, len(shares))
	for _, entry := range shares {
		out = append(out, map[string]any{
			"id":         entry.ID,
			"name":       entry.Name,
			"ownerEmail": entry.OwnerEmail,
		})
	}
	return out
}

// --- Documents ---

// GetDocument serves a public read of a published record (share semantics:
// anyone holding the id can read). A non-empty scale narrows the practices.
func (s *Service) GetDocument(ctx context.Context, documentID string, scale framework.Scale) (map[string]any, error) {
	stored, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc, err := framework.Parse(stored.Data)
	if err != nil {
		return nil, err
	}
	doc = doc.FilterScale(scale)
	return map[string]any{
		"id":         stored.ID,
		"name":       stored.Name,
		"ownerId":    stored.OwnerID,
		"ownerEmail": stored.OwnerEmail,
		"forkedFrom": stored.ForkedFrom,
		"updatedAt":  stored.UpdatedAt,
		"document":   doc,
	}, nil
}

// ListMyDocuments lists the caller's own documents. A query narrows the list
// through the search index.
func (s *Service) ListMyDocuments(ctx context.Context, ownerID, query string, limit, offset int) (map[string]any, error) {
	if query != "" {
		resp := s.search.Search(search.Query{Text: query, OwnerID: ownerID, Limit: limit, Offset: offset})
		return map[string]any{"documents": resp.Results, "total": resp.Total}, nil
	}

	records, err := s.store.ListDocumentsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, map[string]any{
			"id":         rec.ID,
			"name":       rec.Name,
			"forkedFrom": rec.ForkedFrom,
			"updatedAt":  rec.UpdatedAt,
		})
	}
	return map[string]any{"documents": items, "total": len(items)}, nil
}

// RecentShares reads a client's recently-shared ledger, most recent first.
func (s *Service) RecentShares(ctx context.Context, clientID string) (map[string]any, error) {
	if clientID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientId is required", nil)
	}
	shares, err := s.state.RecentShares(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"shares": shareEntries(shares)}, nil
}

// Template serves the baseline template, optionally narrowed to one scale.
func (s *Service) Template(ctx context.Context, scale framework.Scale) (*framework.Document, error) {
	doc, err := s.seed.Template(ctx)
	if err != nil {
		return nil, domainError(http.StatusServiceUnavailable, "TEMPLATE_UNAVAILABLE", "Baseline template could not be loaded", nil)
	}
	return doc.FilterScale(scale), nil
}
