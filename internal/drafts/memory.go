package drafts

import (
	"context"
	"sync"
)

type clientState struct {
	lastViewed string
	draft      *Draft
	recent     []ShareEntry
}

// MemoryStore is an in-process Store for tests and single-node dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*clientState)}
}

func (s *MemoryStore) state(clientID string) *clientState {
	st, ok := s.clients[clientID]
	if !ok {
		st = &clientState{}
		s.clients[clientID] = st
	}
	return st
}

func (s *MemoryStore) LastViewed(_ context.Context, clientID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(clientID).lastViewed, nil
}

func (s *MemoryStore) SetLastViewed(_ context.Context, clientID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(clientID).lastViewed = documentID
	return nil
}

func (s *MemoryStore) PendingDraft(_ context.Context, clientID string) (Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(clientID)
	if st.draft == nil {
		return Draft{}, false, nil
	}
	return Draft{DocumentID: st.draft.DocumentID, Doc: st.draft.Doc.Clone()}, true, nil
}

func (s *MemoryStore) SavePendingDraft(_ context.Context, clientID string, draft Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(clientID).draft = &Draft{DocumentID: draft.DocumentID, Doc: draft.Doc.Clone()}
	return nil
}

func (s *MemoryStore) ClearPendingDraft(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(clientID).draft = nil
	return nil
}

func (s *MemoryStore) RecentShares(_ context.Context, clientID string) ([]ShareEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(clientID)
	out := make([]ShareEntry, len(st.recent))
	copy(out, st.recent)
	return out, nil
}

func (s *MemoryStore) TouchRecentShare(_ context.Context, clientID string, entry ShareEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(clientID)
	st.recent = touchShares(st.recent, entry)
	return nil
}
