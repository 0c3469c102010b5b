// Package drafts persists per-client editing state that must survive
// reloads before a cloud save: the last-viewed document id, the pending
// unsynced draft, and the recently-shared ledger.
package drafts

import (
	"context"

	"monument/api/internal/framework"
)

// MaxRecentShares caps the recently-shared ledger length.
const MaxRecentShares = 5

// Draft is a pending unsynced document together with the id it belongs to.
type Draft struct {
	DocumentID string              `json:"documentId"`
	Doc        *framework.Document `json:"doc"`
}

// ShareEntry is one row of the recently-shared ledger.
type ShareEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerEmail string `json:"ownerEmail"`
}

// Store is the client-state storage contract. Reads and writes are
// last-writer-wins; there is no cross-client coordination.
type Store interface {
	LastViewed(ctx context.Context, clientID string) (string, error)
	SetLastViewed(ctx context.Context, clientID, documentID string) error

	PendingDraft(ctx context.Context, clientID string) (Draft, bool, error)
	SavePendingDraft(ctx context.Context, clientID string, draft Draft) error
	ClearPendingDraft(ctx context.Context, clientID string) error

	RecentShares(ctx context.Context, clientID string) ([]ShareEntry, error)
	TouchRecentShare(ctx context.Context, clientID string, entry ShareEntry) error
}

// touchShares front-inserts entry, de-duplicates by id, and trims to the cap.
func touchShares(list []ShareEntry, entry ShareEntry) []ShareEntry {
	out := make([]ShareEntry, 0, len(list)+1)
	out = append(out, entry)
	for _, existing := range list {
		if existing.ID == entry.ID {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > MaxRecentShares {
		out = out[:MaxRecentShares]
	}
	return out
}
