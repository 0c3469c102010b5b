// Package search indexes published framework documents and serves name
// queries, via Meilisearch when available with a Postgres FTS fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"ownerId"`
	OwnerEmail string `json:"ownerEmail"`
	ForkedFrom string `json:"forkedFrom,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text    string
	OwnerID string // empty = all owners
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push document records into a search index.
type Indexer interface {
	IndexRecord(rec Record) error
	DeleteRecord(id string) error
}

// Record is the data we index for a published document.
type Record struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"ownerId"`
	OwnerEmail string `json:"ownerEmail"`
	ForkedFrom string `json:"forkedFrom,omitempty"`
}
