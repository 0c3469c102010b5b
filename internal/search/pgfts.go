package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches document names/owner emails with plainto_tsquery and ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "d.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.OwnerID != "" {
		where += " AND d.owner_id = $2"
		args = append(args, q.OwnerID)
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf("SELECT count(*) FROM documents d WHERE %s", where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.name, d.owner_id, d.owner_email, coalesce(d.forked_from, '')
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID, &r.OwnerEmail, &r.ForkedFrom); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, owner_id, owner_email, coalesce(forked_from, '')
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID, &r.OwnerEmail, &r.ForkedFrom); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return records, nil
}
