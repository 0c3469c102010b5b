package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"monument/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE email = $1`, email,
	).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at
	`, util.NewID("usr"), email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = $1`, userID,
	).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (DocumentRecord, error) {
	var rec DocumentRecord
	var forkedFrom sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, owner_email, forked_from, updated_at, data
		FROM documents WHERE id = $1
	`, documentID).Scan(&rec.ID, &rec.Name, &rec.OwnerID, &rec.OwnerEmail, &forkedFrom, &rec.UpdatedAt, &rec.Data)
	if err != nil {
		return DocumentRecord{}, err
	}
	rec.ForkedFrom = forkedFrom.String
	return rec, nil
}

// PutDocument writes a full record snapshot, creating or overwriting the row.
// Last write wins; there is no version check. Returns the server-assigned
// updated_at.
func (s *PostgresStore) PutDocument(ctx context.Context, rec DocumentRecord) (time.Time, error) {
	var forkedFrom any
	if rec.ForkedFrom != "" {
		forkedFrom = rec.ForkedFrom
	}
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, name, owner_id, owner_email, forked_from, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_id = EXCLUDED.owner_id,
			owner_email = EXCLUDED.owner_email,
			data = EXCLUDED.data,
			updated_at = NOW()
		RETURNING updated_at
	`, rec.ID, rec.Name, rec.OwnerID, rec.OwnerEmail, forkedFrom, rec.Data).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("put document: %w", err)
	}
	return updatedAt, nil
}

// ListDocumentsByOwner returns metadata (no content) for the owner's
// documents, most recently updated first.
func (s *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, owner_email, forked_from, updated_at
		FROM documents WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		var forkedFrom sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OwnerID, &rec.OwnerEmail, &forkedFrom, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		rec.ForkedFrom = forkedFrom.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateSignInLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signin_links (token_hash, email, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, email, expiresAt)
	if err != nil {
		return fmt.Errorf("create sign-in link: %w", err)
	}
	return nil
}

// ConsumeSignInLink marks an unexpired, unused link as used and returns the
// address it was issued for. sql.ErrNoRows means invalid, expired, or
// already used.
func (s *PostgresStore) ConsumeSignInLink(ctx context.Context, tokenHash string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		UPDATE signin_links SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING email
	`, tokenHash).Scan(&email)
	if err != nil {
		return "", err
	}
	return email, nil
}

// SaveRefreshSession persists a refresh token hash. The email parameter is
// accepted for interface parity with the Redis store; Postgres joins users
// on lookup instead.
func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID, email string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
