package store

import "time"

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// DocumentRecord wraps a framework document with its ownership metadata.
// Data holds the document content as JSON; the store never looks inside it.
type DocumentRecord struct {
	ID         string
	Name       string
	OwnerID    string
	OwnerEmail string
	ForkedFrom string
	UpdatedAt  time.Time
	Data       []byte
}

// SignInLink is a single-use passwordless sign-in token, stored hashed.
type SignInLink struct {
	TokenHash string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
