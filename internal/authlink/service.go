// Package authlink provides passwordless sign-in via emailed one-time links.
package authlink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"monument/api/internal/auth"
	"monument/api/internal/store"
)

var (
	// ErrInvalidEmail is returned when the address fails basic validation.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidLink is returned when a completion token is unknown, used, or expired.
	ErrInvalidLink = errors.New("invalid or expired sign-in link")
)

// LinkStore defines the storage interface for sign-in links.
type LinkStore interface {
	CreateSignInLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error
	ConsumeSignInLink(ctx context.Context, tokenHash string) (string, error)
	EnsureUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Mailer delivers sign-in link mail.
type Mailer interface {
	IsConfigured() bool
	SendSignInLink(to, signInURL, expiresIn string) error
}

// Service mints, mails, and redeems sign-in links.
type Service struct {
	store   LinkStore
	mailer  Mailer
	baseURL string
	linkTTL time.Duration
}

// NewService creates a sign-in link service. baseURL is the public app origin
// used to build the link the user clicks.
func NewService(store LinkStore, mailer Mailer, baseURL string, linkTTL time.Duration) *Service {
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &Service{
		store:   store,
		mailer:  mailer,
		baseURL: baseURL,
		linkTTL: linkTTL,
	}
}

// RequestResult reports the outcome of a link request.
type RequestResult struct {
	// DevToken carries the raw token when no mailer is configured, so local
	// setups can complete sign-in without SMTP. Empty in production.
	DevToken string
}

// RequestLink creates a one-time sign-in link for the address and mails it.
// The raw token is never stored; only its hash is.
func (s *Service) RequestLink(ctx context.Context, email string) (*RequestResult, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, ErrInvalidEmail
	}
	email = addr.Address

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate sign-in token: %w", err)
	}

	expiresAt := time.Now().Add(s.linkTTL)
	if err := s.store.CreateSignInLink(ctx, auth.HashToken(token), email, expiresAt); err != nil {
		return nil, fmt.Errorf("create sign-in link: %w", err)
	}

	if s.mailer == nil || !s.mailer.IsConfigured() {
		return &RequestResult{DevToken: token}, nil
	}

	signInURL := fmt.Sprintf("%s/auth/complete?token=%s", s.baseURL, token)
	if err := s.mailer.SendSignInLink(email, signInURL, formatTTL(s.linkTTL)); err != nil {
		return nil, fmt.Errorf("send sign-in link: %w", err)
	}

	return &RequestResult{}, nil
}

// CompleteSignIn redeems a link token and returns the signed-in user,
// creating the account on first sign-in.
func (s *Service) CompleteSignIn(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrInvalidLink
	}

	email, err := s.store.ConsumeSignInLink(ctx, auth.HashToken(token))
	if err != nil {
		return store.User{}, ErrInvalidLink
	}

	user, err := s.store.EnsureUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, fmt.Errorf("ensure user: %w", err)
	}

	return user, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func formatTTL(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d == time.Hour {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", int(d.Hours()))
}
