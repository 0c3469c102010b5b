package authlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"monument/api/internal/store"
)

// mockLinkStore is an in-memory LinkStore for testing.
type mockLinkStore struct {
	links map[string]signInLink // tokenHash -> link
	users map[string]store.User // email -> user
}

type signInLink struct {
	email     string
	expiresAt time.Time
	used      bool
}

func newMockLinkStore() *mockLinkStore {
	return &mockLinkStore{
		links: make(map[string]signInLink),
		users: make(map[string]store.User),
	}
}

func (m *mockLinkStore) CreateSignInLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error {
	m.links[tokenHash] = signInLink{email: email, expiresAt: expiresAt}
	return nil
}

func (m *mockLinkStore) ConsumeSignInLink(ctx context.Context, tokenHash string) (string, error) {
	link, ok := m.links[tokenHash]
	if !ok || link.used || time.Now().After(link.expiresAt) {
		return "", errors.New("no usable link")
	}
	link.used = true
	m.links[tokenHash] = link
	return link.email, nil
}

func (m *mockLinkStore) EnsureUserByEmail(ctx context.Context, email string) (store.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	user := store.User{ID: "usr_" + email, Email: email, CreatedAt: time.Now()}
	m.users[email] = user
	return user, nil
}

// mockMailer records sent links.
type mockMailer struct {
	configured bool
	sentTo     string
	sentURL    string
}

func (m *mockMailer) IsConfigured() bool { return m.configured }

func (m *mockMailer) SendSignInLink(to, signInURL, expiresIn string) error {
	m.sentTo = to
	m.sentURL = signInURL
	return nil
}

func TestRequestLinkSendsMail(t *testing.T) {
	st := newMockLinkStore()
	mailer := &mockMailer{configured: true}
	svc := NewService(st, mailer, "https://monument.example", 15*time.Minute)

	result, err := svc.RequestLink(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestLink: %v", err)
	}
	if result.DevToken != "" {
		t.Error("dev token should be empty when mail is configured")
	}
	if mailer.sentTo != "alice@example.com" {
		t.Errorf("mail sent to %q, want alice@example.com", mailer.sentTo)
	}
	if mailer.sentURL == "" {
		t.Error("no sign-in URL in mail")
	}
	if len(st.links) != 1 {
		t.Errorf("stored %d links, want 1", len(st.links))
	}
}

func TestRequestLinkRejectsBadAddress(t *testing.T) {
	svc := NewService(newMockLinkStore(), &mockMailer{configured: true}, "https://monument.example", 0)
	if _, err := svc.RequestLink(context.Background(), "not-an-address"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("err = %v, want ErrInvalidEmail", err)
	}
}

func TestRequestLinkDevTokenWithoutMailer(t *testing.T) {
	st := newMockLinkStore()
	svc := NewService(st, &mockMailer{configured: false}, "https://monument.example", time.Minute)

	result, err := svc.RequestLink(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatalf("RequestLink: %v", err)
	}
	if result.DevToken == "" {
		t.Fatal("expected dev token when mail is not configured")
	}
}

func TestCompleteSignIn(t *testing.T) {
	st := newMockLinkStore()
	svc := NewService(st, &mockMailer{}, "https://monument.example", time.Minute)

	result, err := svc.RequestLink(context.Background(), "carol@example.com")
	if err != nil {
		t.Fatalf("RequestLink: %v", err)
	}

	user, err := svc.CompleteSignIn(context.Background(), result.DevToken)
	if err != nil {
		t.Fatalf("CompleteSignIn: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Errorf("user.Email = %q, want carol@example.com", user.Email)
	}

	// The link is one-time.
	if _, err := svc.CompleteSignIn(context.Background(), result.DevToken); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("second redeem err = %v, want ErrInvalidLink", err)
	}
}

func TestCompleteSignInUnknownToken(t *testing.T) {
	svc := NewService(newMockLinkStore(), &mockMailer{}, "https://monument.example", time.Minute)
	if _, err := svc.CompleteSignIn(context.Background(), "deadbeef"); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("err = %v, want ErrInvalidLink", err)
	}
	if _, err := svc.CompleteSignIn(context.Background(), ""); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("empty token err = %v, want ErrInvalidLink", err)
	}
}
