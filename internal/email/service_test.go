package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{
			name:     "fully configured",
			config:   Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendSignInLink("user@example.com", "https://example.com/auth", "15 minutes"); err == nil {
		t.Fatal("expected send to fail when SMTP is not configured")
	}
}

func TestSignInLinkTemplateRenders(t *testing.T) {
	html, err := renderTemplate(signInLinkTemplate, SignInLinkData{
		AppName:   "Monument",
		SignInURL: "https://monument.example/auth/complete?token=abc",
		ExpiresIn: "15 minutes",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if !strings.Contains(html, "https://monument.example/auth/complete?token=abc") {
		t.Error("rendered email missing the sign-in URL")
	}
	if !strings.Contains(html, "expires in 15 minutes") {
		t.Error("rendered email missing the expiry note")
	}
}
