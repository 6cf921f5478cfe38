package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestStaticTokenProvider(t *testing.T) {
	provider := NewStaticTokenProvider("  gw-key-123 ")

	got, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "gw-key-123" {
		t.Errorf("Token() = %q, want %q", got, "gw-key-123")
	}

	req := httptest.NewRequest("POST", "http://gateway.local/v1/chat/completions", nil)
	if err := provider.InjectHeader(context.Background(), req); err != nil {
		t.Fatalf("InjectHeader() error = %v", err)
	}
	if h := req.Header.Get("Authorization"); h != "Bearer gw-key-123" {
		t.Errorf("Authorization header = %q, want %q", h, "Bearer gw-key-123")
	}

	if err := provider.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStaticTokenProviderRejectsEmptyToken(t *testing.T) {
	provider := NewStaticTokenProvider("   ")

	if _, err := provider.Token(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Token() error = %v, want ErrMissingToken", err)
	}

	req := httptest.NewRequest("POST", "http://gateway.local/", nil)
	if err := provider.InjectHeader(context.Background(), req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("InjectHeader() error = %v, want ErrMissingToken", err)
	}
	if h := req.Header.Get("Authorization"); h != "" {
		t.Errorf("expected no Authorization header, got %q", h)
	}
}

func TestStaticTokenProviderImplementsProvider(t *testing.T) {
	var _ Provider = NewStaticTokenProvider("x")
}
