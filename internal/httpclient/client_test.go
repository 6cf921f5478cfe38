package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/gatesim/internal/auth"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"gpt-4o-mini-2024","usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL + "/", Auth: auth.NewStaticTokenProvider("k1")})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	res, err := c.Complete(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "hello (Request #1)"})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if gotPath != DefaultPath {
		t.Fatalf("expected path %s, got %s", DefaultPath, gotPath)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	if m := gjson.GetBytes(gotBody, "model").String(); m != "gpt-4o-mini" {
		t.Fatalf("expected model in body, got %q", m)
	}
	if role := gjson.GetBytes(gotBody, "messages.0.role").String(); role != "user" {
		t.Fatalf("expected user role, got %q", role)
	}
	if content := gjson.GetBytes(gotBody, "messages.0.content").String(); content != "hello (Request #1)" {
		t.Fatalf("expected prompt content, got %q", content)
	}
	if n := gjson.GetBytes(gotBody, "messages.#").Int(); n != 1 {
		t.Fatalf("expected one message, got %d", n)
	}

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Tokens != 12 {
		t.Fatalf("expected 12 tokens, got %d", res.Tokens)
	}
	if res.Model != "gpt-4o-mini-2024" {
		t.Fatalf("expected echoed model, got %q", res.Model)
	}
	if res.Latency <= 0 {
		t.Fatalf("expected positive latency, got %s", res.Latency)
	}
}

func TestCompleteRequestAuthOverridesDefault(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Auth: auth.NewStaticTokenProvider("default")})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	res, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p", Auth: auth.NewStaticTokenProvider("per-run")})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if gotAuth != "Bearer per-run" {
		t.Fatalf("expected per-run token, got %q", gotAuth)
	}
	if res.Tokens != 0 {
		t.Fatalf("expected zero tokens without usage, got %d", res.Tokens)
	}
	if res.Model != "m" {
		t.Fatalf("expected requested model when response omits it, got %q", res.Model)
	}
}

func TestCompleteNon2xxReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, ` rate limited `)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	res, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.Body != "rate limited" {
		t.Fatalf("unexpected HTTPError %+v", httpErr)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status on completion, got %d", res.StatusCode)
	}
	if !strings.HasPrefix(err.Error(), "HTTP 429") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestCompleteTimeoutIsDetected(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected IsTimeout to be true for %v", err)
	}
}

func TestCompleteCanceledContextIsNotTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = c.Complete(ctx, Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatal("cancellation must not be reported as timeout")
	}
}

func TestCompleteRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html>not json`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	res, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatal("malformed body must not be reported as timeout")
	}
	if res.StatusCode != http.StatusOK || res.Tokens != 0 {
		t.Fatalf("unexpected completion %+v", res)
	}
}

func TestCompleteMissingCredential(t *testing.T) {
	c, err := New(Options{BaseURL: "http://127.0.0.1:1", Auth: auth.NewStaticTokenProvider("")})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, auth.ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name string
		base string
	}{
		{"empty", ""},
		{"no scheme", "gateway.local"},
		{"ftp", "ftp://gateway.local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Options{BaseURL: tt.base}); err == nil {
				t.Fatalf("expected error for %q", tt.base)
			}
		})
	}
}

func TestNewJoinsCustomPath(t *testing.T) {
	c, err := New(Options{BaseURL: "https://gw.example.com/", Path: "api/chat"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if c.Endpoint() != "https://gw.example.com/api/chat" {
		t.Fatalf("unexpected endpoint %s", c.Endpoint())
	}
}

func TestUsageTokens(t *testing.T) {
	tests := []struct {
		body string
		want int64
	}{
		{`{"usage":{"total_tokens":42}}`, 42},
		{`{"usage":{"total_tokens":"42"}}`, 0},
		{`{"usage":{}}`, 0},
		{`not json`, 0},
		{`{"usage":{"total_tokens":-3}}`, 0},
		{``, 0},
	}
	for _, tt := range tests {
		if got := UsageTokens([]byte(tt.body)); got != tt.want {
			t.Errorf("UsageTokens(%q) = %d, want %d", tt.body, got, tt.want)
		}
	}
}

func TestNewClientTimeout(t *testing.T) {
	client := NewClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Fatalf("expected timeout 5s, got %s", client.Timeout)
	}
	if NewClient(-1).Timeout != 0 {
		t.Fatal("negative timeout should clamp to zero")
	}
}
