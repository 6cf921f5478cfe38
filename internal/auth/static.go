package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingToken is returned when a bearer credential is empty.
var ErrMissingToken = errors.New("bearer token is required")

// StaticTokenProvider injects a gateway API key as a bearer credential.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider returns a provider for the given key. Surrounding
// whitespace is trimmed.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: strings.TrimSpace(token)}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p == nil || p.token == "" {
		return "", ErrMissingToken
	}
	return p.token, nil
}

// InjectHeader sets the Authorization header on req.
func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	return nil
}

func (p *StaticTokenProvider) Close() error {
	return nil
}
