// Package auth supplies credentials for requests sent to the gateway.
package auth

import (
	"context"
	"net/http"
)

// Provider obtains a credential and applies it to outgoing requests.
type Provider interface {
	Token(ctx context.Context) (string, error)

	// InjectHeader sets the Authorization header of req.
	InjectHeader(ctx context.Context, req *http.Request) error

	Close() error
}
