// Package auth verifies bearer credentials against an identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/telhawk-systems/tabula/common/httputil"
	"github.com/telhawk-systems/tabula/internal/metrics"
	"github.com/telhawk-systems/tabula/internal/models"
)

var (
	// ErrMissingCredential means no Authorization header was sent.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means the header was malformed or the provider
	// rejected the token.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrIdentityUnavailable means the provider could not be asked.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// Verifier resolves a raw token to the identity it was issued for.
// Implementations return ErrInvalidCredential for tokens they reject.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// Gate turns an Authorization header into an Identity.
type Gate struct {
	verifier Verifier
}

func NewGate(verifier Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authenticate checks header ("Bearer <token>"). An empty header yields
// ErrMissingCredential; any other shape or a rejected token yields
// ErrInvalidCredential.
func (g *Gate) Authenticate(ctx context.Context, header string) (models.Identity, error) {
	if strings.TrimSpace(header) == "" {
		metrics.AuthFailures.WithLabelValues("missing").Inc()
		return models.Identity{}, ErrMissingCredential
	}

	token, ok := httputil.ParseBearer(header)
	if !ok {
		metrics.AuthFailures.WithLabelValues("malformed").Inc()
		return models.Identity{}, ErrInvalidCredential
	}

	id, err := g.verifier.Verify(ctx, token)
	switch {
	case err == nil && id.ID != "":
		return id, nil
	case err == nil:
		metrics.AuthFailures.WithLabelValues("invalid").Inc()
		return models.Identity{}, fmt.Errorf("%w: identity without subject", ErrInvalidCredential)
	case errors.Is(err, ErrInvalidCredential):
		metrics.AuthFailures.WithLabelValues("invalid").Inc()
		return models.Identity{}, err
	case errors.Is(err, ErrIdentityUnavailable):
		metrics.AuthFailures.WithLabelValues("unavailable").Inc()
		return models.Identity{}, err
	default:
		metrics.AuthFailures.WithLabelValues("unavailable").Inc()
		return models.Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(models.Identity)
	return id, ok
}
