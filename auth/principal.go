// Package auth is the Authorization Service: it carries the authenticated
// caller through the request context and issues the bearer tokens that
// establish it.
package auth

import (
	"context"
	"errors"
	"fmt"

	"engagement/crypto"
)

var (
	ErrUnauthenticated  = errors.New("auth: no authenticated principal")
	ErrIdentityMismatch = errors.New("auth: principal does not match identity")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Identity [20]byte
	Subject  string
	Scopes   []string
	TokenID  string
}

// Address renders the identity as a bech32 address.
func (p Principal) Address() string { return crypto.FormatIdentity(p.Identity) }

// HasScope reports whether scope was granted.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ContextAuthorizer authorises an identity when the request principal is
// that identity.
type ContextAuthorizer struct{}

// RequireAuth implements the authorizer contract of the managers.
func (ContextAuthorizer) RequireAuth(ctx context.Context, identity [20]byte) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if p.Identity != identity {
		return fmt.Errorf("%w: caller %s, required %s", ErrIdentityMismatch, p.Address(), crypto.FormatIdentity(identity))
	}
	return nil
}
