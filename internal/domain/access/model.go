package access

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated means no principal was supplied by the identity provider.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden means the principal is known but may not write.
	ErrForbidden = errors.New("not permitted")
)

// Principal is the caller identified by the external identity provider.
type Principal struct {
	UserID string
	Email  string
}

// IsZero reports whether no identity is present.
func (p Principal) IsZero() bool {
	return p.UserID == ""
}

// Authorizer answers whether a principal may change events.
type Authorizer interface {
	CanWrite(ctx context.Context, p Principal) bool
}

// Allowlist grants write access to exact email addresses and to whole email domains.
type Allowlist struct {
	emails  map[string]bool
	domains []string
}

// NewAllowlist builds an allowlist. Matching is case-insensitive.
func NewAllowlist(emails, domains []string) *Allowlist {
	a := &Allowlist{emails: make(map[string]bool, len(emails))}
	for _, e := range emails {
		a.emails[strings.ToLower(strings.TrimSpace(e))] = true
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			a.domains = append(a.domains, d)
		}
	}
	return a
}

// Allows reports whether email is listed directly or belongs to a listed domain.
func (a *Allowlist) Allows(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	if a.emails[email] {
		return true
	}
	for _, d := range a.domains {
		if strings.HasSuffix(email, "@"+d) {
			return true
		}
	}
	return false
}

// CanWrite implements Authorizer.
func (a *Allowlist) CanWrite(_ context.Context, p Principal) bool {
	return !p.IsZero() && a.Allows(p.Email)
}

// Check returns ErrUnauthenticated or ErrForbidden when p may not write.
// PRE: auth is non-nil
// POST: returns nil only when p is identified and authorized
func Check(ctx context.Context, auth Authorizer, p Principal) error {
	if p.IsZero() {
		return ErrUnauthenticated
	}
	if !auth.CanWrite(ctx, p) {
		return ErrForbidden
	}
	return nil
}
