package auth

import "context"

// Principal is the identity resolved for one request. It is never stored.
type Principal struct {
	// Subject is the username.
	Subject string

	// UserID is the account ID from the token, empty for tokens that were
	// not issued to a stored account.
	UserID string

	// Roles is non-empty for every authenticated principal.
	Roles RoleSet
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Roles.Has(RoleAdmin)
}

// Owns reports whether res belongs to p. When the resource carries its
// owner's account ID only the ID is compared, since a username can be
// renamed and later claimed by another account.
func (p *Principal) Owns(res Resource) bool {
	if p == nil {
		return false
	}
	if res.OwnerID != "" {
		return p.UserID == res.OwnerID
	}
	return res.Owner != "" && res.Owner == p.Subject
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the Gate, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal) //nolint:errcheck // type assertion, not error
	return p
}
