package auth

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// MinPasswordLength is the shortest password accepted at registration or reset.
const MinPasswordLength = 8

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role is one of the two account tiers. The set is closed: values outside
// RoleUser and RoleAdmin are rejected by ParseRole.
type Role string

const (
	// RoleUser can manage their own tiers and items and read public tiers.
	RoleUser Role = "USER"

	// RoleAdmin can additionally manage every account, tier, and item.
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a stored or transmitted role name into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// RoleSet is a bitmask over the closed Role set.
type RoleSet uint8

const (
	roleUserBit RoleSet = 1 << iota
	roleAdminBit
)

func roleBit(r Role) RoleSet {
	switch r {
	case RoleUser:
		return roleUserBit
	case RoleAdmin:
		return roleAdminBit
	default:
		return 0
	}
}

// NewRoleSet builds a RoleSet. Unknown roles are ignored.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= roleBit(r)
	}
	return s
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	b := roleBit(r)
	return b != 0 && s&b != 0
}

// IsEmpty reports whether the set holds no roles.
func (s RoleSet) IsEmpty() bool {
	return s == 0
}

// Roles returns the members in a stable order (USER before ADMIN).
func (s RoleSet) Roles() []Role {
	roles := make([]Role, 0, 2) //nolint:mnd // two known roles
	if s.Has(RoleUser) {
		roles = append(roles, RoleUser)
	}
	if s.Has(RoleAdmin) {
		roles = append(roles, RoleAdmin)
	}
	return roles
}

// User is a stored account.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"` // never serialised
	Role             Role      `json:"role"`
	ActiveTierListID string    `json:"active_tier_list_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// RolesOf returns the role set granted to a user. Admins also hold USER.
func RolesOf(u *User) RoleSet {
	switch u.Role {
	case RoleAdmin:
		return NewRoleSet(RoleUser, RoleAdmin)
	case RoleUser:
		return NewRoleSet(RoleUser)
	default:
		return 0
	}
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrSelfModification   = errors.New("cannot modify own account in this way")
)
