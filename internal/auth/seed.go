package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// SeedAdminOptions describes the bootstrap admin account.
type SeedAdminOptions struct {
	Username string
	Email    string
	// Password is used as-is when set; otherwise a random one is generated
	// and logged once.
	Password string
}

// SeedAdmin creates the bootstrap admin account when no admin exists.
// It returns the password that was set, or "" if seeding was skipped.
func SeedAdmin(ctx context.Context, userRepo UserRepository, opts SeedAdminOptions, logger *slog.Logger) (string, error) {
	admins, err := userRepo.CountAdmins(ctx)
	if err != nil {
		return "", fmt.Errorf("checking admin count: %w", err)
	}
	if admins > 0 {
		logger.Info("admin exists, skipping bootstrap")
		return "", nil
	}

	if !IsValidUsername(opts.Username) {
		return "", fmt.Errorf("bootstrap admin username %q is invalid", opts.Username)
	}

	password := opts.Password
	generated := password == ""
	if generated {
		passwordBytes := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
			return "", fmt.Errorf("generating admin password: %w", err)
		}
		password = hex.EncodeToString(passwordBytes)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &User{
		Username:     opts.Username,
		Email:        opts.Email,
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating bootstrap admin: %w", err)
	}

	if generated {
		logger.Warn("bootstrap admin account created",
			"username", admin.Username,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("bootstrap admin account created", "username", admin.Username)
	}

	return password, nil
}
