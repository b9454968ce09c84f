package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Username    string `json:"username"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// meResponse describes the caller: the resolved principal plus the stored account.
type meResponse struct {
	Username string     `json:"username"`
	Roles    []string   `json:"roles"`
	User     *auth.User `json:"user"`
}

// handleLogin exchanges credentials for a bearer token. Unknown users and
// wrong passwords produce identical responses.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	token, user, err := s.auth.Login(r.Context(), req.Username, req.Password, time.Now())
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
			s.auditLog(audit.ActionLoginFailed, audit.EntitySession, "", "", map[string]any{
				"username": req.Username,
				"ip":       clientIP(r),
			})
			writeUnauthorized(w, msgInvalidCredentials)
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.auditLog(audit.ActionLogin, audit.EntitySession, user.ID, user.Username, map[string]any{
		"ip": clientIP(r),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.auth.TTL().Seconds()),
		Username:    user.Username,
	})
}

// handleRegister creates a USER account. Duplicate usernames and emails are
// reported as 400 so registration does not reveal more than validation does.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if msg := validateNewAccount(req.Username, req.Email, req.Password); msg != "" {
		writeValidationError(w, msg)
		return
	}

	user, err := s.createAccount(r.Context(), req.Username, req.Email, req.Password, auth.RoleUser)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameExists) || errors.Is(err, auth.ErrEmailExists) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("registration failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.auditLog(audit.ActionRegister, audit.EntityUser, user.ID, user.Username, map[string]any{
		"username": user.Username,
	})
	writeJSON(w, http.StatusCreated, user)
}

// handleLogout revokes the presented bearer token. It always succeeds,
// whether or not a token was sent or was valid.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.BearerToken(r); ok {
		s.auth.Logout(token)
		s.auditLog(audit.ActionLogout, audit.EntitySession, "", "", nil)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleMe returns the caller's principal and account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionReadSelf, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	user := s.caller(w, r, p)
	if user == nil {
		return
	}

	roles := make([]string, 0, 2) //nolint:mnd // two known roles
	for _, role := range p.Roles.Roles() {
		roles = append(roles, string(role))
	}
	writeJSON(w, http.StatusOK, meResponse{Username: p.Subject, Roles: roles, User: user})
}

// handleChangePassword lets the caller replace their own password after
// proving they know the current one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionChangeOwnPassword, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		writeValidationError(w, "new password must be at least 8 characters")
		return
	}

	user := s.caller(w, r, p)
	if user == nil {
		return
	}

	ok, err := auth.VerifyPassword(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		s.logger.Error("verifying current password", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if !ok {
		writeUnauthorized(w, "current password is incorrect")
		return
	}

	if err := s.setPassword(r.Context(), user.ID, req.NewPassword); err != nil {
		s.writeRepoError(w, err, "failed to change password")
		return
	}

	s.auditLog(audit.ActionPasswordChange, audit.EntityUser, user.ID, p.Subject, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

// handleWSTicket issues a single-use WebSocket ticket bound to the caller,
// so the bearer token never has to appear in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionReadSelf, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	ticket := s.tickets.issue(*p, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// validateNewAccount returns a client-facing message for the first invalid
// field, or "" when all are acceptable.
func validateNewAccount(username, email, password string) string {
	switch {
	case !auth.IsValidUsername(username):
		return "username must be 1-64 characters of letters, digits, '.', '-' or '_'"
	case !strings.Contains(email, "@"):
		return "a valid email is required"
	case len(password) < auth.MinPasswordLength:
		return "password must be at least 8 characters"
	default:
		return ""
	}
}

// createAccount hashes password and stores a new account.
func (s *Server) createAccount(ctx context.Context, username, email, password string, role auth.Role) (*auth.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &auth.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) setPassword(ctx context.Context, userID, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use and
// expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	principal auth.Principal
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

func (ts *ticketStore) issue(p auth.Principal, now time.Time) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{principal: p, expiresAt: now.Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// redeem consumes ticket and returns the principal it was issued to.
func (ts *ticketStore) redeem(ticket string, now time.Time) (auth.Principal, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return auth.Principal{}, false
	}
	delete(ts.tickets, ticket)

	if !now.Before(entry.expiresAt) {
		return auth.Principal{}, false
	}
	return entry.principal, true
}

func (ts *ticketStore) cleanExpired(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// cleanLoop evicts expired tickets every ticketTTL until ctx is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts.cleanExpired(now)
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
