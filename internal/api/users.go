package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

// updateUserRequest is a partial update. Role is decoded only so that
// attempts to change it here can be rejected.
type updateUserRequest struct {
	Username         *string `json:"username,omitempty"`
	Email            *string `json:"email,omitempty"`
	ActiveTierListID *string `json:"active_tier_list_id,omitempty"`
	Role             *string `json:"role,omitempty"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type activeTierListRequest struct {
	TierID string `json:"tier_id"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionListUsers, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates an account of any role.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionCreateUser, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if msg := validateNewAccount(req.Username, req.Email, req.Password); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	role, err := auth.ParseRole(string(req.Role))
	if err != nil {
		writeValidationError(w, "role must be USER or ADMIN")
		return
	}

	user, err := s.createAccount(r.Context(), req.Username, req.Email, req.Password, role)
	if err != nil {
		s.writeRepoError(w, err, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", p.Subject)
	s.auditLog(audit.ActionCreate, audit.EntityUser, user.ID, p.Subject, map[string]any{
		"username": user.Username,
		"role":     user.Role,
	})

	writeJSON(w, http.StatusCreated, user)
}

// loadUser fetches the {id} user and checks that the caller may perform
// action on it. It writes the error response and returns nil on failure.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request, action auth.Action) (*auth.Principal, *auth.User) {
	p := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !s.authorizeBeforeLookup(w, p, action, auth.Resource{OwnerID: id}) {
		return nil, nil
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to get user")
		return nil, nil
	}

	if err := s.policy.Authorize(p, action, userResource(user)); err != nil {
		writeAuthzError(w, err)
		return nil, nil
	}
	return p, user
}

// authorizeBeforeLookup rejects anonymous callers and, for admin-only
// actions, non-admins before the target is fetched, so a 404 is never
// shown to someone who may not act on the record anyway. It writes the
// error response and returns false on denial.
func (s *Server) authorizeBeforeLookup(w http.ResponseWriter, p *auth.Principal, action auth.Action, res auth.Resource) bool {
	if p != nil && !auth.AdminOnly(action) {
		return true
	}
	if err := s.policy.Authorize(p, action, res); err != nil {
		writeAuthzError(w, err)
		return false
	}
	return true
}

func userResource(u *auth.User) auth.Resource {
	return auth.Resource{Owner: u.Username, OwnerID: u.ID}
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	_, user := s.loadUser(w, r, auth.ActionReadUser)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser patches username, email and active tier list.
// Role changes go through PUT /users/{id}/role.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	p, user := s.loadUser(w, r, auth.ActionUpdateUser)
	if user == nil {
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role != nil {
		writeBadRequest(w, "role cannot be changed here; use PUT /users/{id}/role")
		return
	}

	changed := []string{}
	if req.Username != nil && *req.Username != user.Username {
		if !auth.IsValidUsername(*req.Username) {
			writeValidationError(w, "username must be 1-64 characters of letters, digits, '.', '-' or '_'")
			return
		}
		user.Username = *req.Username
		changed = append(changed, "username")
	}
	if req.Email != nil && *req.Email != user.Email {
		if !strings.Contains(*req.Email, "@") {
			writeValidationError(w, "a valid email is required")
			return
		}
		user.Email = strings.TrimSpace(*req.Email)
		changed = append(changed, "email")
	}
	if req.ActiveTierListID != nil && *req.ActiveTierListID != user.ActiveTierListID {
		if !s.checkActiveTier(w, r, user, *req.ActiveTierListID) {
			return
		}
		user.ActiveTierListID = *req.ActiveTierListID
		changed = append(changed, "active_tier_list_id")
	}

	if len(changed) > 0 {
		if err := s.users.Update(r.Context(), user); err != nil {
			s.writeRepoError(w, err, "failed to update user")
			return
		}
		s.logger.Info("user updated", "user_id", user.ID, "updated_by", p.Subject)
		s.auditLog(audit.ActionUpdate, audit.EntityUser, user.ID, p.Subject, map[string]any{
			"fields": changed,
		})
	}

	writeJSON(w, http.StatusOK, user)
}

// handleChangeRole promotes or demotes an account. Admins cannot change
// their own role.
func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	p, user := s.loadUser(w, r, auth.ActionChangeRole)
	if user == nil {
		return
	}

	var req changeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeValidationError(w, "role must be USER or ADMIN")
		return
	}

	previous := user.Role
	if role != previous {
		user.Role = role
		if err := s.users.Update(r.Context(), user); err != nil {
			s.writeRepoError(w, err, "failed to change role")
			return
		}
		s.logger.Info("user role changed", "user_id", user.ID, "from", previous, "to", role, "changed_by", p.Subject)
		s.auditLog(audit.ActionRoleChange, audit.EntityUser, user.ID, p.Subject, map[string]any{
			"from": previous,
			"to":   role,
		})
	}

	writeJSON(w, http.StatusOK, user)
}

// handleResetPassword sets a new password for any account without the
// current one.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	p, user := s.loadUser(w, r, auth.ActionResetPassword)
	if user == nil {
		return
	}

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		writeValidationError(w, "new password must be at least 8 characters")
		return
	}

	if err := s.setPassword(r.Context(), user.ID, req.NewPassword); err != nil {
		s.writeRepoError(w, err, "failed to reset password")
		return
	}

	s.logger.Info("user password reset", "user_id", user.ID, "reset_by", p.Subject)
	s.auditLog(audit.ActionPasswordReset, audit.EntityUser, user.ID, p.Subject, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// handleDeleteUser removes an account with its tiers and items. Admins
// cannot delete themselves.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, user := s.loadUser(w, r, auth.ActionDeleteUser)
	if user == nil {
		return
	}

	if err := s.users.Delete(r.Context(), user.ID); err != nil {
		s.writeRepoError(w, err, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", user.ID, "deleted_by", p.Subject)
	s.auditLog(audit.ActionDelete, audit.EntityUser, user.ID, p.Subject, map[string]any{
		"username": user.Username,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleSetActiveTierList records which tier list the account is working on.
// An empty tier_id clears it.
func (s *Server) handleSetActiveTierList(w http.ResponseWriter, r *http.Request) {
	p, user := s.loadUser(w, r, auth.ActionUpdateUser)
	if user == nil {
		return
	}

	var req activeTierListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !s.checkActiveTier(w, r, user, req.TierID) {
		return
	}

	if err := s.users.SetActiveTierList(r.Context(), user.ID, req.TierID); err != nil {
		s.writeRepoError(w, err, "failed to set active tier list")
		return
	}
	user.ActiveTierListID = req.TierID

	s.auditLog(audit.ActionUpdate, audit.EntityUser, user.ID, p.Subject, map[string]any{
		"active_tier_list_id": req.TierID,
	})
	writeJSON(w, http.StatusOK, user)
}

// checkActiveTier verifies that tierID (when set) exists and is readable by
// user, who must own it or find it public.
func (s *Server) checkActiveTier(w http.ResponseWriter, r *http.Request, user *auth.User, tierID string) bool {
	if tierID == "" {
		return true
	}
	tier, err := s.tiers.Get(r.Context(), tierID)
	if err != nil {
		s.writeRepoError(w, err, "failed to get tier")
		return false
	}
	if tier.UserID != user.ID && !tier.IsPublic {
		writeValidationError(w, "active tier list must be owned by the user or public")
		return false
	}
	return true
}

// writeRepoError maps a known domain error, or logs err and writes a 500
// with message.
func (s *Server) writeRepoError(w http.ResponseWriter, err error, message string) {
	if writeDomainError(w, err) {
		return
	}
	s.logger.Error(message, "error", err)
	writeInternalError(w, message)
}
