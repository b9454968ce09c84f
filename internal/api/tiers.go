package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

type createTierRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
	UserID      string `json:"user_id,omitempty"`
}

// replaceTierRequest is the PUT body: every field is written.
type replaceTierRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

type patchTierRequest struct {
	Name        *string `json:"name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

func writeTiers(w http.ResponseWriter, tiers []tierlist.Tier) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers": tiers,
		"count": len(tiers),
	})
}

// caller resolves the principal's stored account. It writes the error
// response and returns nil on failure.
func (s *Server) caller(w http.ResponseWriter, r *http.Request, p *auth.Principal) *auth.User {
	user, err := s.users.GetByUsername(r.Context(), p.Subject)
	if err == nil && p.UserID != "" && user.ID != p.UserID {
		// The username was renamed and has since been taken by another account.
		err = auth.ErrUserNotFound
	}
	if err != nil {
		// A valid token for a deleted account is treated like no token.
		s.writeRepoError(w, mapMissingCaller(err), "failed to resolve caller")
		return nil
	}
	return user
}

func mapMissingCaller(err error) error {
	if errors.Is(err, auth.ErrUserNotFound) {
		return auth.ErrUnauthenticated
	}
	return err
}

// handleListTiers returns every tier for admins and the caller's own tiers otherwise.
func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	s.listTiers(w, r, "")
}

// handleSearchTiers filters handleListTiers' result by ?name=.
func (s *Server) handleSearchTiers(w http.ResponseWriter, r *http.Request) {
	s.listTiers(w, r, r.URL.Query().Get("name"))
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request, name string) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionListOwnTiers, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	filter := tierlist.TierFilter{Name: name}
	if s.policy.Authorize(p, auth.ActionListAllTiers, auth.Resource{}) != nil {
		user := s.caller(w, r, p)
		if user == nil {
			return
		}
		filter.UserID = user.ID
	}

	tiers, err := s.tiers.Search(r.Context(), filter)
	if err != nil {
		s.writeRepoError(w, err, "failed to list tiers")
		return
	}
	writeTiers(w, tiers)
}

// handleListPublicTiers returns public tiers, optionally filtered by ?name=.
func (s *Server) handleListPublicTiers(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionReadPublicTiers, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	tiers, err := s.tiers.Search(r.Context(), tierlist.TierFilter{
		Name:       r.URL.Query().Get("name"),
		PublicOnly: true,
	})
	if err != nil {
		s.writeRepoError(w, err, "failed to list public tiers")
		return
	}
	writeTiers(w, tiers)
}

// handleListUserTiers returns the {id} user's tiers.
func (s *Server) handleListUserTiers(w http.ResponseWriter, r *http.Request) {
	_, user := s.loadUser(w, r, auth.ActionListUserTiers)
	if user == nil {
		return
	}

	tiers, err := s.tiers.ListByUser(r.Context(), user.ID)
	if err != nil {
		s.writeRepoError(w, err, "failed to list tiers")
		return
	}
	writeTiers(w, tiers)
}

// handleCreateTier creates a tier owned by the caller, or by user_id when
// the caller is an admin.
func (s *Server) handleCreateTier(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := s.policy.Authorize(p, auth.ActionCreateTier, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	var req createTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	owner := s.caller(w, r, p)
	if owner == nil {
		return
	}
	if req.UserID != "" && req.UserID != owner.ID {
		target, err := s.users.GetByID(r.Context(), req.UserID)
		if err != nil {
			s.writeRepoError(w, err, "failed to get user")
			return
		}
		if err := s.policy.Authorize(p, auth.ActionModifyTier, userResource(target)); err != nil {
			writeAuthzError(w, err)
			return
		}
		owner = target
	}

	tier := &tierlist.Tier{
		UserID:      owner.ID,
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	}
	if err := s.tiers.Create(r.Context(), tier); err != nil {
		s.writeRepoError(w, err, "failed to create tier")
		return
	}

	s.logger.Info("tier created", "tier_id", tier.ID, "owner", tier.Owner, "created_by", p.Subject)
	s.auditLog(audit.ActionCreate, audit.EntityTier, tier.ID, p.Subject, map[string]any{
		"name":  tier.Name,
		"owner": tier.Owner,
	})
	s.publishTier(audit.ActionCreate, tier, p.Subject)

	writeJSON(w, http.StatusCreated, tier)
}

// loadTier fetches the tier named by URL parameter param and checks that the
// caller may perform action on it. It writes the error response and returns
// nil on failure.
func (s *Server) loadTier(w http.ResponseWriter, r *http.Request, param string, action auth.Action) (*auth.Principal, *tierlist.Tier) {
	p := auth.PrincipalFromContext(r.Context())
	if !s.authorizeBeforeLookup(w, p, action, auth.Resource{}) {
		return nil, nil
	}

	tier, err := s.tiers.Get(r.Context(), chi.URLParam(r, param))
	if err != nil {
		s.writeRepoError(w, err, "failed to get tier")
		return nil, nil
	}

	if err := s.policy.Authorize(p, action, tierResource(tier)); err != nil {
		writeAuthzError(w, err)
		return nil, nil
	}
	return p, tier
}

func tierResource(t *tierlist.Tier) auth.Resource {
	return auth.Resource{Owner: t.Owner, OwnerID: t.UserID, Public: t.IsPublic}
}

// handleGetTier returns one tier.
func (s *Server) handleGetTier(w http.ResponseWriter, r *http.Request) {
	_, tier := s.loadTier(w, r, "id", auth.ActionReadTier)
	if tier == nil {
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

// handleReplaceTier overwrites name, color, description and visibility.
func (s *Server) handleReplaceTier(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	var req replaceTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	tier.Name = req.Name
	tier.Color = req.Color
	tier.Description = req.Description
	tier.IsPublic = req.IsPublic

	s.saveTier(w, r, p, tier)
}

// handlePatchTier updates only the fields present in the body.
func (s *Server) handlePatchTier(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	var req patchTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name != nil {
		tier.Name = *req.Name
	}
	if req.Color != nil {
		tier.Color = *req.Color
	}
	if req.Description != nil {
		tier.Description = *req.Description
	}
	if req.IsPublic != nil {
		tier.IsPublic = *req.IsPublic
	}

	s.saveTier(w, r, p, tier)
}

func (s *Server) saveTier(w http.ResponseWriter, r *http.Request, p *auth.Principal, tier *tierlist.Tier) {
	if err := s.tiers.Update(r.Context(), tier); err != nil {
		s.writeRepoError(w, err, "failed to update tier")
		return
	}

	s.auditLog(audit.ActionUpdate, audit.EntityTier, tier.ID, p.Subject, map[string]any{
		"name": tier.Name,
	})
	s.publishTier(audit.ActionUpdate, tier, p.Subject)
	writeJSON(w, http.StatusOK, tier)
}

// handleDeleteTier removes an empty tier. Tiers with items answer 409.
func (s *Server) handleDeleteTier(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	if err := s.tiers.Delete(r.Context(), tier.ID); err != nil {
		s.writeRepoError(w, err, "failed to delete tier")
		return
	}

	s.logger.Info("tier deleted", "tier_id", tier.ID, "deleted_by", p.Subject)
	s.auditLog(audit.ActionDelete, audit.EntityTier, tier.ID, p.Subject, map[string]any{
		"name":  tier.Name,
		"owner": tier.Owner,
	})
	s.publishTier(audit.ActionDelete, tier, p.Subject)

	w.WriteHeader(http.StatusNoContent)
}

// handleSetTierVisibility sets visibility from the is_public query parameter.
func (s *Server) handleSetTierVisibility(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	public, err := strconv.ParseBool(r.URL.Query().Get("is_public"))
	if err != nil {
		writeBadRequest(w, "is_public query parameter must be true or false")
		return
	}

	if err := s.tiers.SetVisibility(r.Context(), tier.ID, public); err != nil {
		s.writeRepoError(w, err, "failed to set visibility")
		return
	}
	// Announce to the wider of the old and new audiences.
	audience := tier.IsPublic || public
	tier.IsPublic = public

	s.auditLog(audit.ActionVisibility, audit.EntityTier, tier.ID, p.Subject, map[string]any{
		"is_public": public,
	})
	res := tierResource(tier)
	res.Public = audience
	s.publish(audit.EntityTier, ChannelTierChanged, audit.ActionVisibility, tier.ID, res, p.Subject, changeEvent{
		Action: audit.ActionVisibility,
		ID:     tier.ID,
		TierID: tier.ID,
		Actor:  p.Subject,
		Data:   tier,
	})

	writeJSON(w, http.StatusOK, tier)
}

// handleListTierItems returns a tier's items ordered by rank.
func (s *Server) handleListTierItems(w http.ResponseWriter, r *http.Request) {
	_, tier := s.loadTier(w, r, "id", auth.ActionReadTier)
	if tier == nil {
		return
	}

	items, err := s.items.ListByTier(r.Context(), tier.ID)
	if err != nil {
		s.writeRepoError(w, err, "failed to list items")
		return
	}
	writeItems(w, items)
}

// handleListTierRanks returns a tier's items grouped by rank, lowest first.
func (s *Server) handleListTierRanks(w http.ResponseWriter, r *http.Request) {
	_, tier := s.loadTier(w, r, "id", auth.ActionReadTier)
	if tier == nil {
		return
	}

	items, err := s.items.ListByTier(r.Context(), tier.ID)
	if err != nil {
		s.writeRepoError(w, err, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier_id": tier.ID,
		"ranks":   tierlist.GroupByRank(items),
	})
}

// handleListTierRank returns the items holding one rank.
func (s *Server) handleListTierRank(w http.ResponseWriter, r *http.Request) {
	_, tier := s.loadTier(w, r, "id", auth.ActionReadTier)
	if tier == nil {
		return
	}

	rank, ok := parseRank(w, chi.URLParam(r, "rank"))
	if !ok {
		return
	}

	items, err := s.items.ListByTierAndRank(r.Context(), tier.ID, rank)
	if err != nil {
		s.writeRepoError(w, err, "failed to list items")
		return
	}
	writeItems(w, items)
}

// parseRank parses a path rank, writing a validation error when it is not
// a non-negative integer.
func parseRank(w http.ResponseWriter, raw string) (int, bool) {
	rank, err := strconv.Atoi(raw)
	if err == nil {
		err = tierlist.ValidateRank(rank)
	}
	if err != nil {
		writeValidationError(w, "rank must be a non-negative integer")
		return 0, false
	}
	return rank, true
}
