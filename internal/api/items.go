package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

// maxBatchItems bounds POST /tiers/{id}/items/batch.
const maxBatchItems = 500

type itemRequest struct {
	Name     string `json:"name"`
	Rank     int    `json:"rank"`
	ImageURL string `json:"image_url,omitempty"`
}

type patchItemRequest struct {
	Name     *string `json:"name,omitempty"`
	Rank     *int    `json:"rank,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

func writeItems(w http.ResponseWriter, items []tierlist.Item) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleListItems returns every item. Admin only.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionListAllItems, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	items, err := s.items.List(r.Context())
	if err != nil {
		s.writeRepoError(w, err, "failed to list items")
		return
	}
	writeItems(w, items)
}

// handleSearchItems returns items whose name contains ?name=. Admin only.
func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionListAllItems, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	items, err := s.items.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		s.writeRepoError(w, err, "failed to search items")
		return
	}
	writeItems(w, items)
}

// handleCreateItem adds one item to the {id} tier.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	item := &tierlist.Item{
		TierID:   tier.ID,
		Name:     req.Name,
		Rank:     req.Rank,
		ImageURL: req.ImageURL,
	}
	if err := s.items.Create(r.Context(), item); err != nil {
		s.writeRepoError(w, err, "failed to create item")
		return
	}

	s.auditLog(audit.ActionCreate, audit.EntityItem, item.ID, p.Subject, map[string]any{
		"tier_id": tier.ID,
		"name":    item.Name,
	})
	s.publishItem(audit.ActionCreate, item, tier, p.Subject)

	writeJSON(w, http.StatusCreated, item)
}

// handleCreateItemBatch adds a JSON array of items to the {id} tier in one
// transaction. Nothing is stored if any item is invalid.
func (s *Server) handleCreateItemBatch(w http.ResponseWriter, r *http.Request) {
	p, tier := s.loadTier(w, r, "id", auth.ActionModifyTier)
	if tier == nil {
		return
	}

	var reqs []itemRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeBadRequest(w, "body must be a JSON array of items")
		return
	}
	if len(reqs) == 0 {
		writeValidationError(w, "at least one item is required")
		return
	}
	if len(reqs) > maxBatchItems {
		writeValidationError(w, "too many items in one batch")
		return
	}

	items := make([]*tierlist.Item, len(reqs))
	for i, req := range reqs {
		items[i] = &tierlist.Item{
			TierID:   tier.ID,
			Name:     req.Name,
			Rank:     req.Rank,
			ImageURL: req.ImageURL,
		}
	}
	if err := s.items.CreateBatch(r.Context(), items); err != nil {
		s.writeRepoError(w, err, "failed to create items")
		return
	}

	s.auditLog(audit.ActionCreate, audit.EntityItem, "", p.Subject, map[string]any{
		"tier_id": tier.ID,
		"count":   len(items),
	})
	for _, item := range items {
		s.publishItem(audit.ActionCreate, item, tier, p.Subject)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// loadItem fetches the {id} item and its tier and checks that the caller
// may perform action on the tier. It writes the error response and returns
// nil on failure.
func (s *Server) loadItem(w http.ResponseWriter, r *http.Request, action auth.Action) (*auth.Principal, *tierlist.Item, *tierlist.Tier) {
	p := auth.PrincipalFromContext(r.Context())
	if !s.authorizeBeforeLookup(w, p, action, auth.Resource{}) {
		return nil, nil, nil
	}

	item, err := s.items.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeRepoError(w, err, "failed to get item")
		return nil, nil, nil
	}
	tier, err := s.tiers.Get(r.Context(), item.TierID)
	if err != nil {
		s.writeRepoError(w, err, "failed to get tier")
		return nil, nil, nil
	}

	if err := s.policy.Authorize(p, action, tierResource(tier)); err != nil {
		writeAuthzError(w, err)
		return nil, nil, nil
	}
	return p, item, tier
}

// handleGetItem returns an item when its tier is visible to the caller.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	_, item, _ := s.loadItem(w, r, auth.ActionReadTier)
	if item == nil {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleReplaceItem overwrites name, rank and image URL.
func (s *Server) handleReplaceItem(w http.ResponseWriter, r *http.Request) {
	p, item, tier := s.loadItem(w, r, auth.ActionModifyItem)
	if item == nil {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	item.Name = req.Name
	item.Rank = req.Rank
	item.ImageURL = req.ImageURL

	s.saveItem(w, r, p, item, tier)
}

// handlePatchItem updates only the fields present in the body.
func (s *Server) handlePatchItem(w http.ResponseWriter, r *http.Request) {
	p, item, tier := s.loadItem(w, r, auth.ActionModifyItem)
	if item == nil {
		return
	}

	var req patchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Rank != nil {
		item.Rank = *req.Rank
	}
	if req.ImageURL != nil {
		item.ImageURL = *req.ImageURL
	}

	s.saveItem(w, r, p, item, tier)
}

func (s *Server) saveItem(w http.ResponseWriter, r *http.Request, p *auth.Principal, item *tierlist.Item, tier *tierlist.Tier) {
	if err := s.items.Update(r.Context(), item); err != nil {
		s.writeRepoError(w, err, "failed to update item")
		return
	}

	s.auditLog(audit.ActionUpdate, audit.EntityItem, item.ID, p.Subject, map[string]any{
		"tier_id": item.TierID,
		"name":    item.Name,
	})
	s.publishItem(audit.ActionUpdate, item, tier, p.Subject)
	writeJSON(w, http.StatusOK, item)
}

// handleDeleteItem removes an item.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	p, item, tier := s.loadItem(w, r, auth.ActionModifyItem)
	if item == nil {
		return
	}

	if err := s.items.Delete(r.Context(), item.ID); err != nil {
		s.writeRepoError(w, err, "failed to delete item")
		return
	}

	s.auditLog(audit.ActionDelete, audit.EntityItem, item.ID, p.Subject, map[string]any{
		"tier_id": item.TierID,
		"name":    item.Name,
	})
	s.publishItem(audit.ActionDelete, item, tier, p.Subject)

	w.WriteHeader(http.StatusNoContent)
}

// handleMoveItem moves an item into the {tierId} tier. The caller must be
// allowed to modify both tiers.
func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	p, item, from := s.loadItem(w, r, auth.ActionModifyItem)
	if item == nil {
		return
	}
	_, to := s.loadTier(w, r, "tierId", auth.ActionModifyTier)
	if to == nil {
		return
	}

	if err := s.items.Move(r.Context(), item.ID, to.ID); err != nil {
		s.writeRepoError(w, err, "failed to move item")
		return
	}
	item.TierID = to.ID

	s.auditLog(audit.ActionMove, audit.EntityItem, item.ID, p.Subject, map[string]any{
		"from_tier_id": from.ID,
		"to_tier_id":   to.ID,
	})
	s.publishItem(audit.ActionMove, item, to, p.Subject)
	if from.Owner != to.Owner {
		s.publishItem(audit.ActionMove, item, from, p.Subject)
	}

	s.writeStoredItem(w, r, item.ID)
}

// handleRankItem sets an item's rank from the path.
func (s *Server) handleRankItem(w http.ResponseWriter, r *http.Request) {
	p, item, tier := s.loadItem(w, r, auth.ActionModifyItem)
	if item == nil {
		return
	}

	rank, ok := parseRank(w, chi.URLParam(r, "rank"))
	if !ok {
		return
	}

	if err := s.items.SetRank(r.Context(), item.ID, rank); err != nil {
		s.writeRepoError(w, err, "failed to rank item")
		return
	}
	previous := item.Rank
	item.Rank = rank

	s.auditLog(audit.ActionRank, audit.EntityItem, item.ID, p.Subject, map[string]any{
		"from": previous,
		"to":   rank,
	})
	s.publishItem(audit.ActionRank, item, tier, p.Subject)

	s.writeStoredItem(w, r, item.ID)
}

// writeStoredItem re-reads an item so the response carries stored timestamps.
func (s *Server) writeStoredItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.items.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to get item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
