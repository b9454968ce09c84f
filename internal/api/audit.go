package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
)

// auditLog hands an entry to the audit writer (best-effort, never blocks).
// actor is the acting account's username; it is empty for anonymous calls.
func (s *Server) auditLog(action, entityType, entityID, actor string, details map[string]any) {
	s.audit.Record(&audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     actor,
		Source:     audit.SourceAPI,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action, entity_type, entity_id, user_id: exact match
//   - since, until: RFC 3339 timestamps
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionViewAudit, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
