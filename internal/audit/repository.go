package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit trail.
const (
	ActionCreate         = "create"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionRoleChange     = "role_change"
	ActionPasswordChange = "password_change"
	ActionPasswordReset  = "password_reset"
	ActionVisibility     = "visibility"
	ActionMove           = "move"
	ActionRank           = "rank"
)

// Entity types recorded in the audit trail.
const (
	EntityUser    = "user"
	EntityTier    = "tier"
	EntityItem    = "item"
	EntitySession = "session"
)

// Sources identify the component that produced an entry.
const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which audit logs to return. Zero values do not filter.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Since      time.Time // inclusive
	Until      time.Time // exclusive
	Limit      int       // default 50, max 200
	Offset     int
}

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, filling in an ID, CreatedAt and Source when unset.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Source == "" {
		entry.Source = SourceAPI
	}

	var details sql.NullString
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.UserID,
		entry.Source, details, timestamp(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// where collects AND-ed conditions with their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) addIf(ok bool, cond string, arg any) {
	if ok {
		w.add(cond, arg)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (f Filter) where() *where {
	w := &where{}
	w.addIf(f.Action != "", "action = ?", f.Action)
	w.addIf(f.EntityType != "", "entity_type = ?", f.EntityType)
	w.addIf(f.EntityID != "", "entity_id = ?", f.EntityID)
	w.addIf(f.UserID != "", "user_id = ?", f.UserID)
	w.addIf(!f.Since.IsZero(), "created_at >= ?", timestamp(f.Since))
	w.addIf(!f.Until.IsZero(), "created_at < ?", timestamp(f.Until))
	return w
}

// page clamps Limit to [1, MaxLimit] (0 means DefaultLimit) and Offset to >= 0.
func (f Filter) page() (limit, offset int) {
	limit, offset = f.Limit, max(f.Offset, 0)
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return limit, offset
}

// List returns the entries matching filter, newest first, with the total
// match count for pagination.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	limit, offset := filter.page()
	w := filter.where()

	var total int
	//nolint:gosec // the WHERE clause holds placeholders only
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	//nolint:gosec // as above
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, user_id, source, details, created_at
		FROM audit_logs`+w.String()+`
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`,
		append(w.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: limit, Offset: offset}, nil
}

func scanAuditLog(rows *sql.Rows) (AuditLog, error) {
	var (
		entry                    AuditLog
		entityID, userID, detail sql.NullString
		created                  string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &userID, &entry.Source, &detail, &created); err != nil {
		return entry, fmt.Errorf("scanning audit log: %w", err)
	}
	entry.EntityID = entityID.String
	entry.UserID = userID.String

	// Undecodable details are dropped rather than failing the page.
	if detail.String != "" {
		json.Unmarshal([]byte(detail.String), &entry.Details) //nolint:errcheck // see above
	}

	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return entry, fmt.Errorf("audit log %s: bad timestamp %q: %w", entry.ID, created, err)
	}
	entry.CreatedAt = t
	return entry, nil
}

// PurgeBefore deletes entries older than cutoff and reports how many went.
func (r *SQLiteRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < ?", timestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging audit logs: %w", err)
	}
	return res.RowsAffected()
}
