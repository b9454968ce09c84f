package tierlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
)

// TierRepository defines the interface for tier persistence.
type TierRepository interface {
	Create(ctx context.Context, tier *Tier) error
	Get(ctx context.Context, id string) (*Tier, error)
	List(ctx context.Context) ([]Tier, error)
	ListByUser(ctx context.Context, userID string) ([]Tier, error)
	ListPublic(ctx context.Context) ([]Tier, error)
	Search(ctx context.Context, filter TierFilter) ([]Tier, error)
	Update(ctx context.Context, tier *Tier) error
	SetVisibility(ctx context.Context, id string, public bool) error
	Delete(ctx context.Context, id string) error
	CountItems(ctx context.Context, id string) (int, error)
}

// SQLiteTierRepository implements TierRepository using SQLite.
type SQLiteTierRepository struct {
	db *sql.DB
}

// NewTierRepository creates a new SQLite-backed tier repository.
func NewTierRepository(db *sql.DB) *SQLiteTierRepository {
	return &SQLiteTierRepository{db: db}
}

// tierSelect joins the owner's username and the live item count.
const tierSelect = `SELECT t.id, t.user_id, u.username, t.name, t.color, t.description, t.is_public,
		(SELECT COUNT(*) FROM items i WHERE i.tier_id = t.id), t.created_at, t.updated_at
	FROM tiers t JOIN users u ON u.id = t.user_id`

const tierOrder = ` ORDER BY t.name COLLATE NOCASE, t.id`

// Create validates and inserts a tier. The ID is generated if empty.
// Owner and ItemCount are filled from the stored row.
func (r *SQLiteTierRepository) Create(ctx context.Context, tier *Tier) error {
	if err := ValidateTier(tier); err != nil {
		return err
	}
	if tier.ID == "" {
		tier.ID = "tier-" + uuid.NewString()[:8]
	}

	ts := timestamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tiers (id, user_id, name, color, description, is_public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tier.ID, tier.UserID, tier.Name, tier.Color, tier.Description, boolToInt(tier.IsPublic), ts, ts,
	)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return ErrTierNameExists
		case database.IsForeignKeyViolation(err):
			return ErrOwnerNotFound
		}
		return fmt.Errorf("inserting tier %s: %w", tier.ID, err)
	}

	stored, err := r.Get(ctx, tier.ID)
	if err != nil {
		return err
	}
	*tier = *stored
	return nil
}

// Get returns a single tier by ID.
func (r *SQLiteTierRepository) Get(ctx context.Context, id string) (*Tier, error) {
	return scanTier(r.db.QueryRowContext(ctx, tierSelect+` WHERE t.id = ?`, id))
}

// List returns every tier.
func (r *SQLiteTierRepository) List(ctx context.Context) ([]Tier, error) {
	return r.queryTiers(ctx, tierSelect+tierOrder)
}

// ListByUser returns the tiers owned by one user.
func (r *SQLiteTierRepository) ListByUser(ctx context.Context, userID string) ([]Tier, error) {
	return r.queryTiers(ctx, tierSelect+` WHERE t.user_id = ?`+tierOrder, userID)
}

// ListPublic returns every public tier.
func (r *SQLiteTierRepository) ListPublic(ctx context.Context) ([]Tier, error) {
	return r.queryTiers(ctx, tierSelect+` WHERE t.is_public = 1`+tierOrder)
}

// Search returns tiers matching every non-zero field of filter.
func (r *SQLiteTierRepository) Search(ctx context.Context, filter TierFilter) ([]Tier, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, `t.name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Name)+"%")
	}
	if filter.UserID != "" {
		where = append(where, `t.user_id = ?`)
		args = append(args, filter.UserID)
	}
	if filter.PublicOnly {
		where = append(where, `t.is_public = 1`)
	}

	query := tierSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	return r.queryTiers(ctx, query+tierOrder, args...)
}

// Update replaces the tier's name, color, description, and visibility.
func (r *SQLiteTierRepository) Update(ctx context.Context, tier *Tier) error {
	if err := ValidateTier(tier); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tiers SET name = ?, color = ?, description = ?, is_public = ?, updated_at = ? WHERE id = ?`,
		tier.Name, tier.Color, tier.Description, boolToInt(tier.IsPublic), timestamp(), tier.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrTierNameExists
		}
		return fmt.Errorf("updating tier %s: %w", tier.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrTierNotFound
	}

	stored, err := r.Get(ctx, tier.ID)
	if err != nil {
		return err
	}
	*tier = *stored
	return nil
}

// SetVisibility marks a tier public or private.
func (r *SQLiteTierRepository) SetVisibility(ctx context.Context, id string, public bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tiers SET is_public = ?, updated_at = ? WHERE id = ?`,
		boolToInt(public), timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("setting visibility of tier %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrTierNotFound
	}
	return nil
}

// Delete removes an empty tier and clears it from any user's active tier list.
// A tier that still holds items is refused with ErrTierHasItems.
func (r *SQLiteTierRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE tier_id = ?`, id).Scan(&count); err != nil {
			return fmt.Errorf("counting items of tier %s: %w", id, err)
		}
		if count > 0 {
			return fmt.Errorf("%w (%d items)", ErrTierHasItems, count)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET active_tier_list_id = NULL WHERE active_tier_list_id = ?`, id); err != nil {
			return fmt.Errorf("clearing active tier list %s: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM tiers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting tier %s: %w", id, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
			return ErrTierNotFound
		}
		return nil
	})
}

// CountItems returns the number of items in a tier.
func (r *SQLiteTierRepository) CountItems(ctx context.Context, id string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE tier_id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting items of tier %s: %w", id, err)
	}
	return count, nil
}

func (r *SQLiteTierRepository) queryTiers(ctx context.Context, query string, args ...any) ([]Tier, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tiers: %w", err)
	}
	defer rows.Close()

	tiers := []Tier{}
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tiers: %w", err)
	}
	return tiers, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTier(s scanner) (*Tier, error) {
	var t Tier
	var public int
	var createdAt, updatedAt string

	err := s.Scan(&t.ID, &t.UserID, &t.Owner, &t.Name, &t.Color, &t.Description,
		&public, &t.ItemCount, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("scanning tier: %w", err)
	}

	t.IsPublic = public != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &t, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
