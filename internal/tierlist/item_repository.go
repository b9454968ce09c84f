package tierlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
)

// ItemRepository defines the interface for item persistence.
type ItemRepository interface {
	Create(ctx context.Context, item *Item) error
	CreateBatch(ctx context.Context, items []*Item) error
	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context) ([]Item, error)
	ListByTier(ctx context.Context, tierID string) ([]Item, error)
	ListByTierAndRank(ctx context.Context, tierID string, rank int) ([]Item, error)
	Search(ctx context.Context, name string) ([]Item, error)
	Update(ctx context.Context, item *Item) error
	Move(ctx context.Context, id, tierID string) error
	SetRank(ctx context.Context, id string, rank int) error
	Delete(ctx context.Context, id string) error
}

// SQLiteItemRepository implements ItemRepository using SQLite.
type SQLiteItemRepository struct {
	db *sql.DB
}

// NewItemRepository creates a new SQLite-backed item repository.
func NewItemRepository(db *sql.DB) *SQLiteItemRepository {
	return &SQLiteItemRepository{db: db}
}

const itemSelect = `SELECT id, tier_id, name, rank, image_url, created_at, updated_at FROM items`

const itemOrder = ` ORDER BY rank, name COLLATE NOCASE, id`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create validates and inserts an item.
func (r *SQLiteItemRepository) Create(ctx context.Context, item *Item) error {
	if err := ValidateItem(item); err != nil {
		return err
	}
	return insertItem(ctx, r.db, item)
}

// CreateBatch inserts every item in one transaction. Nothing is stored if
// any item is invalid or refers to a missing tier.
func (r *SQLiteItemRepository) CreateBatch(ctx context.Context, items []*Item) error {
	for i, it := range items {
		if err := ValidateItem(it); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for i, it := range items {
			if err := insertItem(ctx, tx, it); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		for _, it := range items {
			it.ID = ""
		}
		return err
	}
	return nil
}

func insertItem(ctx context.Context, db execer, item *Item) error {
	if item.ID == "" {
		item.ID = "item-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Truncate(time.Second)
	ts := now.Format(time.RFC3339)
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, tier_id, name, rank, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TierID, item.Name, item.Rank, nullString(item.ImageURL), ts, ts,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrTierNotFound
		}
		return fmt.Errorf("inserting item %s: %w", item.ID, err)
	}

	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// Get returns a single item by ID.
func (r *SQLiteItemRepository) Get(ctx context.Context, id string) (*Item, error) {
	return scanItem(r.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id))
}

// List returns every item.
func (r *SQLiteItemRepository) List(ctx context.Context) ([]Item, error) {
	return r.queryItems(ctx, itemSelect+` ORDER BY tier_id, rank, name COLLATE NOCASE, id`)
}

// ListByTier returns a tier's items ordered by rank.
func (r *SQLiteItemRepository) ListByTier(ctx context.Context, tierID string) ([]Item, error) {
	return r.queryItems(ctx, itemSelect+` WHERE tier_id = ?`+itemOrder, tierID)
}

// ListByTierAndRank returns the items of one rank within a tier.
func (r *SQLiteItemRepository) ListByTierAndRank(ctx context.Context, tierID string, rank int) ([]Item, error) {
	return r.queryItems(ctx, itemSelect+` WHERE tier_id = ? AND rank = ?`+itemOrder, tierID, rank)
}

// Search returns items whose name contains name, ignoring case.
func (r *SQLiteItemRepository) Search(ctx context.Context, name string) ([]Item, error) {
	return r.queryItems(ctx, itemSelect+` WHERE name LIKE ? ESCAPE '\'`+itemOrder, "%"+escapeLike(name)+"%")
}

// Update writes an item's name, rank, and image URL.
func (r *SQLiteItemRepository) Update(ctx context.Context, item *Item) error {
	if err := ValidateItem(item); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET name = ?, rank = ?, image_url = ?, updated_at = ? WHERE id = ?`,
		item.Name, item.Rank, nullString(item.ImageURL), now.Format(time.RFC3339), item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", item.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrItemNotFound
	}
	item.UpdatedAt = now
	return nil
}

// Move reassigns an item to another tier, keeping its rank.
func (r *SQLiteItemRepository) Move(ctx context.Context, id, tierID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET tier_id = ?, updated_at = ? WHERE id = ?`, tierID, timestamp(), id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrTierNotFound
		}
		return fmt.Errorf("moving item %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrItemNotFound
	}
	return nil
}

// SetRank changes an item's rank.
func (r *SQLiteItemRepository) SetRank(ctx context.Context, id string, rank int) error {
	if err := ValidateRank(rank); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET rank = ?, updated_at = ? WHERE id = ?`, rank, timestamp(), id)
	if err != nil {
		return fmt.Errorf("ranking item %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrItemNotFound
	}
	return nil
}

// Delete removes an item.
func (r *SQLiteItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrItemNotFound
	}
	return nil
}

func (r *SQLiteItemRepository) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

func scanItem(s scanner) (*Item, error) {
	var it Item
	var imageURL sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&it.ID, &it.TierID, &it.Name, &it.Rank, &imageURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("scanning item: %w", err)
	}

	it.ImageURL = imageURL.String
	it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	it.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &it, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
