package tierlist

import (
	"sort"
	"time"
)

// Tier is a named, ranked list owned by one user.
type Tier struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Owner       string    `json:"owner"` // username, joined on read
	Name        string    `json:"name" validate:"required,max=50"`
	Color       string    `json:"color,omitempty" validate:"max=32"`
	Description string    `json:"description,omitempty" validate:"max=500"`
	IsPublic    bool      `json:"is_public"`
	ItemCount   int       `json:"item_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item is one entry in a tier.
type Item struct {
	ID        string    `json:"id"`
	TierID    string    `json:"tier_id"`
	Name      string    `json:"name" validate:"required,max=100"`
	Rank      int       `json:"rank" validate:"gte=0"`
	ImageURL  string    `json:"image_url,omitempty" validate:"omitempty,url,max=2048"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TierFilter narrows a tier search. Zero fields do not filter.
type TierFilter struct {
	// Name matches tiers whose name contains it, ignoring case.
	Name string

	// UserID restricts results to one owner.
	UserID string

	// PublicOnly restricts results to public tiers.
	PublicOnly bool
}

// RankGroup is the set of items sharing one rank.
type RankGroup struct {
	Rank  int    `json:"rank"`
	Items []Item `json:"items"`
}

// GroupByRank buckets items by rank in ascending rank order. Items keep
// their relative order within a bucket.
func GroupByRank(items []Item) []RankGroup {
	byRank := make(map[int][]Item)
	for _, it := range items {
		byRank[it.Rank] = append(byRank[it.Rank], it)
	}

	groups := make([]RankGroup, 0, len(byRank))
	for rank, members := range byRank {
		groups = append(groups, RankGroup{Rank: rank, Items: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Rank < groups[j].Rank })
	return groups
}
