package tierlist

import "errors"

var (
	// ErrTierNotFound is returned when a tier ID does not exist.
	ErrTierNotFound = errors.New("tier not found")

	// ErrTierNameExists is returned when the owner already has a tier with
	// the same name, compared case-insensitively.
	ErrTierNameExists = errors.New("tier name already exists for this user")

	// ErrTierHasItems is returned when trying to delete a tier that still has items.
	ErrTierHasItems = errors.New("tier has items: delete or move them first")

	// ErrOwnerNotFound is returned when a tier is created for a user that does not exist.
	ErrOwnerNotFound = errors.New("tier owner not found")

	// ErrItemNotFound is returned when an item ID does not exist.
	ErrItemNotFound = errors.New("item not found")

	// Validation errors.
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidDescription = errors.New("invalid description")
	ErrInvalidColor       = errors.New("invalid color")
	ErrInvalidRank        = errors.New("invalid rank")
	ErrInvalidImageURL    = errors.New("invalid image url")
)
