package tierlist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldSentinels maps struct fields to the error reported when they fail.
var fieldSentinels = map[string]error{
	"Name":        ErrInvalidName,
	"Description": ErrInvalidDescription,
	"Color":       ErrInvalidColor,
	"Rank":        ErrInvalidRank,
	"ImageURL":    ErrInvalidImageURL,
}

// tagMessages renders validator tags as short explanations.
var tagMessages = map[string]string{
	"required": "is required",
	"max":      "must be at most %s characters",
	"gte":      "must be at least %s",
	"url":      "must be an absolute URL",
}

// ValidateTier trims the tier's text fields and checks them.
func ValidateTier(t *Tier) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Color = strings.TrimSpace(t.Color)
	t.Description = strings.TrimSpace(t.Description)
	return translate(validate.Struct(t))
}

// ValidateItem trims the item's text fields and checks them.
func ValidateItem(it *Item) error {
	it.Name = strings.TrimSpace(it.Name)
	it.ImageURL = strings.TrimSpace(it.ImageURL)
	return translate(validate.Struct(it))
}

// ValidateRank checks a standalone rank value.
func ValidateRank(rank int) error {
	if rank < 0 {
		return fmt.Errorf("%w: rank must be at least 0", ErrInvalidRank)
	}
	return nil
}

// translate converts the first validator failure into a package sentinel.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validating: %w", err)
	}

	fe := fieldErrs[0]
	sentinel, ok := fieldSentinels[fe.StructField()]
	if !ok {
		return fmt.Errorf("validating %s: %w", fe.StructField(), err)
	}

	field := strings.ToLower(fe.Field())
	if fe.StructField() == "ImageURL" {
		field = "image_url"
	}
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return fmt.Errorf("%w: %s failed %s", sentinel, field, fe.Tag())
	}
	if strings.Contains(msg, "%s") {
		msg = fmt.Sprintf(msg, fe.Param())
	}
	return fmt.Errorf("%w: %s %s", sentinel, field, msg)
}
