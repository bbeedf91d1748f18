package entity

import "errors"

var (
	// ErrInvalidEntity is returned when an entity configuration fails validation.
	ErrInvalidEntity = errors.New("entity: invalid configuration")

	// ErrUnsupportedCategory is returned for an entity id whose category has
	// no handler.
	ErrUnsupportedCategory = errors.New("entity: unsupported category")

	// ErrEntityNotFound is returned when the store has no such entity.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrEntityExists is returned when creating an entity that already exists.
	ErrEntityExists = errors.New("entity: already exists")
)
