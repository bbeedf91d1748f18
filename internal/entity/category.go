package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// Category is the platform domain of an entity, the part of its id before
// the dot. It selects the handler that synchronizes the entity.
type Category string

const (
	CategoryLight        Category = "light"
	CategoryClimate      Category = "climate"
	CategoryBinarySensor Category = "binary_sensor"
	CategorySensor       Category = "sensor"
)

var supportedCategories = map[Category]bool{
	CategoryLight:        true,
	CategoryClimate:      true,
	CategoryBinarySensor: true,
	CategorySensor:       true,
}

// Supported reports whether entities of this category can be synchronized.
func (c Category) Supported() bool {
	return supportedCategories[c]
}

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// ValidID reports whether id has the form "<category>.<name>".
func ValidID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// CategoryOf derives the category from an entity id. It fails for a
// malformed id but not for an unsupported category; use Supported for that.
func CategoryOf(id string) (Category, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: entity id %q must look like <category>.<name>", ErrInvalidEntity, id)
	}
	domain, _, _ := strings.Cut(id, ".")
	return Category(domain), nil
}
