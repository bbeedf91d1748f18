package entity

import (
	"errors"
	"fmt"
	"slices"
)

// Entity is the synchronization configuration of one platform entity: the
// group addresses bound to each attribute plus behaviour flags.
//
// Address fields named *_state_address (and temperature_address) carry
// platform state to the bus. The others carry bus writes to the platform.
type Entity struct {
	ID          string `yaml:"-" json:"entity_id"`
	AnswerReads bool   `yaml:"answer_reads,omitempty" json:"answer_reads"`

	// light; state_address is also the one field of binary_sensor and sensor
	Address      AddressList `yaml:"address,omitempty" json:"address,omitempty"`
	StateAddress AddressList `yaml:"state_address,omitempty" json:"state_address,omitempty"`

	// light only
	BrightnessAddress      AddressList `yaml:"brightness_address,omitempty" json:"brightness_address,omitempty"`
	BrightnessStateAddress AddressList `yaml:"brightness_state_address,omitempty" json:"brightness_state_address,omitempty"`
	ZeroBrightnessWhenOff  bool        `yaml:"zero_brightness_when_off,omitempty" json:"zero_brightness_when_off,omitempty"`
	ColorAddress           AddressList `yaml:"color_address,omitempty" json:"color_address,omitempty"`
	ColorStateAddress      AddressList `yaml:"color_state_address,omitempty" json:"color_state_address,omitempty"`

	// climate
	TemperatureAddress            AddressList `yaml:"temperature_address,omitempty" json:"temperature_address,omitempty"`
	TargetTemperatureAddress      AddressList `yaml:"target_temperature_address,omitempty" json:"target_temperature_address,omitempty"`
	TargetTemperatureStateAddress AddressList `yaml:"target_temperature_state_address,omitempty" json:"target_temperature_state_address,omitempty"`
	OperationModeAddress          AddressList `yaml:"operation_mode_address,omitempty" json:"operation_mode_address,omitempty"`
	OperationModeStateAddress     AddressList `yaml:"operation_mode_state_address,omitempty" json:"operation_mode_state_address,omitempty"`
	ControllerModeAddress         AddressList `yaml:"controller_mode_address,omitempty" json:"controller_mode_address,omitempty"`
	ControllerModeStateAddress    AddressList `yaml:"controller_mode_state_address,omitempty" json:"controller_mode_state_address,omitempty"`
}

type addressField struct {
	name string
	list *AddressList
}

func (e *Entity) addressFields() []addressField {
	return []addressField{
		{"address", &e.Address},
		{"state_address", &e.StateAddress},
		{"brightness_address", &e.BrightnessAddress},
		{"brightness_state_address", &e.BrightnessStateAddress},
		{"color_address", &e.ColorAddress},
		{"color_state_address", &e.ColorStateAddress},
		{"temperature_address", &e.TemperatureAddress},
		{"target_temperature_address", &e.TargetTemperatureAddress},
		{"target_temperature_state_address", &e.TargetTemperatureStateAddress},
		{"operation_mode_address", &e.OperationModeAddress},
		{"operation_mode_state_address", &e.OperationModeStateAddress},
		{"controller_mode_address", &e.ControllerModeAddress},
		{"controller_mode_state_address", &e.ControllerModeStateAddress},
	}
}

var categoryFields = map[Category][]string{
	CategoryLight: {
		"address", "state_address",
		"brightness_address", "brightness_state_address",
		"color_address", "color_state_address",
	},
	CategoryClimate: {
		"temperature_address",
		"target_temperature_address", "target_temperature_state_address",
		"operation_mode_address", "operation_mode_state_address",
		"controller_mode_address", "controller_mode_state_address",
	},
	CategoryBinarySensor: {"state_address"},
	CategorySensor:       {"state_address"},
}

// Category returns the category derived from the id, or "" for a malformed id.
func (e Entity) Category() Category {
	c, err := CategoryOf(e.ID)
	if err != nil {
		return ""
	}
	return c
}

// Normalize replaces nil address lists with empty ones.
func (e *Entity) Normalize() {
	for _, f := range e.addressFields() {
		if *f.list == nil {
			*f.list = AddressList{}
		}
	}
}

// Validate checks the id, the category, every address and that only
// fields belonging to the category are set. All problems are reported
// together.
func (e Entity) Validate() error {
	category, err := CategoryOf(e.ID)
	if err != nil {
		return err
	}
	if !category.Supported() {
		return fmt.Errorf("%w: %q in %s", ErrUnsupportedCategory, category, e.ID)
	}

	allowed := categoryFields[category]
	var problems []error
	for _, f := range e.addressFields() {
		if len(*f.list) == 0 {
			continue
		}
		if !slices.Contains(allowed, f.name) {
			problems = append(problems, fmt.Errorf("%s is not valid for %s entities", f.name, category))
			continue
		}
		if _, err := f.list.GroupAddresses(); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", f.name, err))
		}
	}
	if e.ZeroBrightnessWhenOff && category != CategoryLight {
		problems = append(problems, errors.New("zero_brightness_when_off is only valid for light entities"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntity, e.ID, errors.Join(problems...))
	}
	return nil
}

// Addresses returns every configured address string, deduplicated, in field order.
func (e Entity) Addresses() []string {
	var out []string
	for _, f := range e.addressFields() {
		for _, a := range *f.list {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

// Set is a configuration snapshot keyed by entity id.
type Set map[string]Entity

// NewSet builds a snapshot from a map keyed by entity id, as found in the
// synced_entities section of the configuration file. Ids are copied into
// the entities and address lists normalized.
func NewSet(entities map[string]Entity) Set {
	s := make(Set, len(entities))
	for id, e := range entities {
		e.ID = id
		e.Normalize()
		s[id] = e
	}
	return s
}

// IDs returns the entity ids in sorted order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Validate validates every entity and reports a key that disagrees with
// its entity's id.
func (s Set) Validate() error {
	var problems []error
	for _, id := range s.IDs() {
		e := s[id]
		if e.ID != id {
			problems = append(problems, fmt.Errorf("%w: key %q holds entity %q", ErrInvalidEntity, id, e.ID))
			continue
		}
		if err := e.Validate(); err != nil {
			problems = append(problems, err)
		}
	}
	return errors.Join(problems...)
}
