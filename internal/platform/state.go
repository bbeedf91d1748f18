package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Platform state values that carry no usable data.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// State is one snapshot of an entity as reported by the platform.
type State struct {
	EntityID    string         `json:"entity_id"`
	Value       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed,omitzero"`
}

// UnmarshalJSON accepts the state value as a JSON string, number or bool.
// Numbers keep their literal text so "23" and "23.5" stay distinguishable.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw struct {
		EntityID    string          `json:"entity_id"`
		Value       json.RawMessage `json:"state"`
		Attributes  map[string]any  `json:"attributes"`
		LastChanged time.Time       `json:"last_changed"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	value, err := stateValue(raw.Value)
	if err != nil {
		return err
	}

	*s = State{
		EntityID:    raw.EntityID,
		Value:       value,
		Attributes:  raw.Attributes,
		LastChanged: raw.LastChanged,
	}
	return nil
}

func stateValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return StateUnknown, nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: state: %w", ErrInvalidState, err)
		}
		return s, nil
	case trimmed[0] == '{' || trimmed[0] == '[':
		return "", fmt.Errorf("%w: state must be a scalar", ErrInvalidState)
	default:
		return string(trimmed), nil
	}
}

// Unavailable reports whether the value is "unknown" or "unavailable".
func (s State) Unavailable() bool {
	return s.Value == StateUnknown || s.Value == StateUnavailable
}

// Attr returns a raw attribute value. A present null attribute counts as missing.
func (s State) Attr(name string) (any, bool) {
	v, ok := s.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Float returns a numeric attribute.
func (s State) Float(name string) (float64, bool) {
	v, ok := s.Attr(name)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Strings returns a list-of-strings attribute such as hvac_modes.
func (s State) Strings(name string) []string {
	v, ok := s.Attr(name)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// RGB returns an [r, g, b] attribute with every component in 0..255.
func (s State) RGB(name string) ([3]uint8, bool) {
	v, ok := s.Attr(name)
	if !ok {
		return [3]uint8{}, false
	}

	var components []any
	switch list := v.(type) {
	case []any:
		components = list
	case []int:
		for _, c := range list {
			components = append(components, c)
		}
	case [3]uint8:
		return list, true
	default:
		return [3]uint8{}, false
	}
	if len(components) != 3 {
		return [3]uint8{}, false
	}

	var rgb [3]uint8
	for i, c := range components {
		f, ok := toFloat(c)
		if !ok || f < 0 || f > 255 {
			return [3]uint8{}, false
		}
		rgb[i] = uint8(math.Round(f))
	}
	return rgb, true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// StateChange is emitted whenever a tracked entity's document arrives.
// New is nil when the entity was removed.
type StateChange struct {
	EntityID string
	Old      *State
	New      *State
}

// ServiceCall asks the platform to act on an entity.
type ServiceCall struct {
	Domain   string
	Service  string
	EntityID string
	Data     map[string]any
}

func (c ServiceCall) String() string {
	return fmt.Sprintf("%s.%s(%s)", c.Domain, c.Service, c.EntityID)
}
