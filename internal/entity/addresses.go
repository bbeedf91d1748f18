package entity

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxsync/internal/knx"
)

// AddressList is the set of group addresses bound to one attribute.
//
// In YAML and JSON it is either a list or a single comma-separated string:
//
//	address: "1/0/1, 1/0/2"
//	address: ["1/0/1", "1/0/2"]
//
// Entries are trimmed and empty entries dropped. A missing key and an empty
// list mean the same thing.
type AddressList []string

// ParseAddressList splits a comma-separated address string.
func ParseAddressList(s string) AddressList {
	return clean(strings.Split(s, ","))
}

func clean(in []string) AddressList {
	out := make(AddressList, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *AddressList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = AddressList{}
			return nil
		}
		*l = ParseAddressList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("address list: %w", err)
		}
		*l = clean(items)
		return nil
	default:
		return fmt.Errorf("address list: expected string or list at line %d", node.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *AddressList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*l = AddressList{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("address list: %w", err)
		}
		*l = ParseAddressList(s)
		return nil
	default:
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("address list: expected string or list: %w", err)
		}
		*l = clean(items)
		return nil
	}
}

// GroupAddresses parses every entry.
func (l AddressList) GroupAddresses() ([]knx.GroupAddress, error) {
	out := make([]knx.GroupAddress, 0, len(l))
	for _, s := range l {
		ga, err := knx.ParseGroupAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ga)
	}
	return out, nil
}

func (l AddressList) String() string {
	return strings.Join(l, ",")
}
