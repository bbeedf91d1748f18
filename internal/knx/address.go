package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a KNX group address in 3-level form.
//
//   - Main:   0-31 (5 bits)
//   - Middle: 0-7  (3 bits)
//   - Sub:    0-255 (8 bits)
//
// The zero value is 0/0/0, which is a valid (broadcast) address.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain     = 31
	maxMiddle   = 7
	maxSub      = 255
	maxTwoLevel = 2047

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses a group address in any of the notations used
// in configuration files:
//
//   - "1/2/3"  3-level
//   - "1.2.3"  3-level, dotted
//   - "1/515"  2-level (main/sub, sub 0-2047)
//   - "2563"   raw 16-bit value
//
// Surrounding whitespace is ignored.
func ParseGroupAddress(s string) (GroupAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GroupAddress{}, fmt.Errorf("%w: empty string", ErrInvalidGroupAddress)
	}

	sep := "/"
	if strings.Contains(s, ".") {
		sep = "."
	}
	parts := strings.Split(s, sep)

	switch len(parts) {
	case 1:
		raw, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q is not a 16-bit integer", ErrInvalidGroupAddress, s)
		}
		return GroupAddressFromUint16(uint16(raw)), nil
	case 2:
		if sep != "/" {
			return GroupAddress{}, fmt.Errorf("%w: 2-level form must use '/', got %q", ErrInvalidGroupAddress, s)
		}
		main, err := parseLevel(parts[0], maxMain, "main")
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q: %w", ErrInvalidGroupAddress, s, err)
		}
		sub, err := parseLevel(parts[1], maxTwoLevel, "sub")
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q: %w", ErrInvalidGroupAddress, s, err)
		}
		return GroupAddress{
			Main:   uint8(main),
			Middle: uint8(sub >> 8),        //nolint:gosec // sub <= 2047
			Sub:    uint8(sub & gaSubMask), //nolint:gosec // masked
		}, nil
	case 3:
		main, err := parseLevel(parts[0], maxMain, "main")
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q: %w", ErrInvalidGroupAddress, s, err)
		}
		middle, err := parseLevel(parts[1], maxMiddle, "middle")
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q: %w", ErrInvalidGroupAddress, s, err)
		}
		sub, err := parseLevel(parts[2], maxSub, "sub")
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: %q: %w", ErrInvalidGroupAddress, s, err)
		}
		return GroupAddress{Main: uint8(main), Middle: uint8(middle), Sub: uint8(sub)}, nil //nolint:gosec // range checked
	default:
		return GroupAddress{}, fmt.Errorf("%w: too many levels in %q", ErrInvalidGroupAddress, s)
	}
}

func parseLevel(s string, limit uint64, name string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || v > limit {
		return 0, fmt.Errorf("%s group must be 0-%d, got %q", name, limit, s)
	}
	return v, nil
}

// MustParseGroupAddress is like ParseGroupAddress but panics on error.
// Intended for tests and package-level constants.
func MustParseGroupAddress(s string) GroupAddress {
	ga, err := ParseGroupAddress(s)
	if err != nil {
		panic(err)
	}
	return ga
}

// String returns the address in 3-level notation, e.g. "1/2/3".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address into its wire representation.
//
// Layout: MMMM MSSS SSSS SSSS
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a wire-format group address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits
	}
}

// IsValid reports whether every level is within range.
func (ga GroupAddress) IsValid() bool {
	return ga.Main <= maxMain && ga.Middle <= maxMiddle
}

// MarshalText implements encoding.TextMarshaler so addresses render as
// "1/2/3" in JSON and YAML.
func (ga GroupAddress) MarshalText() ([]byte, error) {
	return []byte(ga.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ga *GroupAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseGroupAddress(string(text))
	if err != nil {
		return err
	}
	*ga = parsed
	return nil
}
