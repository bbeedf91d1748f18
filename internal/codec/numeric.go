package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/knxsync/internal/knx"
)

// NumericKind records which encoding EncodeNumeric chose.
type NumericKind int

const (
	NumericNone  NumericKind = iota
	NumericInt16             // DPT 8.001
	NumericInt32             // DPT 13.001
	NumericFloat             // DPT 9.001
)

func (k NumericKind) String() string {
	switch k {
	case NumericInt16:
		return "int16"
	case NumericInt32:
		return "int32"
	case NumericFloat:
		return "float"
	default:
		return "none"
	}
}

// DPT returns the datapoint type used for the kind.
func (k NumericKind) DPT() knx.DPT {
	switch k {
	case NumericInt16:
		return knx.DPTValue2Count
	case NumericInt32:
		return knx.DPTValue4Count
	case NumericFloat:
		return knx.DPTTemperature
	default:
		return ""
	}
}

// EncodeNumeric encodes a sensor state string. The value is parsed as an
// integer first and as a float only when that fails:
//
//   - integers that fit int16 encode as DPT 8, those that fit int32 as DPT 13
//   - wider integers and floats encode as DPT 9
//
// A string that is neither returns ErrNotNumeric. A number DPT 9 cannot
// represent returns ErrInvalidValue.
func EncodeNumeric(state string) (knx.Payload, NumericKind, error) {
	s := strings.TrimSpace(state)

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case i >= math.MinInt16 && i <= math.MaxInt16:
			return knx.EncodeDPT8(int16(i)), NumericInt16, nil
		case i >= math.MinInt32 && i <= math.MaxInt32:
			return knx.EncodeDPT13(int32(i)), NumericInt32, nil
		}
		return encodeFloat(float64(i))
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return knx.Payload{}, NumericNone, fmt.Errorf("%w: %q", ErrNotNumeric, state)
	}
	return encodeFloat(f)
}

func encodeFloat(f float64) (knx.Payload, NumericKind, error) {
	p, err := knx.EncodeDPT9(f)
	if err != nil {
		return knx.Payload{}, NumericNone, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return p, NumericFloat, nil
}
