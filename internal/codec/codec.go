package codec

import (
	"fmt"
	"math"

	"github.com/nerrad567/knxsync/internal/knx"
)

// EncodeSwitch encodes an on/off value (DPT 1.001).
func EncodeSwitch(on bool) knx.Payload {
	return knx.EncodeDPT1(on)
}

// DecodeSwitch decodes an on/off payload. Only 0 and 1 are accepted.
func DecodeSwitch(p knx.Payload) (bool, error) {
	if p.Len() != 1 {
		return false, fmt.Errorf("%w: switch payload of %d bytes", ErrInvalidPayload, p.Len())
	}
	switch p.Data[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: switch value %d", ErrInvalidPayload, p.Data[0])
	}
}

// EncodeBrightness encodes a platform brightness in [0,255] as one byte
// (DPT 5.004, no scaling). Fractional values are rounded.
func EncodeBrightness(brightness float64) (knx.Payload, error) {
	if math.IsNaN(brightness) || brightness < 0 || brightness > 255 {
		return knx.Payload{}, fmt.Errorf("%w: brightness %v outside 0-255", ErrInvalidValue, brightness)
	}
	return knx.EncodeDPT5(uint8(math.Round(brightness))), nil
}

// DecodeBrightness decodes a one-byte brightness.
func DecodeBrightness(p knx.Payload) (uint8, error) {
	if p.Small {
		return 0, fmt.Errorf("%w: brightness sent as small payload", ErrInvalidPayload)
	}
	v, err := knx.DecodeDPT5(p.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return v, nil
}

// EncodeColor encodes an RGB triple (DPT 232.600).
func EncodeColor(rgb [3]uint8) knx.Payload {
	return knx.EncodeDPT232(knx.RGB{R: rgb[0], G: rgb[1], B: rgb[2]})
}

// DecodeColor decodes an RGB payload. Anything but exactly three data bytes
// is invalid.
func DecodeColor(p knx.Payload) ([3]uint8, error) {
	if p.Small {
		return [3]uint8{}, fmt.Errorf("%w: colour sent as small payload", ErrInvalidPayload)
	}
	rgb, err := knx.DecodeDPT232(p.Data)
	if err != nil {
		return [3]uint8{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return [3]uint8{rgb.R, rgb.G, rgb.B}, nil
}

// EncodeTemperature encodes a temperature as DPT 9.001.
func EncodeTemperature(celsius float64) (knx.Payload, error) {
	p, err := knx.EncodeDPT9(celsius)
	if err != nil {
		return knx.Payload{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return p, nil
}

// DecodeTemperature decodes a DPT 9.001 payload.
func DecodeTemperature(p knx.Payload) (float64, error) {
	if p.Small {
		return 0, fmt.Errorf("%w: temperature sent as small payload", ErrInvalidPayload)
	}
	v, err := knx.DecodeDPT9(p.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return v, nil
}
