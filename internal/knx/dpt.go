package knx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DPT identifies a KNX datapoint type ("major.minor").
type DPT string

// Datapoint types used when synchronizing entities.
const (
	DPTSwitch             DPT = "1.001"   // on/off
	DPTBrightness         DPT = "5.004"   // 0-255 raw, no scaling
	DPTValue2Count        DPT = "8.001"   // signed 16-bit
	DPTTemperature        DPT = "9.001"   // 2-byte float
	DPTValue4Count        DPT = "13.001"  // signed 32-bit
	DPTHVACMode           DPT = "20.102"  // operation mode
	DPTHVACControllerMode DPT = "20.105"  // controller mode
	DPTColourRGB          DPT = "232.600" // R, G, B
)

const (
	dpt9Min          = -671088.64
	dpt9Max          = 670760.96
	dpt9MaxExponent  = 15
	dpt9MantissaMin  = -2048
	dpt9MantissaMax  = 2047
	dpt9MantissaMask = 0x07FF
	dpt9Invalid      = 0x7FFF

	dptRGBBytes = 3
)

// EncodeDPT1 encodes a boolean as a 1-bit value.
func EncodeDPT1(value bool) Payload {
	if value {
		return SmallPayload(0x01)
	}
	return SmallPayload(0x00)
}

// DecodeDPT1 decodes a 1-bit value. Only the least significant bit counts.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0]&0x01 != 0, nil
}

// EncodeDPT5 encodes an unsigned byte without scaling (DPT 5.004/5.010).
func EncodeDPT5(value uint8) Payload {
	return BytesPayload(value)
}

// DecodeDPT5 decodes an unsigned byte without scaling.
func DecodeDPT5(data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0], nil
}

// EncodeDPT8 encodes a signed 16-bit counter value.
func EncodeDPT8(value int16) Payload {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(value)) //nolint:gosec // two's complement intended
	return Payload{Data: buf}
}

// DecodeDPT8 decodes a signed 16-bit counter value.
func DecodeDPT8(data []byte) (int16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: DPT8 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}
	return int16(binary.BigEndian.Uint16(data)), nil //nolint:gosec // two's complement intended
}

// EncodeDPT9 encodes a value as KNX 2-byte float.
//
//	Byte 0: MEEE EMMM
//	Byte 1: MMMM MMMM
//
// Value = 0.01 × M × 2^E, with M a 12-bit two's complement mantissa.
// The mantissa is rounded to the nearest step, so decoding returns the input
// within one quantization step (0.01 × 2^E).
func EncodeDPT9(value float64) (Payload, error) {
	if math.IsNaN(value) || value < dpt9Min || value > dpt9Max {
		return Payload{}, fmt.Errorf("%w: DPT9 value out of range: %.2f (valid: %.2f to %.2f)",
			ErrEncodingFailed, value, dpt9Min, dpt9Max)
	}

	exp := 0
	mantissa := math.Round(value * 100)
	for mantissa < dpt9MantissaMin || mantissa > dpt9MantissaMax {
		exp++
		mantissa = math.Round(value * 100 / float64(int(1)<<exp))
	}
	if exp > dpt9MaxExponent {
		return Payload{}, fmt.Errorf("%w: DPT9 exponent overflow for value %.2f", ErrEncodingFailed, value)
	}

	m := int16(mantissa)
	raw := uint16(exp)<<11 | uint16(m)&dpt9MantissaMask //nolint:gosec // exp <= 15, m fits 12 bits
	if m < 0 {
		raw |= 0x8000
	}
	return Payload{Data: []byte{byte(raw >> 8), byte(raw)}}, nil
}

// DecodeDPT9 decodes a KNX 2-byte float. 0x7FFF is the "invalid data"
// marker and decodes as an error.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := binary.BigEndian.Uint16(data)
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11 bits
	if raw&0x8000 != 0 {
		mantissa |= -0x800
	}
	return float64(mantissa) * 0.01 * math.Pow(2, float64(exp)), nil
}

// EncodeDPT13 encodes a signed 32-bit counter value.
func EncodeDPT13(value int32) Payload {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(value)) //nolint:gosec // two's complement intended
	return Payload{Data: buf}
}

// DecodeDPT13 decodes a signed 32-bit counter value.
func DecodeDPT13(data []byte) (int32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: DPT13 requires 4 bytes, got %d", ErrDecodingFailed, len(data))
	}
	return int32(binary.BigEndian.Uint32(data)), nil //nolint:gosec // two's complement intended
}

// EncodeDPT20 encodes a 1-byte enumeration (DPT 20.xxx). The meaning of the
// code depends on the subtype.
func EncodeDPT20(code uint8) Payload {
	return BytesPayload(code)
}

// DecodeDPT20 decodes a 1-byte enumeration.
func DecodeDPT20(data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: DPT20 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0], nil
}

// RGB is a DPT 232.600 colour.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// EncodeDPT232 encodes an RGB colour as three bytes.
func EncodeDPT232(rgb RGB) Payload {
	return BytesPayload(rgb.R, rgb.G, rgb.B)
}

// DecodeDPT232 decodes an RGB colour. The frame must be exactly 3 bytes.
func DecodeDPT232(data []byte) (RGB, error) {
	if len(data) != dptRGBBytes {
		return RGB{}, fmt.Errorf("%w: DPT232 requires %d bytes, got %d", ErrDecodingFailed, dptRGBBytes, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}
