package codec

import (
	"fmt"

	"github.com/nerrad567/knxsync/internal/knx"
)

// Platform HVAC controller modes.
const (
	HVACModeAuto     = "auto"
	HVACModeHeat     = "heat"
	HVACModeCool     = "cool"
	HVACModeOff      = "off"
	HVACModeFanOnly  = "fan_only"
	HVACModeDry      = "dry"
	HVACModeHeatCool = "heat_cool"
)

// DPT 20.105 controller mode codes.
var controllerModeCodes = map[string]uint8{
	HVACModeAuto:    0,
	HVACModeHeat:    1,
	HVACModeCool:    3,
	HVACModeOff:     6,
	HVACModeFanOnly: 9,
	HVACModeDry:     14,
}

var controllerModeNames = invert(controllerModeCodes)

// Platform climate presets.
const (
	PresetNone    = "none"
	PresetComfort = "comfort"
	PresetAway    = "away"
	PresetSleep   = "sleep"
	PresetEco     = "eco"
)

// DPT 20.102 operation mode codes: auto, comfort, standby, economy,
// building protection.
var operationModeCodes = map[string]uint8{
	PresetNone:    0,
	PresetComfort: 1,
	PresetAway:    2,
	PresetSleep:   3,
	PresetEco:     4,
}

var operationModeNames = invert(operationModeCodes)

// EncodeControllerMode encodes a platform HVAC mode as DPT 20.105.
// Modes without a bus code, heat_cool among them, fail with
// ErrUnsupportedControllerMode.
func EncodeControllerMode(mode string) (knx.Payload, error) {
	code, ok := controllerModeCodes[mode]
	if !ok {
		return knx.Payload{}, fmt.Errorf("%w: %q", ErrUnsupportedControllerMode, mode)
	}
	return knx.EncodeDPT20(code), nil
}

// DecodeControllerMode decodes a DPT 20.105 payload into a platform mode.
// A malformed payload is ErrInvalidPayload; a code with no platform mode is
// ErrUnsupportedControllerMode.
func DecodeControllerMode(p knx.Payload) (string, error) {
	if p.Small {
		return "", fmt.Errorf("%w: controller mode sent as small payload", ErrInvalidPayload)
	}
	code, err := knx.DecodeDPT20(p.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	mode, ok := controllerModeNames[code]
	if !ok {
		return "", fmt.Errorf("%w: code %d", ErrUnsupportedControllerMode, code)
	}
	return mode, nil
}

// EncodeOperationMode encodes a platform preset as DPT 20.102.
func EncodeOperationMode(preset string) (knx.Payload, error) {
	code, ok := operationModeCodes[preset]
	if !ok {
		return knx.Payload{}, fmt.Errorf("%w: %q", ErrUnsupportedOperationMode, preset)
	}
	return knx.EncodeDPT20(code), nil
}

// DecodeOperationMode decodes a DPT 20.102 payload into a platform preset.
func DecodeOperationMode(p knx.Payload) (string, error) {
	if p.Small {
		return "", fmt.Errorf("%w: operation mode sent as small payload", ErrInvalidPayload)
	}
	code, err := knx.DecodeDPT20(p.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	preset, ok := operationModeNames[code]
	if !ok {
		return "", fmt.Errorf("%w: code %d", ErrUnsupportedOperationMode, code)
	}
	return preset, nil
}

func invert(m map[string]uint8) map[uint8]string {
	out := make(map[uint8]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
