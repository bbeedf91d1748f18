package codec

import "errors"

var (
	// ErrInvalidPayload is returned when a bus payload has the wrong shape
	// for the attribute it was sent to. Callers treat it as ignorable.
	ErrInvalidPayload = errors.New("codec: invalid payload")

	// ErrInvalidValue is returned when a platform value cannot be encoded.
	ErrInvalidValue = errors.New("codec: invalid value")

	// ErrNotNumeric is returned when a sensor state parses as neither an
	// integer nor a float. The update is dropped.
	ErrNotNumeric = errors.New("codec: not numeric")

	// ErrUnsupportedControllerMode is returned for an HVAC controller mode
	// that has no DPT 20.105 mapping, in either direction.
	ErrUnsupportedControllerMode = errors.New("codec: unsupported controller mode")

	// ErrUnsupportedOperationMode is returned for a preset that has no
	// DPT 20.102 mapping, in either direction.
	ErrUnsupportedOperationMode = errors.New("codec: unsupported operation mode")
)
