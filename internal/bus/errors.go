package bus

import "errors"

var (
	// ErrNoConnector is returned by New without a knx.Connector.
	ErrNoConnector = errors.New("bus: connector is required")

	// ErrNoStateSource is returned by Expose when the adapter was built
	// without a platform state source.
	ErrNoStateSource = errors.New("bus: exposure requires a state source")

	// ErrUnsupportedExposure is returned for an exposure type the adapter
	// cannot serve.
	ErrUnsupportedExposure = errors.New("bus: unsupported exposure type")

	// ErrAlreadyExposed is returned when an address already has an exposure.
	ErrAlreadyExposed = errors.New("bus: address already exposed")

	// ErrNotExposed is returned by Unexpose for an unknown address.
	ErrNotExposed = errors.New("bus: address not exposed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus: adapter closed")
)
