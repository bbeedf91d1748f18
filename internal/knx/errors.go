package knx

import "errors"

// Domain errors for the KNX package.
var (
	// ErrNotConnected is returned when an operation requires a knxd
	// connection but the client is not connected.
	ErrNotConnected = errors.New("knx: not connected to knxd")

	// ErrConnectionFailed is returned when dialing or handshaking with knxd fails.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrInvalidGroupAddress is returned when a group address cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrEncodingFailed is returned when a value cannot be represented in a datapoint type.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	// ErrDecodingFailed is returned when bus data does not decode as the expected datapoint type.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrTelegramFailed is returned when writing a telegram to knxd fails.
	ErrTelegramFailed = errors.New("knx: telegram send failed")

	// ErrInvalidTelegram is returned when a received frame is malformed.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrProtocolDesync is returned when a frame larger than the read buffer
	// arrives. The stream can no longer be trusted and the socket is reset.
	ErrProtocolDesync = errors.New("knx: protocol desync")
)
