package mqtt

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrRejected wraps a broker or client refusal of a publish, subscribe
	// or unsubscribe request, including timeouts waiting for the ack.
	ErrRejected = errors.New("mqtt: request rejected")

	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
