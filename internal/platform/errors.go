package platform

import "errors"

var (
	// ErrInvalidState is returned when a state document cannot be decoded.
	ErrInvalidState = errors.New("platform: invalid state document")

	// ErrInvalidServiceCall is returned for a service call without domain,
	// service or entity.
	ErrInvalidServiceCall = errors.New("platform: invalid service call")
)
