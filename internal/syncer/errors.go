package syncer

import "errors"

// Domain errors for the syncer package.
//
// Handlers return these wrapped with context; check them with errors.Is.
var (
	// ErrNoState is returned when a bus write needs the entity's cached state
	// and none has been received yet.
	ErrNoState = errors.New("syncer: no cached state")

	// ErrModeNotAllowed is returned when a mode decoded from the bus is not
	// in the entity's reported list of supported modes.
	ErrModeNotAllowed = errors.New("syncer: mode not supported by entity")

	// ErrNoPlatform is returned by New without a platform.
	ErrNoPlatform = errors.New("syncer: platform is required")

	// ErrNoBus is returned by New without a bus.
	ErrNoBus = errors.New("syncer: bus is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("syncer: already started")

	// ErrNotRunning is returned by Reload when the dispatcher is not active.
	ErrNotRunning = errors.New("syncer: not running")
)
