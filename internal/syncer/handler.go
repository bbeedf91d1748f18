package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/knxsync/internal/bus"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// Platform is the home-automation side: entity state and service calls.
type Platform interface {
	Track(ctx context.Context, entityID string) (release func(), err error)
	GetState(entityID string) (platform.State, bool)
	StateChanges(ctx context.Context) (<-chan platform.StateChange, func())
	CallService(ctx context.Context, call platform.ServiceCall) error
}

// Bus is the KNX side: group address interest, telegrams and exposures.
type Bus interface {
	RegisterInterest(ctx context.Context, ga knx.GroupAddress) (release func(), err error)
	Telegrams(ctx context.Context) (<-chan knx.Telegram, func())
	Send(ctx context.Context, ga knx.GroupAddress, p knx.Payload, response bool) error
	Expose(ctx context.Context, entityID string, ga knx.GroupAddress, kind bus.ExposeType) error
	Unexpose(ga knx.GroupAddress) error
}

// Logger is the logging interface used by the syncer.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Handler synchronizes one entity.
//
// Handlers are driven by a single goroutine and are not safe for
// concurrent use.
type Handler interface {
	EntityID() string
	Category() entity.Category

	// Addresses lists the group addresses whose telegrams the handler
	// wants. It is valid after SetupEvents.
	Addresses() []knx.GroupAddress

	// SetupEvents tracks the entity, seeds the cached state and registers
	// the handler's addresses with the bus.
	SetupEvents(ctx context.Context) error

	// OnStateChanged replaces the cached state and reports it to the bus.
	// A nil state means the entity is gone.
	OnStateChanged(ctx context.Context, s *platform.State) error

	// OnTelegram handles a write or read telegram on one of Addresses.
	OnTelegram(ctx context.Context, t knx.Telegram) error

	// Shutdown releases everything SetupEvents acquired. Safe to call
	// after a failed SetupEvents.
	Shutdown()
}

// deps are the collaborators every handler shares.
type deps struct {
	platform Platform
	bus      Bus
	timeout  time.Duration
	logger   Logger
}

// newHandler builds the handler for e's category. The entity is validated
// first, so an unsupported category or malformed address is an error.
func newHandler(e entity.Entity, d deps) (Handler, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	switch e.Category() {
	case entity.CategoryLight:
		return newLight(e, d)
	case entity.CategoryClimate:
		return newClimate(e, d)
	case entity.CategoryBinarySensor:
		return newBinarySensor(e, d)
	case entity.CategorySensor:
		return newSensor(e, d)
	default:
		return nil, fmt.Errorf("%w: %q", entity.ErrUnsupportedCategory, e.Category())
	}
}

// addressParser parses several lists and keeps the first error.
type addressParser struct {
	err error
}

func (p *addressParser) parse(name string, l entity.AddressList) []knx.GroupAddress {
	if p.err != nil {
		return nil
	}
	gas, err := l.GroupAddresses()
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return nil
	}
	return gas
}
