package syncer

import (
	"context"

	"github.com/nerrad567/knxsync/internal/bus"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// BinarySensor mirrors a binary sensor through the bus's native exposure.
// The exposure writes state changes and answers reads itself, so the
// handler routes no telegrams.
type BinarySensor struct {
	record

	stateAddress []knx.GroupAddress
	exposed      []knx.GroupAddress
}

func newBinarySensor(e entity.Entity, d deps) (*BinarySensor, error) {
	var p addressParser
	b := &BinarySensor{
		record:       newRecord(e, d),
		stateAddress: p.parse("state_address", e.StateAddress),
	}
	if p.err != nil {
		return nil, p.err
	}
	return b, nil
}

// SetupEvents registers one binary exposure per state address.
func (b *BinarySensor) SetupEvents(ctx context.Context) error {
	if err := b.setup(ctx, nil, nil); err != nil {
		return err
	}
	for _, ga := range b.stateAddress {
		if err := b.deps.bus.Expose(ctx, b.id, ga, bus.ExposeBinary); err != nil {
			b.Shutdown()
			return err
		}
		b.exposed = append(b.exposed, ga)
	}
	return nil
}

// Shutdown removes the exposures.
func (b *BinarySensor) Shutdown() {
	for _, ga := range b.exposed {
		if err := b.deps.bus.Unexpose(ga); err != nil {
			b.logWarn("failed to remove exposure", "ga", ga.String(), "error", err)
		}
	}
	b.exposed = nil
	b.release()
}

// OnStateChanged only caches the state.
func (b *BinarySensor) OnStateChanged(_ context.Context, s *platform.State) error {
	b.setState(s)
	return nil
}

// OnTelegram implements Handler.
func (b *BinarySensor) OnTelegram(context.Context, knx.Telegram) error {
	return nil
}
