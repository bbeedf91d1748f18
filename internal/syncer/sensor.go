package syncer

import (
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/knxsync/internal/codec"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// Sensor writes a numeric sensor's state to the bus. Integers go out as
// DPT 8 or DPT 13 depending on range, everything else as DPT 9.
type Sensor struct {
	record

	stateAddress []knx.GroupAddress
}

func newSensor(e entity.Entity, d deps) (*Sensor, error) {
	var p addressParser
	s := &Sensor{
		record:       newRecord(e, d),
		stateAddress: p.parse("state_address", e.StateAddress),
	}
	if p.err != nil {
		return nil, p.err
	}
	return s, nil
}

// SetupEvents implements Handler.
func (s *Sensor) SetupEvents(ctx context.Context) error {
	return s.setup(ctx, nil, s.stateAddress)
}

// Shutdown implements Handler.
func (s *Sensor) Shutdown() {
	s.release()
}

// OnStateChanged writes the value to every state address. Unavailable and
// non-numeric states are not sent.
func (s *Sensor) OnStateChanged(ctx context.Context, st *platform.State) error {
	s.setState(st)
	if st == nil || st.Unavailable() {
		return nil
	}

	p, err := s.encode(*st)
	if err != nil {
		return err
	}
	return s.sendAll(ctx, s.stateAddress, p)
}

// OnTelegram answers reads on the state addresses.
func (s *Sensor) OnTelegram(ctx context.Context, t knx.Telegram) error {
	if !t.IsRead() || !slices.Contains(s.stateAddress, t.Destination) {
		return nil
	}
	if !s.canAnswer() || s.state.Unavailable() {
		s.logDebug("read not answered", "ga", t.Destination.String())
		return nil
	}

	p, err := s.encode(*s.state)
	if err != nil {
		return err
	}
	return s.respond(ctx, t.Destination, p)
}

func (s *Sensor) encode(st platform.State) (knx.Payload, error) {
	p, kind, err := codec.EncodeNumeric(st.Value)
	if err != nil {
		return knx.Payload{}, fmt.Errorf("%s: %w", s.id, err)
	}
	s.logDebug("sensor value encoded", "value", st.Value, "kind", kind.String())
	return p, nil
}
