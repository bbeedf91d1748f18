package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/knxsync/internal/codec"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

// Light services and attributes.
const (
	serviceTurnOn  = "turn_on"
	serviceTurnOff = "turn_off"

	attrBrightness = "brightness"
	attrRGBColor   = "rgb_color"
)

// Light synchronizes a light: on/off, brightness and RGB colour.
type Light struct {
	record

	address                []knx.GroupAddress
	stateAddress           []knx.GroupAddress
	brightnessAddress      []knx.GroupAddress
	brightnessStateAddress []knx.GroupAddress
	colorAddress           []knx.GroupAddress
	colorStateAddress      []knx.GroupAddress

	zeroBrightnessWhenOff bool
}

func newLight(e entity.Entity, d deps) (*Light, error) {
	var p addressParser
	l := &Light{
		record:                 newRecord(e, d),
		address:                p.parse("address", e.Address),
		stateAddress:           p.parse("state_address", e.StateAddress),
		brightnessAddress:      p.parse("brightness_address", e.BrightnessAddress),
		brightnessStateAddress: p.parse("brightness_state_address", e.BrightnessStateAddress),
		colorAddress:           p.parse("color_address", e.ColorAddress),
		colorStateAddress:      p.parse("color_state_address", e.ColorStateAddress),
		zeroBrightnessWhenOff:  e.ZeroBrightnessWhenOff,
	}
	if p.err != nil {
		return nil, p.err
	}
	return l, nil
}

// SetupEvents implements Handler.
func (l *Light) SetupEvents(ctx context.Context) error {
	command := concat(l.address, l.brightnessAddress, l.colorAddress)
	state := concat(l.stateAddress, l.brightnessStateAddress, l.colorStateAddress)
	return l.setup(ctx, command, state)
}

// Shutdown implements Handler.
func (l *Light) Shutdown() {
	l.release()
}

// OnStateChanged writes on/off, brightness and colour to their state
// addresses. Any state other than "on", unavailable included, reports off.
func (l *Light) OnStateChanged(ctx context.Context, s *platform.State) error {
	l.setState(s)
	if s == nil {
		return nil
	}

	var errs []error
	on := s.Value == "on"
	if err := l.sendAll(ctx, l.stateAddress, codec.EncodeSwitch(on)); err != nil {
		errs = append(errs, err)
	}

	if !on && l.zeroBrightnessWhenOff {
		zero, _ := codec.EncodeBrightness(0)
		if err := l.sendAll(ctx, l.brightnessStateAddress, zero); err != nil {
			errs = append(errs, err)
		}
	}

	if p, ok, err := l.brightness(*s); err != nil {
		errs = append(errs, err)
	} else if ok {
		if err := l.sendAll(ctx, l.brightnessStateAddress, p); err != nil {
			errs = append(errs, err)
		}
	}

	if rgb, ok := s.RGB(attrRGBColor); ok {
		if err := l.sendAll(ctx, l.colorStateAddress, codec.EncodeColor(rgb)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// OnTelegram implements Handler.
func (l *Light) OnTelegram(ctx context.Context, t knx.Telegram) error {
	switch {
	case t.IsWrite():
		return l.handleWrite(ctx, t)
	case t.IsRead():
		return l.handleRead(ctx, t)
	default:
		return nil
	}
}

func (l *Light) handleWrite(ctx context.Context, t knx.Telegram) error {
	ga := t.Destination
	var errs []error

	if slices.Contains(l.address, ga) {
		if err := l.writeSwitch(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	if slices.Contains(l.brightnessAddress, ga) {
		if err := l.writeBrightness(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	if slices.Contains(l.colorAddress, ga) {
		if err := l.writeColor(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Light) writeSwitch(ctx context.Context, p knx.Payload) error {
	on, err := codec.DecodeSwitch(p)
	if err != nil {
		return err
	}
	if on {
		return l.call(ctx, serviceTurnOn, nil)
	}
	return l.call(ctx, serviceTurnOff, nil)
}

func (l *Light) writeBrightness(ctx context.Context, p knx.Payload) error {
	brightness, err := codec.DecodeBrightness(p)
	if err != nil {
		return err
	}
	if brightness == 0 {
		return l.call(ctx, serviceTurnOff, nil)
	}
	return l.call(ctx, serviceTurnOn, map[string]any{attrBrightness: int(brightness)})
}

func (l *Light) writeColor(ctx context.Context, p knx.Payload) error {
	rgb, err := codec.DecodeColor(p)
	if err != nil {
		return err
	}
	return l.call(ctx, serviceTurnOn, map[string]any{
		attrRGBColor: []int{int(rgb[0]), int(rgb[1]), int(rgb[2])},
	})
}

// handleRead answers from the cached state. The zero brightness sent on
// "off" updates is never used as a response.
func (l *Light) handleRead(ctx context.Context, t knx.Telegram) error {
	if !l.canAnswer() {
		l.logDebug("read not answered", "ga", t.Destination.String())
		return nil
	}

	ga := t.Destination
	s := *l.state
	var errs []error

	if slices.Contains(l.stateAddress, ga) {
		if err := l.respond(ctx, ga, codec.EncodeSwitch(s.Value == "on")); err != nil {
			errs = append(errs, err)
		}
	}
	if slices.Contains(l.brightnessStateAddress, ga) {
		if p, ok, err := l.brightness(s); err != nil {
			errs = append(errs, err)
		} else if ok {
			if err := l.respond(ctx, ga, p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if slices.Contains(l.colorStateAddress, ga) {
		if rgb, ok := s.RGB(attrRGBColor); ok {
			if err := l.respond(ctx, ga, codec.EncodeColor(rgb)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// brightness encodes the brightness attribute. ok is false when the
// attribute is absent.
func (l *Light) brightness(s platform.State) (p knx.Payload, ok bool, err error) {
	b, present := s.Float(attrBrightness)
	if !present {
		return knx.Payload{}, false, nil
	}
	p, err = codec.EncodeBrightness(b)
	if err != nil {
		return knx.Payload{}, false, fmt.Errorf("%s brightness: %w", l.id, err)
	}
	return p, true, nil
}

func concat(lists ...[]knx.GroupAddress) []knx.GroupAddress {
	var out []knx.GroupAddress
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
