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

// Climate services and attributes.
const (
	serviceSetTemperature = "set_temperature"
	serviceSetHVACMode    = "set_hvac_mode"
	serviceSetPresetMode  = "set_preset_mode"

	attrCurrentTemperature = "current_temperature"
	attrTemperature        = "temperature"
	attrHVACMode           = "hvac_mode"
	attrHVACModes          = "hvac_modes"
	attrPresetMode         = "preset_mode"
	attrPresetModes        = "preset_modes"
)

// Climate synchronizes a thermostat: current and target temperature, the
// HVAC controller mode (the entity's state value) and the preset.
type Climate struct {
	record

	temperatureAddress            []knx.GroupAddress
	targetTemperatureAddress      []knx.GroupAddress
	targetTemperatureStateAddress []knx.GroupAddress
	controllerModeAddress         []knx.GroupAddress
	controllerModeStateAddress    []knx.GroupAddress
	operationModeAddress          []knx.GroupAddress
	operationModeStateAddress     []knx.GroupAddress

	// reported holds the unsupported platform modes already returned.
	reported map[string]struct{}
}

func newClimate(e entity.Entity, d deps) (*Climate, error) {
	var p addressParser
	c := &Climate{
		record:                        newRecord(e, d),
		temperatureAddress:            p.parse("temperature_address", e.TemperatureAddress),
		targetTemperatureAddress:      p.parse("target_temperature_address", e.TargetTemperatureAddress),
		targetTemperatureStateAddress: p.parse("target_temperature_state_address", e.TargetTemperatureStateAddress),
		controllerModeAddress:         p.parse("controller_mode_address", e.ControllerModeAddress),
		controllerModeStateAddress:    p.parse("controller_mode_state_address", e.ControllerModeStateAddress),
		operationModeAddress:          p.parse("operation_mode_address", e.OperationModeAddress),
		operationModeStateAddress:     p.parse("operation_mode_state_address", e.OperationModeStateAddress),
	}
	if p.err != nil {
		return nil, p.err
	}
	return c, nil
}

// SetupEvents implements Handler. temperature_address only carries state
// to the bus, so it is registered only when reads are answered.
func (c *Climate) SetupEvents(ctx context.Context) error {
	command := concat(c.targetTemperatureAddress, c.controllerModeAddress, c.operationModeAddress)
	state := concat(c.temperatureAddress, c.targetTemperatureStateAddress,
		c.controllerModeStateAddress, c.operationModeStateAddress)
	return c.setup(ctx, command, state)
}

// Shutdown implements Handler.
func (c *Climate) Shutdown() {
	c.release()
}

// OnStateChanged writes every reportable value. Values that are absent,
// unavailable or have no bus encoding are skipped; unmapped modes are
// returned as errors after the remaining values were sent.
func (c *Climate) OnStateChanged(ctx context.Context, s *platform.State) error {
	c.setState(s)
	if s == nil {
		return nil
	}

	var errs []error
	send := func(gas []knx.GroupAddress, p knx.Payload, ok bool, err error) {
		if err != nil {
			if err = c.reportOnce(err); err != nil {
				errs = append(errs, err)
			}
			return
		}
		if !ok {
			return
		}
		if err := c.sendAll(ctx, gas, p); err != nil {
			errs = append(errs, err)
		}
	}

	if len(c.temperatureAddress) > 0 {
		p, ok, err := temperatureAttr(*s, attrCurrentTemperature)
		send(c.temperatureAddress, p, ok, err)
	}
	if len(c.targetTemperatureStateAddress) > 0 {
		p, ok, err := temperatureAttr(*s, attrTemperature)
		send(c.targetTemperatureStateAddress, p, ok, err)
	}
	if len(c.controllerModeStateAddress) > 0 {
		p, ok, err := controllerMode(*s)
		send(c.controllerModeStateAddress, p, ok, err)
	}
	if len(c.operationModeStateAddress) > 0 {
		p, ok, err := operationMode(*s)
		send(c.operationModeStateAddress, p, ok, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", c.id, err)
	}
	return nil
}

// OnTelegram implements Handler.
func (c *Climate) OnTelegram(ctx context.Context, t knx.Telegram) error {
	switch {
	case t.IsWrite():
		return c.handleWrite(ctx, t)
	case t.IsRead():
		return c.handleRead(ctx, t)
	default:
		return nil
	}
}

func (c *Climate) handleWrite(ctx context.Context, t knx.Telegram) error {
	ga := t.Destination
	var errs []error

	if slices.Contains(c.targetTemperatureAddress, ga) {
		if err := c.writeTargetTemperature(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	if slices.Contains(c.controllerModeAddress, ga) {
		if err := c.writeControllerMode(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	if slices.Contains(c.operationModeAddress, ga) {
		if err := c.writeOperationMode(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Climate) writeTargetTemperature(ctx context.Context, p knx.Payload) error {
	temperature, err := codec.DecodeTemperature(p)
	if err != nil {
		return err
	}
	return c.call(ctx, serviceSetTemperature, map[string]any{attrTemperature: temperature})
}

// writeControllerMode sets the HVAC mode if the entity reports supporting it.
func (c *Climate) writeControllerMode(ctx context.Context, p knx.Payload) error {
	mode, err := codec.DecodeControllerMode(p)
	if err != nil {
		return fmt.Errorf("%s: %w", c.id, err)
	}
	if err := c.allowed(attrHVACModes, mode); err != nil {
		return err
	}
	return c.call(ctx, serviceSetHVACMode, map[string]any{attrHVACMode: mode})
}

// writeOperationMode sets the preset if the entity reports supporting it.
func (c *Climate) writeOperationMode(ctx context.Context, p knx.Payload) error {
	preset, err := codec.DecodeOperationMode(p)
	if err != nil {
		return fmt.Errorf("%s: %w", c.id, err)
	}
	if err := c.allowed(attrPresetModes, preset); err != nil {
		return err
	}
	return c.call(ctx, serviceSetPresetMode, map[string]any{attrPresetMode: preset})
}

func (c *Climate) allowed(listAttr, mode string) error {
	if c.state == nil {
		return fmt.Errorf("%w: %s cannot check %s", ErrNoState, c.id, listAttr)
	}
	if !slices.Contains(c.state.Strings(listAttr), mode) {
		return fmt.Errorf("%w: %s does not list %q in %s", ErrModeNotAllowed, c.id, mode, listAttr)
	}
	return nil
}

func (c *Climate) handleRead(ctx context.Context, t knx.Telegram) error {
	if !c.canAnswer() {
		c.logDebug("read not answered", "ga", t.Destination.String())
		return nil
	}

	ga := t.Destination
	s := *c.state
	var errs []error
	respond := func(p knx.Payload, ok bool, err error) {
		if err != nil {
			if err = c.reportOnce(err); err != nil {
				errs = append(errs, err)
			}
			return
		}
		if !ok {
			return
		}
		if err := c.respond(ctx, ga, p); err != nil {
			errs = append(errs, err)
		}
	}

	if slices.Contains(c.temperatureAddress, ga) {
		respond(temperatureAttr(s, attrCurrentTemperature))
	}
	if slices.Contains(c.targetTemperatureStateAddress, ga) {
		respond(temperatureAttr(s, attrTemperature))
	}
	if slices.Contains(c.controllerModeStateAddress, ga) {
		respond(controllerMode(s))
	}
	if slices.Contains(c.operationModeStateAddress, ga) {
		respond(operationMode(s))
	}
	return errors.Join(errs...)
}

// reportOnce returns an unsupported-mode error the first time its value is
// seen and nil after that. Other errors pass through.
func (c *Climate) reportOnce(err error) error {
	if !errors.Is(err, codec.ErrUnsupportedControllerMode) && !errors.Is(err, codec.ErrUnsupportedOperationMode) {
		return err
	}
	key := err.Error()
	if _, seen := c.reported[key]; seen {
		c.logDebug("unsupported mode already reported", "reason", key)
		return nil
	}
	if c.reported == nil {
		c.reported = make(map[string]struct{})
	}
	c.reported[key] = struct{}{}
	return err
}

func temperatureAttr(s platform.State, name string) (knx.Payload, bool, error) {
	v, ok := s.Float(name)
	if !ok {
		return knx.Payload{}, false, nil
	}
	p, err := codec.EncodeTemperature(v)
	if err != nil {
		return knx.Payload{}, false, fmt.Errorf("%s: %w", name, err)
	}
	return p, true, nil
}

// controllerMode encodes the state value, which is the HVAC mode.
func controllerMode(s platform.State) (knx.Payload, bool, error) {
	if s.Unavailable() {
		return knx.Payload{}, false, nil
	}
	p, err := codec.EncodeControllerMode(s.Value)
	if err != nil {
		return knx.Payload{}, false, err
	}
	return p, true, nil
}

func operationMode(s platform.State) (knx.Payload, bool, error) {
	v, ok := s.Attr(attrPresetMode)
	if !ok {
		return knx.Payload{}, false, nil
	}
	preset, ok := v.(string)
	if !ok {
		return knx.Payload{}, false, nil
	}
	p, err := codec.EncodeOperationMode(preset)
	if err != nil {
		return knx.Payload{}, false, err
	}
	return p, true, nil
}
