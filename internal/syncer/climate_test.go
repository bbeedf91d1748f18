package syncer

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/nerrad567/knxsync/internal/codec"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
)

func testClimate() entity.Entity {
	return entity.Entity{
		ID:                            "climate.office",
		TemperatureAddress:            entity.AddressList{"2/0/1"},
		TargetTemperatureAddress:      entity.AddressList{"2/0/2"},
		TargetTemperatureStateAddress: entity.AddressList{"2/0/3"},
		ControllerModeAddress:         entity.AddressList{"2/0/4"},
		ControllerModeStateAddress:    entity.AddressList{"2/0/5"},
		OperationModeAddress:          entity.AddressList{"2/0/6"},
		OperationModeStateAddress:     entity.AddressList{"2/0/7"},
	}
}

func climateState(value string) platform.State {
	return platform.State{
		EntityID: "climate.office",
		Value:    value,
		Attributes: map[string]any{
			"current_temperature": 20.5,
			"temperature":         22.0,
			"hvac_modes":          []any{"off", "heat", "auto"},
			"preset_mode":         "comfort",
			"preset_modes":        []string{"none", "comfort", "eco"},
		},
	}
}

func mustTemperature(t *testing.T, v float64) knx.Payload {
	t.Helper()
	p, err := codec.EncodeTemperature(v)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClimateControllerModeWrite(t *testing.T) {
	tests := []struct {
		name     string
		state    *platform.State
		code     byte
		wantCall bool
		wantErr  error
	}{
		{"supported", ptr(climateState("off")), 1, true, nil},
		{"not in hvac_modes", ptr(climateState("off")), 3, false, ErrModeNotAllowed},
		{"no cached state", nil, 1, false, ErrNoState},
		{"unmapped code", ptr(climateState("off")), 2, false, codec.ErrUnsupportedControllerMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b := newFakePlatform(), newFakeBus()
			if tt.state != nil {
				p.setState(*tt.state)
			}
			h := setupHandler(t, testClimate(), p, b)

			err := h.OnTelegram(context.Background(), knx.NewWriteTelegram(ga("2/0/4"), knx.BytesPayload(tt.code)))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("OnTelegram() error = %v, want %v", err, tt.wantErr)
			}

			calls := p.serviceCalls()
			if !tt.wantCall {
				if len(calls) != 0 {
					t.Errorf("calls = %+v, want none", calls)
				}
				return
			}
			want := []platform.ServiceCall{{
				Domain: "climate", Service: "set_hvac_mode", EntityID: "climate.office",
				Data: map[string]any{"hvac_mode": "heat"},
			}}
			if !reflect.DeepEqual(calls, want) {
				t.Errorf("calls = %+v, want %+v", calls, want)
			}
		})
	}
}

func TestClimateOperationModeWrite(t *testing.T) {
	tests := []struct {
		name    string
		code    byte
		want    string
		wantErr error
	}{
		{"eco", 4, "eco", nil},
		{"away not listed", 2, "", ErrModeNotAllowed},
		{"unmapped", 9, "", codec.ErrUnsupportedOperationMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b := newFakePlatform(), newFakeBus()
			p.setState(climateState("heat"))
			h := setupHandler(t, testClimate(), p, b)

			err := h.OnTelegram(context.Background(), knx.NewWriteTelegram(ga("2/0/6"), knx.BytesPayload(tt.code)))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("OnTelegram() error = %v, want %v", err, tt.wantErr)
			}

			calls := p.serviceCalls()
			if tt.want == "" {
				if len(calls) != 0 {
					t.Errorf("calls = %+v, want none", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0].Service != "set_preset_mode" || calls[0].Data["preset_mode"] != tt.want {
				t.Errorf("calls = %+v, want set_preset_mode %s", calls, tt.want)
			}
		})
	}
}

func TestClimateTargetTemperatureWrite(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	h := setupHandler(t, testClimate(), p, b)

	err := h.OnTelegram(context.Background(), knx.NewWriteTelegram(ga("2/0/2"), mustTemperature(t, 21.5)))
	if err != nil {
		t.Fatalf("OnTelegram() error = %v", err)
	}

	calls := p.serviceCalls()
	if len(calls) != 1 || calls[0].Service != "set_temperature" {
		t.Fatalf("calls = %+v, want one set_temperature", calls)
	}
	got, _ := calls[0].Data["temperature"].(float64)
	if math.Abs(got-21.5) > 0.01 {
		t.Errorf("temperature = %v, want 21.5", got)
	}
}

func TestClimateStateChange(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	h := setupHandler(t, testClimate(), p, b)

	s := climateState("heat")
	if err := h.OnStateChanged(context.Background(), &s); err != nil {
		t.Fatalf("OnStateChanged() error = %v", err)
	}

	want := []sent{
		{ga: ga("2/0/1"), payload: mustTemperature(t, 20.5)},
		{ga: ga("2/0/3"), payload: mustTemperature(t, 22)},
		{ga: ga("2/0/5"), payload: knx.BytesPayload(1)},
		{ga: ga("2/0/7"), payload: knx.BytesPayload(1)},
	}
	if got := b.sends(); !reflect.DeepEqual(got, want) {
		t.Errorf("sends = %+v, want %+v", got, want)
	}
}

func TestClimateStateChangeUnmappedModeStillSendsTemperatures(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	h := setupHandler(t, testClimate(), p, b)

	s := climateState(codec.HVACModeHeatCool)
	err := h.OnStateChanged(context.Background(), &s)
	if !errors.Is(err, codec.ErrUnsupportedControllerMode) {
		t.Fatalf("OnStateChanged() error = %v, want ErrUnsupportedControllerMode", err)
	}

	for _, sn := range b.sends() {
		if sn.ga == ga("2/0/5") {
			t.Errorf("controller mode sent for heat_cool: %+v", sn)
		}
	}
	if n := len(b.sends()); n != 3 {
		t.Errorf("sends = %d, want 3", n)
	}
}

func TestClimateUnsupportedModeReportedOncePerValue(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	e := testClimate()
	e.AnswerReads = true
	h := setupHandler(t, e, p, b)
	ctx := context.Background()

	s := climateState(codec.HVACModeHeatCool)
	if err := h.OnStateChanged(ctx, &s); !errors.Is(err, codec.ErrUnsupportedControllerMode) {
		t.Fatalf("first OnStateChanged() error = %v, want ErrUnsupportedControllerMode", err)
	}
	s.Attributes["temperature"] = 23.0
	if err := h.OnStateChanged(ctx, &s); err != nil {
		t.Errorf("repeated OnStateChanged() error = %v, want nil", err)
	}
	if n := len(b.sends()); n != 6 {
		t.Errorf("sends = %d, want temperatures and preset sent both times (6)", n)
	}

	// A different unsupported value is reported in its own right.
	s.Attributes["preset_mode"] = "boost"
	if err := h.OnStateChanged(ctx, &s); !errors.Is(err, codec.ErrUnsupportedOperationMode) {
		t.Errorf("new preset OnStateChanged() error = %v, want ErrUnsupportedOperationMode", err)
	} else if errors.Is(err, codec.ErrUnsupportedControllerMode) {
		t.Errorf("controller mode reported again: %v", err)
	}

	// Reads do not repeat it either.
	if err := h.OnTelegram(ctx, knx.NewReadTelegram(ga("2/0/5"))); err != nil {
		t.Errorf("read OnTelegram() error = %v, want nil", err)
	}
}

func TestClimateStateChangeUnavailable(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	h := setupHandler(t, testClimate(), p, b)

	if err := h.OnStateChanged(context.Background(), &platform.State{Value: platform.StateUnavailable}); err != nil {
		t.Fatalf("OnStateChanged() error = %v", err)
	}
	if got := b.sends(); len(got) != 0 {
		t.Errorf("sends = %+v, want none", got)
	}
}

func TestClimateReads(t *testing.T) {
	tests := []struct {
		ga   string
		want knx.Payload
	}{
		{"2/0/1", knx.Payload{}},
		{"2/0/3", knx.Payload{}},
		{"2/0/5", knx.BytesPayload(6)},
		{"2/0/7", knx.BytesPayload(1)},
	}
	tests[0].want = mustTemperature(t, 20.5)
	tests[1].want = mustTemperature(t, 22)

	for _, tt := range tests {
		t.Run(tt.ga, func(t *testing.T) {
			p, b := newFakePlatform(), newFakeBus()
			e := testClimate()
			e.AnswerReads = true
			p.setState(climateState("off"))
			h := setupHandler(t, e, p, b)

			if err := h.OnTelegram(context.Background(), knx.NewReadTelegram(ga(tt.ga))); err != nil {
				t.Fatalf("OnTelegram() error = %v", err)
			}
			want := []sent{{ga: ga(tt.ga), payload: tt.want, response: true}}
			if got := b.sends(); !reflect.DeepEqual(got, want) {
				t.Errorf("sends = %+v, want %+v", got, want)
			}
		})
	}
}

func TestClimateTemperatureAddressNeedsAnswerReads(t *testing.T) {
	p, b := newFakePlatform(), newFakeBus()
	setupHandler(t, testClimate(), p, b)

	if b.interested(ga("2/0/1")) {
		t.Error("temperature_address registered without answer_reads")
	}
	for _, a := range []string{"2/0/2", "2/0/4", "2/0/6"} {
		if !b.interested(ga(a)) {
			t.Errorf("command %s not registered", a)
		}
	}
}

func ptr[T any](v T) *T { return &v }
