package entity

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		id        string
		want      Category
		supported bool
		wantErr   bool
	}{
		{"light.kitchen", CategoryLight, true, false},
		{"climate.living_room", CategoryClimate, true, false},
		{"binary_sensor.door", CategoryBinarySensor, true, false},
		{"sensor.outdoor_temp", CategorySensor, true, false},
		{"switch.pump", Category("switch"), false, false},
		{"light", "", false, true},
		{"light.", "", false, true},
		{".kitchen", "", false, true},
		{"Light.Kitchen", "", false, true},
		{"light.kitchen.extra", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := CategoryOf(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CategoryOf(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CategoryOf(%q) = %q, want %q", tt.id, got, tt.want)
			}
			if !tt.wantErr && got.Supported() != tt.supported {
				t.Errorf("%q.Supported() = %v, want %v", got, got.Supported(), tt.supported)
			}
		})
	}
}

func TestAddressListYAML(t *testing.T) {
	input := `
light.kitchen:
  address: "1/0/1, 1/0/2 ,,"
  state_address:
    - 1/1/1
    - " 1/1/2 "
  brightness_address: ~
  answer_reads: true
`
	var raw map[string]Entity
	if err := yaml.Unmarshal([]byte(input), &raw); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	set := NewSet(raw)

	e := set["light.kitchen"]
	if e.ID != "light.kitchen" || !e.AnswerReads {
		t.Errorf("entity = %+v", e)
	}
	if want := (AddressList{"1/0/1", "1/0/2"}); !reflect.DeepEqual(e.Address, want) {
		t.Errorf("Address = %#v, want %#v", e.Address, want)
	}
	if want := (AddressList{"1/1/1", "1/1/2"}); !reflect.DeepEqual(e.StateAddress, want) {
		t.Errorf("StateAddress = %#v, want %#v", e.StateAddress, want)
	}
	if e.BrightnessAddress == nil || len(e.BrightnessAddress) != 0 {
		t.Errorf("BrightnessAddress = %#v, want empty non-nil", e.BrightnessAddress)
	}
	if e.ColorStateAddress == nil {
		t.Error("unset list not normalized to empty")
	}
}

func TestAddressListJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  AddressList
	}{
		{"string", `{"address":"1/0/1,1/0/2"}`, AddressList{"1/0/1", "1/0/2"}},
		{"list", `{"address":["1/0/1"," 1/0/2"]}`, AddressList{"1/0/1", "1/0/2"}},
		{"empty string", `{"address":""}`, AddressList{}},
		{"null", `{"address":null}`, AddressList{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Entity
			if err := json.Unmarshal([]byte(tt.input), &e); err != nil {
				t.Fatalf("json.Unmarshal: %v", err)
			}
			e.Normalize()
			if !reflect.DeepEqual(e.Address, tt.want) {
				t.Errorf("Address = %#v, want %#v", e.Address, tt.want)
			}
		})
	}

	var e Entity
	if err := json.Unmarshal([]byte(`{"address":42}`), &e); err == nil {
		t.Error("numeric address list expected error")
	}
}

func TestEntityValidate(t *testing.T) {
	tests := []struct {
		name     string
		entity   Entity
		wantErr  error
		contains string
	}{
		{
			name:   "valid light",
			entity: Entity{ID: "light.kitchen", Address: AddressList{"1/0/1"}, BrightnessStateAddress: AddressList{"1/2/1"}, ZeroBrightnessWhenOff: true},
		},
		{
			name:   "valid climate",
			entity: Entity{ID: "climate.office", TargetTemperatureAddress: AddressList{"3/0/1"}, ControllerModeStateAddress: AddressList{"3/0/5"}},
		},
		{
			name:   "valid sensor",
			entity: Entity{ID: "sensor.outdoor", StateAddress: AddressList{"4/0/1", "4/0/2"}},
		},
		{
			name:    "malformed id",
			entity:  Entity{ID: "kitchen"},
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "unsupported category",
			entity:  Entity{ID: "switch.pump", Address: AddressList{"1/0/1"}},
			wantErr: ErrUnsupportedCategory,
		},
		{
			name:     "bad address",
			entity:   Entity{ID: "light.kitchen", Address: AddressList{"1/0/999"}},
			wantErr:  ErrInvalidEntity,
			contains: "address",
		},
		{
			name:     "foreign field",
			entity:   Entity{ID: "binary_sensor.door", Address: AddressList{"1/0/1"}},
			wantErr:  ErrInvalidEntity,
			contains: "address is not valid for binary_sensor",
		},
		{
			name:     "brightness on sensor",
			entity:   Entity{ID: "sensor.outdoor", BrightnessStateAddress: AddressList{"4/0/3"}},
			wantErr:  ErrInvalidEntity,
			contains: "brightness_state_address is not valid for sensor",
		},
		{
			name:     "colour on binary sensor",
			entity:   Entity{ID: "binary_sensor.door", ColorStateAddress: AddressList{"4/0/4"}},
			wantErr:  ErrInvalidEntity,
			contains: "color_state_address is not valid for binary_sensor",
		},
		{
			name:     "zero brightness flag on sensor",
			entity:   Entity{ID: "sensor.outdoor", StateAddress: AddressList{"4/0/1"}, ZeroBrightnessWhenOff: true},
			wantErr:  ErrInvalidEntity,
			contains: "zero_brightness_when_off",
		},
		{
			name:     "zero brightness flag on climate",
			entity:   Entity{ID: "climate.office", ZeroBrightnessWhenOff: true},
			wantErr:  ErrInvalidEntity,
			contains: "zero_brightness_when_off",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.contains)
			}
		})
	}
}

func TestEntityValidateReportsAllProblems(t *testing.T) {
	e := Entity{
		ID:                 "light.kitchen",
		Address:            AddressList{"bad"},
		TemperatureAddress: AddressList{"1/0/1"},
	}
	err := e.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"address: ", "temperature_address is not valid"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestEntityAddresses(t *testing.T) {
	e := Entity{
		ID:                     "light.kitchen",
		Address:                AddressList{"1/0/1"},
		StateAddress:           AddressList{"1/1/1", "1/0/1"},
		BrightnessStateAddress: AddressList{"1/2/1"},
	}
	want := []string{"1/0/1", "1/1/1", "1/2/1"}
	if got := e.Addresses(); !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses() = %v, want %v", got, want)
	}
}

func TestSetValidate(t *testing.T) {
	set := NewSet(map[string]Entity{
		"light.a":  {Address: AddressList{"1/0/1"}},
		"switch.b": {},
	})
	if err := set.Validate(); !errors.Is(err, ErrUnsupportedCategory) {
		t.Errorf("Validate() error = %v, want ErrUnsupportedCategory", err)
	}

	set["light.c"] = Entity{ID: "light.other"}
	if err := set.Validate(); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Validate() error = %v, want ErrInvalidEntity for mismatched key", err)
	}

	if ids := set.IDs(); !reflect.DeepEqual(ids, []string{"light.a", "light.c", "switch.b"}) {
		t.Errorf("IDs() = %v", ids)
	}
}
