package knx

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseGroupAddress(t *testing.T) {
	want := GroupAddress{Main: 1, Middle: 2, Sub: 3}

	tests := []struct {
		name    string
		input   string
		want    GroupAddress
		wantErr bool
	}{
		{"3-level", "1/2/3", want, false},
		{"dotted", "1.2.3", want, false},
		{"2-level", "1/515", want, false},
		{"raw 16-bit", "2563", want, false},
		{"surrounding whitespace", "  1/2/3 ", want, false},
		{"maximum", "31/7/255", GroupAddress{Main: 31, Middle: 7, Sub: 255}, false},
		{"zero", "0/0/0", GroupAddress{}, false},
		{"main out of range", "32/0/0", GroupAddress{}, true},
		{"middle out of range", "0/8/0", GroupAddress{}, true},
		{"sub out of range", "0/0/256", GroupAddress{}, true},
		{"2-level sub out of range", "1/2048", GroupAddress{}, true},
		{"2-level dotted", "1.515", GroupAddress{}, true},
		{"raw out of range", "65536", GroupAddress{}, true},
		{"too many levels", "1/2/3/4", GroupAddress{}, true},
		{"not numeric", "a/b/c", GroupAddress{}, true},
		{"negative", "-1/2/3", GroupAddress{}, true},
		{"empty", "", GroupAddress{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGroupAddress) {
					t.Errorf("ParseGroupAddress(%q) error = %v, want ErrInvalidGroupAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseGroupAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGroupAddressUint16(t *testing.T) {
	tests := []struct {
		ga   GroupAddress
		want uint16
	}{
		{GroupAddress{1, 2, 3}, 0x0A03},
		{GroupAddress{31, 7, 255}, 0xFFFF},
		{GroupAddress{0, 0, 1}, 0x0001},
		{GroupAddress{5, 0, 1}, 0x2801},
	}

	for _, tt := range tests {
		if got := tt.ga.ToUint16(); got != tt.want {
			t.Errorf("%v.ToUint16() = 0x%04X, want 0x%04X", tt.ga, got, tt.want)
		}
		if back := GroupAddressFromUint16(tt.want); back != tt.ga {
			t.Errorf("GroupAddressFromUint16(0x%04X) = %v, want %v", tt.want, back, tt.ga)
		}
	}
}

func TestGroupAddressText(t *testing.T) {
	var decoded struct {
		GA GroupAddress `json:"ga"`
	}
	if err := json.Unmarshal([]byte(`{"ga":"4/1/10"}`), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.GA != (GroupAddress{4, 1, 10}) {
		t.Errorf("GA = %v, want 4/1/10", decoded.GA)
	}

	out, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"ga":"4/1/10"}` {
		t.Errorf("Marshal = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"ga":"99/0/0"}`), &decoded); err == nil {
		t.Error("Unmarshal of invalid address expected error")
	}
}

func TestMustParseGroupAddressPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParseGroupAddress did not panic on invalid input")
		}
	}()
	MustParseGroupAddress("not/an/address")
}
