package knx

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseTelegram(t *testing.T) {
	ga123 := GroupAddress{Main: 1, Middle: 2, Sub: 3}

	tests := []struct {
		name       string
		data       []byte
		wantSource string
		wantAPCI   byte
		wantData   Payload
		wantErr    bool
	}{
		{
			name: "small write true",
			// src=1.1.1(0x1101), GA 1/2/3=0x0A03, TPCI=0x00, APCI write|1=0x81
			data:       []byte{0x11, 0x01, 0x0A, 0x03, 0x00, 0x81},
			wantSource: "1.1.1",
			wantAPCI:   APCIWrite,
			wantData:   SmallPayload(0x01),
		},
		{
			name:       "small write false",
			data:       []byte{0x11, 0x01, 0x0A, 0x03, 0x00, 0x80},
			wantSource: "1.1.1",
			wantAPCI:   APCIWrite,
			wantData:   SmallPayload(0x00),
		},
		{
			name: "long write of a value that fits 6 bits",
			// DPT5 value 1 still travels in a data byte
			data:       []byte{0x11, 0x02, 0x0A, 0x03, 0x00, 0x80, 0x01},
			wantSource: "1.1.2",
			wantAPCI:   APCIWrite,
			wantData:   BytesPayload(0x01),
		},
		{
			name:       "read",
			data:       []byte{0x00, 0x01, 0x0A, 0x03, 0x00, 0x00},
			wantSource: "0.0.1",
			wantAPCI:   APCIRead,
			wantData:   Payload{},
		},
		{
			name:       "small response",
			data:       []byte{0x11, 0x04, 0x0A, 0x03, 0x00, 0x41},
			wantSource: "1.1.4",
			wantAPCI:   APCIResponse,
			wantData:   SmallPayload(0x01),
		},
		{
			name:       "long write DPT9",
			data:       []byte{0x11, 0x04, 0x0A, 0x03, 0x00, 0x80, 0x0C, 0x33},
			wantSource: "1.1.4",
			wantAPCI:   APCIWrite,
			wantData:   BytesPayload(0x0C, 0x33),
		},
		{name: "too short", data: []byte{0x11, 0x01, 0x0A, 0x03, 0x00}, wantErr: true},
		{name: "empty", data: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTelegram(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTelegram) {
					t.Errorf("ParseTelegram() error = %v, want ErrInvalidTelegram", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTelegram() unexpected error: %v", err)
			}

			if got.Destination != ga123 {
				t.Errorf("Destination = %v, want %v", got.Destination, ga123)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", got.Source, tt.wantSource)
			}
			if got.APCI != tt.wantAPCI {
				t.Errorf("APCI = 0x%02X, want 0x%02X", got.APCI, tt.wantAPCI)
			}
			if !got.Payload.Equal(tt.wantData) {
				t.Errorf("Payload = %v, want %v", got.Payload, tt.wantData)
			}
		})
	}
}

func TestTelegramEncode(t *testing.T) {
	ga := MustParseGroupAddress("1/2/3")
	temp, err := EncodeDPT9(21.5)
	if err != nil {
		t.Fatalf("EncodeDPT9: %v", err)
	}

	tests := []struct {
		name     string
		telegram Telegram
		want     []byte
	}{
		{"switch on", NewWriteTelegram(ga, EncodeDPT1(true)), []byte{0x0A, 0x03, 0x00, 0x81}},
		{"switch off", NewWriteTelegram(ga, EncodeDPT1(false)), []byte{0x0A, 0x03, 0x00, 0x80}},
		{"brightness 1 stays long", NewWriteTelegram(ga, EncodeDPT5(1)), []byte{0x0A, 0x03, 0x00, 0x80, 0x01}},
		{"read", NewReadTelegram(ga), []byte{0x0A, 0x03, 0x00, 0x00}},
		{"response temperature", NewResponseTelegram(ga, temp), []byte{0x0A, 0x03, 0x00, 0x40, 0x0C, 0x33}},
		{"rgb", NewWriteTelegram(ga, EncodeDPT232(RGB{1, 2, 3})), []byte{0x0A, 0x03, 0x00, 0x80, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.telegram.Encode(); !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestTelegramEncodeReceivedRoundTrip(t *testing.T) {
	original := NewWriteTelegram(MustParseGroupAddress("3/0/5"), EncodeDPT5(200))

	parsed, err := ParseTelegram(original.EncodeReceived(0x1105))
	if err != nil {
		t.Fatalf("ParseTelegram: %v", err)
	}
	if parsed.Source != "1.1.5" || parsed.Destination != original.Destination || !parsed.IsWrite() {
		t.Errorf("parsed = %v from %q", parsed, parsed.Source)
	}
	if !parsed.Payload.Equal(original.Payload) {
		t.Errorf("Payload = %v, want %v", parsed.Payload, original.Payload)
	}
}

func TestTelegramType(t *testing.T) {
	tests := []struct {
		apci byte
		want string
	}{
		{APCIWrite, "write"},
		{APCIRead, "read"},
		{APCIResponse, "response"},
		{0xC0, "unknown"},
	}
	for _, tt := range tests {
		if got := (Telegram{APCI: tt.apci}).Type(); got != tt.want {
			t.Errorf("Type() for 0x%02X = %q, want %q", tt.apci, got, tt.want)
		}
	}
}

func TestKNXDMessage(t *testing.T) {
	msg := EncodeKNXDMessage(EIBGroupPacket, []byte{0x0A, 0x03, 0x00, 0x81})
	want := []byte{0x00, 0x06, 0x00, 0x27, 0x0A, 0x03, 0x00, 0x81}
	if !bytes.Equal(msg, want) {
		t.Fatalf("EncodeKNXDMessage() = %X, want %X", msg, want)
	}

	msgType, payload, err := ParseKNXDMessage(msg)
	if err != nil {
		t.Fatalf("ParseKNXDMessage: %v", err)
	}
	if msgType != EIBGroupPacket || !bytes.Equal(payload, want[4:]) {
		t.Errorf("ParseKNXDMessage() = 0x%04X %X", msgType, payload)
	}

	open := EncodeKNXDMessage(EIBOpenGroupCon, nil)
	if !bytes.Equal(open, []byte{0x00, 0x02, 0x00, 0x26}) {
		t.Errorf("EncodeKNXDMessage(open, nil) = %X", open)
	}

	if _, _, err := ParseKNXDMessage([]byte{0x00, 0x09, 0x00, 0x27, 0x00}); !errors.Is(err, ErrInvalidTelegram) {
		t.Errorf("size mismatch error = %v, want ErrInvalidTelegram", err)
	}
	if _, _, err := ParseKNXDMessage([]byte{0x00}); err == nil {
		t.Error("short message expected error")
	}
}

func TestPayloadEqual(t *testing.T) {
	if SmallPayload(1).Equal(BytesPayload(1)) {
		t.Error("small and long payloads with the same byte must differ")
	}
	if !BytesPayload(1, 2).Equal(BytesPayload(1, 2)) {
		t.Error("identical payloads must be equal")
	}
	if SmallPayload(0xFF).Data[0] != 0x3F {
		t.Error("SmallPayload must mask to 6 bits")
	}
}
