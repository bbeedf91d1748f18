package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd protocol message types.
const (
	// EIBOpenGroupCon opens a group socket able to send to and receive from
	// every group address. Payload: reserved(1) + write_only(1) + reserved(1).
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram in either direction.
	EIBGroupPacket uint16 = 0x0027

	// EIBClose closes the knxd connection.
	EIBClose uint16 = 0x0006
)

// APCI (Application Protocol Control Information) codes for group services.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

const (
	// knxdHeaderSize is size(2) + type(2).
	knxdHeaderSize = 4

	// groupPacketRecvMin is src(2) + GA(2) + TPCI(1) + APCI(1).
	groupPacketRecvMin = 6

	apciMask      = 0xC0
	smallDataMask = 0x3F
)

// Payload is the application data of a group telegram.
//
// Datapoint types up to 6 bits wide (DPT 1, 2, 3) travel inside the APCI
// octet and are marked Small. Everything else follows the APCI octet as
// separate bytes, even when the value itself would fit into 6 bits.
type Payload struct {
	Data  []byte
	Small bool
}

// SmallPayload returns a payload carried in the APCI octet.
func SmallPayload(v byte) Payload {
	return Payload{Data: []byte{v & smallDataMask}, Small: true}
}

// BytesPayload returns a payload carried after the APCI octet.
func BytesPayload(b ...byte) Payload {
	return Payload{Data: b}
}

// Len returns the number of data bytes.
func (p Payload) Len() int { return len(p.Data) }

// Equal reports whether two payloads encode to the same frame.
func (p Payload) Equal(other Payload) bool {
	if p.Small != other.Small || len(p.Data) != len(other.Data) {
		return false
	}
	for i := range p.Data {
		if p.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

func (p Payload) String() string {
	if p.Small {
		return fmt.Sprintf("small:%X", p.Data)
	}
	return fmt.Sprintf("%X", p.Data)
}

// Telegram is a KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"); empty when outgoing.
	Source string

	Destination GroupAddress
	APCI        byte
	Payload     Payload
	Timestamp   time.Time
}

// ParseTelegram parses the payload of an EIB_GROUP_PACKET received on a
// GROUPCON socket:
//
//	Byte 0-1: source individual address
//	Byte 2-3: destination group address
//	Byte 4:   TPCI
//	Byte 5:   APCI (upper 2 bits) | small data (lower 6 bits)
//	Byte 6+:  data for long frames
//
// The receive format carries a source address that the send format omits.
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketRecvMin {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrInvalidTelegram, len(data), groupPacketRecvMin)
	}

	source := formatIndividualAddress(binary.BigEndian.Uint16(data[0:2]))
	dest := GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4]))
	apci := data[5] & apciMask

	var payload Payload
	switch {
	case len(data) > groupPacketRecvMin:
		payload.Data = append([]byte(nil), data[groupPacketRecvMin:]...)
	case apci == APCIWrite || apci == APCIResponse:
		payload = SmallPayload(data[5])
	}

	return Telegram{
		Source:      source,
		Destination: dest,
		APCI:        apci,
		Payload:     payload,
		Timestamp:   time.Now(),
	}, nil
}

func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode encodes the telegram for sending on a GROUPCON socket:
//
//	Byte 0-1: destination group address
//	Byte 2:   TPCI
//	Byte 3:   APCI | small data
//	Byte 4+:  data for long frames
func (t Telegram) Encode() []byte {
	if t.Payload.Small || len(t.Payload.Data) == 0 {
		buf := make([]byte, knxdHeaderSize)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[3] = t.APCI
		if len(t.Payload.Data) > 0 {
			buf[3] |= t.Payload.Data[0] & smallDataMask
		}
		return buf
	}

	buf := make([]byte, knxdHeaderSize+len(t.Payload.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	copy(buf[knxdHeaderSize:], t.Payload.Data)
	return buf
}

// EncodeReceived encodes the telegram in the receive format, including the
// source address. knxd produces this format; it is exported for simulators
// and tests.
func (t Telegram) EncodeReceived(source uint16) []byte {
	sent := t.Encode()
	buf := make([]byte, 2+len(sent))
	binary.BigEndian.PutUint16(buf[0:2], source)
	copy(buf[2:], sent)
	return buf
}

// IsWrite reports whether this is a GroupValue_Write.
func (t Telegram) IsWrite() bool { return t.APCI == APCIWrite }

// IsRead reports whether this is a GroupValue_Read.
func (t Telegram) IsRead() bool { return t.APCI == APCIRead }

// IsResponse reports whether this is a GroupValue_Response.
func (t Telegram) IsResponse() bool { return t.APCI == APCIResponse }

// Type returns "write", "read", "response" or "unknown".
func (t Telegram) Type() string {
	switch t.APCI {
	case APCIWrite:
		return "write"
	case APCIRead:
		return "read"
	case APCIResponse:
		return "response"
	default:
		return "unknown"
	}
}

func (t Telegram) String() string {
	return fmt.Sprintf("Telegram{GA:%s, %s, Data:%s}", t.Destination, t.Type(), t.Payload)
}

// NewWriteTelegram creates a GroupValue_Write.
func NewWriteTelegram(dest GroupAddress, p Payload) Telegram {
	return Telegram{Destination: dest, APCI: APCIWrite, Payload: p, Timestamp: time.Now()}
}

// NewResponseTelegram creates a GroupValue_Response answering a read.
func NewResponseTelegram(dest GroupAddress, p Payload) Telegram {
	return Telegram{Destination: dest, APCI: APCIResponse, Payload: p, Timestamp: time.Now()}
}

// NewReadTelegram creates a GroupValue_Read.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{Destination: dest, APCI: APCIRead, Timestamp: time.Now()}
}

// EncodeKNXDMessage frames a payload for the knxd socket. The size field
// counts the type and payload but not itself.
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by frame size
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[knxdHeaderSize:], payload)
	return buf
}

// ParseKNXDMessage splits a framed knxd message into type and payload.
func ParseKNXDMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, actual %d)",
			ErrInvalidTelegram, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
