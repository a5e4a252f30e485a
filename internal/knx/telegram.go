package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// eibd/knxd protocol message types.
const (
	// MsgOpenGroupCon opens a group socket for bidirectional group
	// communication. Payload: reserved(1) + write_only(1) + reserved(1).
	MsgOpenGroupCon uint16 = 0x0026

	// MsgGroupPacket carries a group telegram in either direction.
	MsgGroupPacket uint16 = 0x0027

	// MsgClose closes the gateway connection gracefully.
	MsgClose uint16 = 0x0006
)

// APCI codes identifying the kind of group communication.
const (
	APCIRead     byte = 0x00 // group read request
	APCIResponse byte = 0x40 // answer to a read request
	APCIWrite    byte = 0x80 // group value write
)

// frameHeaderSize is the gateway message header: size(2) + type(2).
const frameHeaderSize = 4

// Telegram is a single KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"). Populated on
	// received telegrams only.
	Source string

	// Destination is the target group address.
	Destination GroupAddress

	// APCI is the telegram kind (read, response, write).
	APCI byte

	// Data is the DPT-encoded payload. Empty for read requests.
	Data []byte

	// Timestamp records when the telegram was received or created.
	Timestamp time.Time
}

// ParseTelegram decodes the payload of a received MsgGroupPacket.
//
// Receive layout (group socket):
//
//	Byte 0-1: source individual address (big-endian)
//	Byte 2-3: destination group address (big-endian)
//	Byte 4:   TPCI (0x00 for group traffic)
//	Byte 5:   APCI high bits | 6-bit value for short frames
//	Byte 6+:  data bytes for long frames
//
// The send layout has no source prefix; the asymmetry is part of the
// gateway protocol.
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < 6 {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need at least 6", ErrInvalidTelegram, len(data))
	}

	source := formatIndividualAddress(binary.BigEndian.Uint16(data[0:2]))
	dest := GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4]))
	apci := data[5] & 0xC0

	var payload []byte
	if len(data) > 6 {
		payload = make([]byte, len(data)-6)
		copy(payload, data[6:])
	} else if apci == APCIWrite || apci == APCIResponse {
		// Short frame: value rides in the low 6 bits of the APCI byte.
		payload = []byte{data[5] & 0x3F}
	}

	return Telegram{
		Source:      source,
		Destination: dest,
		APCI:        apci,
		Data:        payload,
		Timestamp:   time.Now(),
	}, nil
}

// formatIndividualAddress renders a 16-bit individual address as "area.line.device".
func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode produces the send payload for a MsgGroupPacket on a group socket:
// GA(2) + APDU. Values of at most 6 bits ride in the APCI byte (short
// frame); larger payloads follow the APCI byte (long frame).
func (t Telegram) Encode() []byte {
	smallData := len(t.Data) == 1 && t.Data[0] <= 0x3F

	if len(t.Data) == 0 || smallData {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[2] = 0x00 // TPCI
		buf[3] = t.APCI
		if smallData {
			buf[3] |= t.Data[0] & 0x3F
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[2] = 0x00
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// IsWrite reports whether this is a group write.
func (t Telegram) IsWrite() bool { return t.APCI == APCIWrite }

// IsRead reports whether this is a group read request.
func (t Telegram) IsRead() bool { return t.APCI == APCIRead }

// IsResponse reports whether this is a group read response.
func (t Telegram) IsResponse() bool { return t.APCI == APCIResponse }

// String returns a readable form for logging.
func (t Telegram) String() string {
	kind := "UNKNOWN"
	switch t.APCI {
	case APCIRead:
		kind = "READ"
	case APCIResponse:
		kind = "RESPONSE"
	case APCIWrite:
		kind = "WRITE"
	}
	return fmt.Sprintf("Telegram{GA:%s, APCI:%s, Data:%X}", t.Destination, kind, t.Data)
}

// NewWriteTelegram builds a group write telegram.
func NewWriteTelegram(dest GroupAddress, data []byte) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIWrite,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

// NewReadTelegram builds a group read request telegram.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIRead,
		Timestamp:   time.Now(),
	}
}

// EncodeFrame wraps a payload in the gateway message framing:
//
//	Byte 0-1: size (big-endian) = type(2) + payload length
//	Byte 2-3: message type (big-endian)
//	Byte 4+:  payload
//
// The size field does not count itself.
func EncodeFrame(msgType uint16, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload)))
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseFrame splits a complete gateway message into type and payload.
func ParseFrame(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, have %d)",
			ErrInvalidTelegram, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > frameHeaderSize {
		payload = data[frameHeaderSize:]
	}
	return msgType, payload, nil
}
