package pdu

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// Opcode is a 1, 2 or 3 octet access-layer opcode. The leading bits of the
// first octet encode the length: 0xxxxxxx one octet, 10xxxxxx two octets,
// 11xxxxxx three octets (vendor).
type Opcode struct {
	bytes [3]byte
	size  uint8
}

// OneOctetOpcode builds a single-octet opcode; the top bit must be clear.
func OneOctetOpcode(a byte) (Opcode, error) {
	if a&0x80 != 0 {
		return Opcode{}, fmt.Errorf("one-octet opcode %#02x: %w", a, mesh.ErrInvalidValue)
	}
	return Opcode{bytes: [3]byte{a}, size: 1}, nil
}

// TwoOctetOpcode builds a two-octet opcode; the first octet must carry the
// 10 prefix.
func TwoOctetOpcode(a, b byte) (Opcode, error) {
	if a&0xC0 != 0x80 {
		return Opcode{}, fmt.Errorf("two-octet opcode %#02x: %w", a, mesh.ErrInvalidValue)
	}
	return Opcode{bytes: [3]byte{a, b}, size: 2}, nil
}

// ThreeOctetOpcode builds a vendor opcode; the first octet must carry the
// 11 prefix.
func ThreeOctetOpcode(a, b, c byte) (Opcode, error) {
	if a&0xC0 != 0xC0 {
		return Opcode{}, fmt.Errorf("three-octet opcode %#02x: %w", a, mesh.ErrInvalidValue)
	}
	return Opcode{bytes: [3]byte{a, b, c}, size: 3}, nil
}

// SplitOpcode reads the opcode off the front of a decrypted access payload
// and returns the remaining parameters.
func SplitOpcode(data []byte) (Opcode, []byte, error) {
	switch {
	case len(data) >= 1 && data[0]&0x80 == 0:
		return Opcode{bytes: [3]byte{data[0] & 0x7F}, size: 1}, data[1:], nil
	case len(data) >= 2 && data[0]&0xC0 == 0x80:
		return Opcode{bytes: [3]byte{data[0], data[1]}, size: 2}, data[2:], nil
	case len(data) >= 3 && data[0]&0xC0 == 0xC0:
		return Opcode{bytes: [3]byte{data[0], data[1], data[2]}, size: 3}, data[3:], nil
	default:
		return Opcode{}, nil, fmt.Errorf("access opcode: %w", mesh.ErrInvalidLength)
	}
}

// Len returns the encoded opcode length.
func (o Opcode) Len() int { return int(o.size) }

// Bytes returns the encoded opcode.
func (o Opcode) Bytes() []byte { return o.bytes[:o.size] }

// Matches reports whether data starts with this opcode.
func (o Opcode) Matches(data []byte) bool {
	if len(data) < int(o.size) || o.size == 0 {
		return false
	}
	for i := 0; i < int(o.size); i++ {
		if data[i] != o.bytes[i] {
			return false
		}
	}
	return true
}

// AccessMessage is the fully decoded application message: opcode plus
// parameters, with the metadata a reply needs.
type AccessMessage struct {
	opcode     Opcode
	parameters []byte
	meta       AccessMetadata
}

// NewAccessMessage builds an outbound access message.
func NewAccessMessage(opcode Opcode, parameters []byte, meta AccessMetadata) *AccessMessage {
	return &AccessMessage{opcode: opcode, parameters: append([]byte{}, parameters...), meta: meta}
}

// ParseAccessMessage decodes a decrypted access payload.
func ParseAccessMessage(data []byte, meta AccessMetadata) (*AccessMessage, error) {
	opcode, parameters, err := SplitOpcode(data)
	if err != nil {
		return nil, err
	}
	return &AccessMessage{
		opcode:     opcode,
		parameters: append([]byte{}, parameters...),
		meta:       meta,
	}, nil
}

// Emit encodes opcode||parameters for upper-transport encryption.
func (m *AccessMessage) Emit() []byte {
	out := make([]byte, 0, m.opcode.Len()+len(m.parameters))
	out = append(out, m.opcode.Bytes()...)
	return append(out, m.parameters...)
}

func (m *AccessMessage) Opcode() Opcode              { return m.opcode }
func (m *AccessMessage) Parameters() []byte          { return m.parameters }
func (m *AccessMessage) AccessMeta() *AccessMetadata { return &m.meta }
