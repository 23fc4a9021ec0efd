package pdu

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// TransMic is the detached upper-transport MIC, 4 or 8 octets per the
// SZMIC flag.
type TransMic struct {
	bytes []byte
}

// ParseTransMic validates a detached MIC.
func ParseTransMic(data []byte) (TransMic, error) {
	if len(data) != 4 && len(data) != 8 {
		return TransMic{}, fmt.Errorf("transport mic of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	return TransMic{bytes: append([]byte{}, data...)}, nil
}

// Bytes returns the raw MIC.
func (m TransMic) Bytes() []byte { return m.bytes }

// SzMic returns the flag value matching the MIC length.
func (m TransMic) SzMic() mesh.SzMic {
	if len(m.bytes) == 8 {
		return mesh.SzMic64
	}
	return mesh.SzMic32
}

// UpperAccessPDU is the encrypted access payload with its detached MIC,
// either freshly encrypted for sending or reassembled and awaiting
// decryption.
type UpperAccessPDU struct {
	payload  []byte
	transMic TransMic
	meta     UpperMetadata
}

// NewUpperAccess pairs an encrypted payload with its MIC.
func NewUpperAccess(payload []byte, transMic TransMic, meta UpperMetadata) *UpperAccessPDU {
	return &UpperAccessPDU{payload: append([]byte{}, payload...), transMic: transMic, meta: meta}
}

// ParseUpperAccess splits payload and MIC using the SZMIC flag carried in
// the lower-transport framing.
func ParseUpperAccess(data []byte, szmic mesh.SzMic, meta UpperMetadata) (*UpperAccessPDU, error) {
	micSize := szmic.Size()
	if len(data) <= micSize {
		return nil, fmt.Errorf("upper access pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	transMic, err := ParseTransMic(data[len(data)-micSize:])
	if err != nil {
		return nil, err
	}
	return &UpperAccessPDU{
		payload:  append([]byte{}, data[:len(data)-micSize]...),
		transMic: transMic,
		meta:     meta,
	}, nil
}

// Emit returns payload||mic as carried by the lower transport.
func (p *UpperAccessPDU) Emit() []byte {
	out := make([]byte, 0, len(p.payload)+len(p.transMic.bytes))
	out = append(out, p.payload...)
	return append(out, p.transMic.bytes...)
}

func (p *UpperAccessPDU) Payload() []byte           { return p.payload }
func (p *UpperAccessPDU) TransMic() TransMic        { return p.transMic }
func (p *UpperAccessPDU) UpperMeta() *UpperMetadata { return &p.meta }

// UpperControlPDU is a complete control message above segmentation.
type UpperControlPDU struct {
	opcode     ControlOpcode
	parameters []byte
	meta       UpperMetadata
}

// NewUpperControl builds a control message.
func NewUpperControl(opcode ControlOpcode, parameters []byte, meta UpperMetadata) *UpperControlPDU {
	return &UpperControlPDU{opcode: opcode, parameters: append([]byte{}, parameters...), meta: meta}
}

func (p *UpperControlPDU) Opcode() ControlOpcode     { return p.opcode }
func (p *UpperControlPDU) Parameters() []byte        { return p.parameters }
func (p *UpperControlPDU) UpperMeta() *UpperMetadata { return &p.meta }
