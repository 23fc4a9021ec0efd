package pdu

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

const (
	// AccessSegmentSize is the payload capacity of one segmented access
	// lower PDU.
	AccessSegmentSize = 12
	// ControlSegmentSize is the payload capacity of one segmented control
	// lower PDU.
	ControlSegmentSize = 8
	// MaxSegmentIndex bounds SegO and SegN (5 bits each).
	MaxSegmentIndex = 31

	segmentedBit = 0x80
	akfBit       = 0x40
	aidMask      = 0x3F
)

// LowerPDU is one of the four lower-transport framings: access or control,
// segmented or unsegmented.
type LowerPDU interface {
	LowerMeta() *LowerMetadata
	Emit() ([]byte, error)
	lowerPDU()
}

// SegmentedPDU is the segmentation view shared by segmented access and
// control PDUs, used by reassembly.
type SegmentedPDU interface {
	LowerPDU
	SeqZero() mesh.SeqZero
	SegO() uint8
	SegN() uint8
	Segment() []byte
}

// ParseLowerPDU classifies and decodes a transport payload using the CTL
// bit from the network layer and the SEG bit from the payload itself.
func ParseLowerPDU(ctl mesh.CTL, data []byte, meta LowerMetadata) (LowerPDU, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("lower pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	segmented := data[0]&segmentedBit != 0
	switch {
	case ctl == mesh.CtlAccess && !segmented:
		return ParseUnsegmentedAccess(data, meta)
	case ctl == mesh.CtlAccess && segmented:
		return ParseSegmentedAccess(data, meta)
	case !segmented:
		return ParseUnsegmentedControl(data, meta)
	default:
		return ParseSegmentedControl(data, meta)
	}
}

// UnsegmentedAccessPDU carries a complete upper-transport access PDU in a
// single network PDU.
type UnsegmentedAccessPDU struct {
	akf      bool
	aid      uint8
	upperPDU []byte
	meta     LowerMetadata
}

// NewUnsegmentedAccess builds an outbound unsegmented access PDU. akf
// selects application-key protection; aid is ignored when akf is false.
func NewUnsegmentedAccess(akf bool, aid uint8, upperPDU []byte, meta LowerMetadata) (*UnsegmentedAccessPDU, error) {
	if len(upperPDU) > MaxTransportPDU-1 {
		return nil, fmt.Errorf("unsegmented upper pdu of %d bytes: %w", len(upperPDU), mesh.ErrInvalidLength)
	}
	return &UnsegmentedAccessPDU{akf: akf, aid: aid & aidMask, upperPDU: append([]byte{}, upperPDU...), meta: meta}, nil
}

// ParseUnsegmentedAccess decodes the AKF|AID octet and the upper PDU.
func ParseUnsegmentedAccess(data []byte, meta LowerMetadata) (*UnsegmentedAccessPDU, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("unsegmented access pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	return &UnsegmentedAccessPDU{
		akf:      data[0]&akfBit != 0,
		aid:      data[0] & aidMask,
		upperPDU: append([]byte{}, data[1:]...),
		meta:     meta,
	}, nil
}

func (p *UnsegmentedAccessPDU) AKF() bool                 { return p.akf }
func (p *UnsegmentedAccessPDU) AID() uint8                { return p.aid }
func (p *UnsegmentedAccessPDU) UpperPDU() []byte          { return p.upperPDU }
func (p *UnsegmentedAccessPDU) LowerMeta() *LowerMetadata { return &p.meta }
func (p *UnsegmentedAccessPDU) lowerPDU()                 {}

func (p *UnsegmentedAccessPDU) Emit() ([]byte, error) {
	out := make([]byte, 0, 1+len(p.upperPDU))
	out = append(out, akfAidOctet(p.akf, p.aid))
	return append(out, p.upperPDU...), nil
}

// SegmentedAccessPDU carries one 12-octet slice of a longer upper-transport
// access PDU, tagged with its position in the reassembly window.
type SegmentedAccessPDU struct {
	akf     bool
	aid     uint8
	szmic   mesh.SzMic
	seqZero mesh.SeqZero
	segO    uint8
	segN    uint8
	segment []byte
	meta    LowerMetadata
}

// NewSegmentedAccess builds one outbound segment.
func NewSegmentedAccess(akf bool, aid uint8, szmic mesh.SzMic, seqZero mesh.SeqZero, segO, segN uint8, segment []byte, meta LowerMetadata) (*SegmentedAccessPDU, error) {
	if segO > MaxSegmentIndex || segN > MaxSegmentIndex || segO > segN {
		return nil, fmt.Errorf("segment %d of %d: %w", segO, segN, mesh.ErrInvalidValue)
	}
	if len(segment) == 0 || len(segment) > AccessSegmentSize {
		return nil, fmt.Errorf("access segment of %d bytes: %w", len(segment), mesh.ErrInvalidLength)
	}
	return &SegmentedAccessPDU{
		akf: akf, aid: aid & aidMask, szmic: szmic,
		seqZero: seqZero, segO: segO, segN: segN,
		segment: append([]byte{}, segment...), meta: meta,
	}, nil
}

// ParseSegmentedAccess decodes the 4-octet segmentation header and segment.
func ParseSegmentedAccess(data []byte, meta LowerMetadata) (*SegmentedAccessPDU, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("segmented access pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	seqZero, segO, segN := parseSegmentationHeader(data[1], data[2], data[3])
	szmic := mesh.ParseSzMic(data[1] & 0x80)
	return &SegmentedAccessPDU{
		akf:     data[0]&akfBit != 0,
		aid:     data[0] & aidMask,
		szmic:   szmic,
		seqZero: seqZero,
		segO:    segO,
		segN:    segN,
		segment: append([]byte{}, data[4:]...),
		meta:    meta,
	}, nil
}

func (p *SegmentedAccessPDU) AKF() bool                 { return p.akf }
func (p *SegmentedAccessPDU) AID() uint8                { return p.aid }
func (p *SegmentedAccessPDU) SzMic() mesh.SzMic         { return p.szmic }
func (p *SegmentedAccessPDU) SeqZero() mesh.SeqZero     { return p.seqZero }
func (p *SegmentedAccessPDU) SegO() uint8               { return p.segO }
func (p *SegmentedAccessPDU) SegN() uint8               { return p.segN }
func (p *SegmentedAccessPDU) Segment() []byte           { return p.segment }
func (p *SegmentedAccessPDU) LowerMeta() *LowerMetadata { return &p.meta }
func (p *SegmentedAccessPDU) lowerPDU()                 {}

func (p *SegmentedAccessPDU) Emit() ([]byte, error) {
	out := make([]byte, 0, 4+len(p.segment))
	out = append(out, akfAidOctet(p.akf, p.aid)|segmentedBit)
	szmicBit := byte(0)
	if p.szmic == mesh.SzMic64 {
		szmicBit = 0x80
	}
	h0, h1, h2 := emitSegmentationHeader(p.seqZero, p.segO, p.segN)
	out = append(out, szmicBit|h0, h1, h2)
	return append(out, p.segment...), nil
}

// UnsegmentedControlPDU carries a complete control message, opcode plus
// parameters, in a single network PDU.
type UnsegmentedControlPDU struct {
	opcode     ControlOpcode
	parameters []byte
	meta       LowerMetadata
}

// NewUnsegmentedControl builds an outbound control PDU.
func NewUnsegmentedControl(opcode ControlOpcode, parameters []byte, meta LowerMetadata) (*UnsegmentedControlPDU, error) {
	if len(parameters) > MaxTransportPDU-1 {
		return nil, fmt.Errorf("control parameters of %d bytes: %w", len(parameters), mesh.ErrInvalidLength)
	}
	return &UnsegmentedControlPDU{opcode: opcode, parameters: append([]byte{}, parameters...), meta: meta}, nil
}

// ParseUnsegmentedControl decodes the opcode octet and parameters.
func ParseUnsegmentedControl(data []byte, meta LowerMetadata) (*UnsegmentedControlPDU, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("unsegmented control pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	opcode, err := ParseControlOpcode(data[0] & 0x7F)
	if err != nil {
		return nil, err
	}
	return &UnsegmentedControlPDU{
		opcode:     opcode,
		parameters: append([]byte{}, data[1:]...),
		meta:       meta,
	}, nil
}

func (p *UnsegmentedControlPDU) Opcode() ControlOpcode     { return p.opcode }
func (p *UnsegmentedControlPDU) Parameters() []byte        { return p.parameters }
func (p *UnsegmentedControlPDU) LowerMeta() *LowerMetadata { return &p.meta }
func (p *UnsegmentedControlPDU) lowerPDU()                 {}

func (p *UnsegmentedControlPDU) Emit() ([]byte, error) {
	out := make([]byte, 0, 1+len(p.parameters))
	out = append(out, byte(p.opcode)&0x7F)
	return append(out, p.parameters...), nil
}

// SegmentedControlPDU carries one 8-octet slice of a longer control
// message.
type SegmentedControlPDU struct {
	opcode  ControlOpcode
	seqZero mesh.SeqZero
	segO    uint8
	segN    uint8
	segment []byte
	meta    LowerMetadata
}

// NewSegmentedControl builds one outbound control segment.
func NewSegmentedControl(opcode ControlOpcode, seqZero mesh.SeqZero, segO, segN uint8, segment []byte, meta LowerMetadata) (*SegmentedControlPDU, error) {
	if segO > MaxSegmentIndex || segN > MaxSegmentIndex || segO > segN {
		return nil, fmt.Errorf("segment %d of %d: %w", segO, segN, mesh.ErrInvalidValue)
	}
	if len(segment) == 0 || len(segment) > ControlSegmentSize {
		return nil, fmt.Errorf("control segment of %d bytes: %w", len(segment), mesh.ErrInvalidLength)
	}
	return &SegmentedControlPDU{
		opcode: opcode, seqZero: seqZero, segO: segO, segN: segN,
		segment: append([]byte{}, segment...), meta: meta,
	}, nil
}

// ParseSegmentedControl decodes the segmentation header and segment.
func ParseSegmentedControl(data []byte, meta LowerMetadata) (*SegmentedControlPDU, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("segmented control pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	opcode, err := ParseControlOpcode(data[0] & 0x7F)
	if err != nil {
		return nil, err
	}
	seqZero, segO, segN := parseSegmentationHeader(data[1], data[2], data[3])
	return &SegmentedControlPDU{
		opcode:  opcode,
		seqZero: seqZero,
		segO:    segO,
		segN:    segN,
		segment: append([]byte{}, data[4:]...),
		meta:    meta,
	}, nil
}

func (p *SegmentedControlPDU) Opcode() ControlOpcode     { return p.opcode }
func (p *SegmentedControlPDU) SeqZero() mesh.SeqZero     { return p.seqZero }
func (p *SegmentedControlPDU) SegO() uint8               { return p.segO }
func (p *SegmentedControlPDU) SegN() uint8               { return p.segN }
func (p *SegmentedControlPDU) Segment() []byte           { return p.segment }
func (p *SegmentedControlPDU) LowerMeta() *LowerMetadata { return &p.meta }
func (p *SegmentedControlPDU) lowerPDU()                 {}

func (p *SegmentedControlPDU) Emit() ([]byte, error) {
	out := make([]byte, 0, 4+len(p.segment))
	out = append(out, byte(p.opcode)&0x7F|segmentedBit)
	h0, h1, h2 := emitSegmentationHeader(p.seqZero, p.segO, p.segN)
	out = append(out, h0, h1, h2)
	return append(out, p.segment...), nil
}

func akfAidOctet(akf bool, aid uint8) byte {
	if !akf {
		return 0
	}
	return akfBit | aid&aidMask
}

// parseSegmentationHeader unpacks SeqZero (13 bits), SegO and SegN (5 bits
// each) from the three octets following the first.
func parseSegmentationHeader(b1, b2, b3 byte) (mesh.SeqZero, uint8, uint8) {
	seqZero := mesh.SeqZero(uint16(b1&0x7F)<<6 | uint16(b2&0xFC)>>2)
	segO := (b2&0x03)<<3 | b3>>5
	segN := b3 & 0x1F
	return seqZero, segO, segN
}

func emitSegmentationHeader(seqZero mesh.SeqZero, segO, segN uint8) (byte, byte, byte) {
	h0 := byte(uint16(seqZero)>>6) & 0x7F
	h1 := byte(uint16(seqZero)&0x3F)<<2 | (segO&0x18)>>3
	h2 := (segO&0x07)<<5 | segN&0x1F
	return h0, h1, h2
}
