package pdu

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// ErrInvalidBlock indicates a segment index outside 0..31.
var ErrInvalidBlock = errors.New("invalid block")

// blockAckParameterSize is the wire size of the Segment Acknowledgement
// parameters: OBO|SeqZero (2 octets) plus the 32-bit block.
const blockAckParameterSize = 6

// BlockAck tracks which segments of one segmented message have been
// received, keyed by the message's SeqZero.
type BlockAck struct {
	bits    uint32
	seqZero mesh.SeqZero
}

// NewBlockAck starts an empty acknowledgement for a reassembly window.
func NewBlockAck(seqZero mesh.SeqZero) BlockAck {
	return BlockAck{seqZero: seqZero}
}

// ParseBlockAck decodes Segment Acknowledgement parameters.
func ParseBlockAck(parameters []byte) (BlockAck, error) {
	s := cryptobyte.String(parameters)
	var header uint16
	var bits uint32
	if len(parameters) != blockAckParameterSize || !s.ReadUint16(&header) || !s.ReadUint32(&bits) {
		return BlockAck{}, fmt.Errorf("block ack parameters of %d bytes: %w", len(parameters), mesh.ErrInvalidLength)
	}
	seqZero, err := mesh.ParseSeqZero(header >> 2 & 0x1FFF)
	if err != nil {
		return BlockAck{}, err
	}
	return BlockAck{bits: bits, seqZero: seqZero}, nil
}

// Emit encodes the Segment Acknowledgement parameters.
func (b BlockAck) Emit() [blockAckParameterSize]byte {
	var out [blockAckParameterSize]byte
	out[0] = byte(uint16(b.seqZero)>>6) & 0x7F
	out[1] = byte(uint16(b.seqZero)&0x3F) << 2
	out[2] = byte(b.bits >> 24)
	out[3] = byte(b.bits >> 16)
	out[4] = byte(b.bits >> 8)
	out[5] = byte(b.bits)
	return out
}

// Ack records receipt of a segment.
func (b *BlockAck) Ack(segO uint8) error {
	if segO > MaxSegmentIndex {
		return fmt.Errorf("segment %d: %w", segO, ErrInvalidBlock)
	}
	b.bits |= 1 << segO
	return nil
}

// IsAcked reports whether a segment has been received.
func (b BlockAck) IsAcked(segO uint8) (bool, error) {
	if segO > MaxSegmentIndex {
		return false, fmt.Errorf("segment %d: %w", segO, ErrInvalidBlock)
	}
	return b.bits&(1<<segO) != 0, nil
}

// IsFullyAcked reports whether every segment up to and including segN has
// been received.
func (b BlockAck) IsFullyAcked(segN uint8) bool {
	if segN > MaxSegmentIndex {
		return false
	}
	for i := uint8(0); i <= segN; i++ {
		if b.bits&(1<<i) == 0 {
			return false
		}
	}
	return true
}

// AckedSegments lists the received segment indices in ascending order.
func (b BlockAck) AckedSegments() []uint8 {
	var out []uint8
	for i := uint8(0); i <= MaxSegmentIndex; i++ {
		if b.bits&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Value returns the raw 32-bit block.
func (b BlockAck) Value() uint32 { return b.bits }

// SeqZero returns the reassembly window this acknowledgement belongs to.
func (b BlockAck) SeqZero() mesh.SeqZero { return b.seqZero }
