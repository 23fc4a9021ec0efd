package mesh

import (
	"errors"
	"fmt"
)

// Parse errors.
var (
	ErrInvalidLength = errors.New("invalid length")
	ErrInvalidValue  = errors.New("invalid value")
)

// SeqMax is the largest representable sequence number (24 bits).
const SeqMax = 0xFFFFFF

// Seq is a 24-bit per-node monotonic sequence number, held in a uint32.
type Seq uint32

// ParseSeq validates a sequence number against the 24-bit range.
func ParseSeq(v uint32) (Seq, error) {
	if v > SeqMax {
		return 0, fmt.Errorf("sequence %#x: %w", v, ErrInvalidValue)
	}
	return Seq(v), nil
}

// Bytes returns the big-endian 3-octet encoding used in nonces and headers.
func (s Seq) Bytes() [3]byte {
	return [3]byte{byte(s >> 16), byte(s >> 8), byte(s)}
}

// SeqZero returns the 13-bit SeqZero derived from this sequence number,
// identifying the segmented message this sequence belongs to.
func (s Seq) SeqZero() SeqZero {
	return SeqZero(s & 0x1FFF)
}

// SeqZero is the 13-bit sequence-window identifier carried by segmented
// lower-transport PDUs.
type SeqZero uint16

// ParseSeqZero validates a SeqZero against the 13-bit range.
func ParseSeqZero(v uint16) (SeqZero, error) {
	if v > 0x1FFF {
		return 0, fmt.Errorf("seqzero %#x: %w", v, ErrInvalidValue)
	}
	return SeqZero(v), nil
}

// IVI is the single IV-index low bit carried in the network PDU header.
type IVI uint8

// ParseIVI validates the IVI bit.
func ParseIVI(v uint8) (IVI, error) {
	if v > 1 {
		return 0, fmt.Errorf("ivi %d: %w", v, ErrInvalidValue)
	}
	return IVI(v), nil
}

// IvUpdateFlag reports whether an IV-index update procedure is in progress.
type IvUpdateFlag bool

const (
	IvUpdateNormal     IvUpdateFlag = false
	IvUpdateInProgress IvUpdateFlag = true
)

// IvIndex is the network-wide 32-bit epoch counter.
type IvIndex uint32

// ParseIvIndex decodes a big-endian 4-octet IV index.
func ParseIvIndex(data []byte) (IvIndex, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("iv index: %w", ErrInvalidLength)
	}
	return IvIndex(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])), nil
}

// Bytes returns the big-endian 4-octet encoding.
func (iv IvIndex) Bytes() [4]byte {
	return [4]byte{byte(iv >> 24), byte(iv >> 16), byte(iv >> 8), byte(iv)}
}

// IVI returns the low bit of the IV index as carried in network PDUs.
func (iv IvIndex) IVI() IVI {
	return IVI(iv & 1)
}

// Accepted returns the IV index to use when receiving a PDU whose header
// carries the given IVI bit: the current index if the bits match, else the
// previous one (transition window). The index never goes below zero.
func (iv IvIndex) Accepted(ivi IVI) IvIndex {
	if iv.IVI() == ivi {
		return iv
	}
	return iv.prev()
}

// Transmission returns the IV index to use for outbound PDUs, which is the
// previous index while an IV update is in progress.
func (iv IvIndex) Transmission(flag IvUpdateFlag) IvIndex {
	if flag == IvUpdateInProgress {
		return iv.prev()
	}
	return iv
}

func (iv IvIndex) prev() IvIndex {
	if iv == 0 {
		return iv
	}
	return iv - 1
}

// TTL is the 7-bit time-to-live of a network PDU.
type TTL uint8

// ParseTTL validates a TTL against the 7-bit range.
func ParseTTL(v uint8) (TTL, error) {
	if v > 0x7F {
		return 0, fmt.Errorf("ttl %d: %w", v, ErrInvalidValue)
	}
	return TTL(v), nil
}

// Decr returns the TTL decremented for relay, stopping at zero.
func (t TTL) Decr() TTL {
	if t > 1 {
		return t - 1
	}
	return 0
}

// CTL distinguishes access from control PDUs at the network layer. It also
// selects the network-layer MIC size: 4 octets for access, 8 for control.
type CTL uint8

const (
	CtlAccess  CTL = 0
	CtlControl CTL = 1
)

// ParseCTL validates the CTL bit.
func ParseCTL(v uint8) (CTL, error) {
	if v > 1 {
		return 0, fmt.Errorf("ctl %d: %w", v, ErrInvalidValue)
	}
	return CTL(v), nil
}

// NetMicSize returns the network-layer MIC size selected by this CTL.
func (c CTL) NetMicSize() int {
	if c == CtlControl {
		return 8
	}
	return 4
}

// SzMic selects the transport-layer MIC size: 4 octets (Bit32) or 8 (Bit64).
type SzMic uint8

const (
	SzMic32 SzMic = 0
	SzMic64 SzMic = 1
)

// ParseSzMic decodes the SZMIC flag: any non-zero value selects the 64-bit MIC.
func ParseSzMic(v uint8) SzMic {
	if v != 0 {
		return SzMic64
	}
	return SzMic32
}

// Size returns the MIC size in octets.
func (s SzMic) Size() int {
	if s == SzMic64 {
		return 8
	}
	return 4
}

// NetworkID is the 64-bit public identifier of a network key (k3 output),
// advertised in provisioned beacons.
type NetworkID [8]byte

// ParseNetworkID decodes an 8-octet network ID.
func ParseNetworkID(data []byte) (NetworkID, error) {
	var id NetworkID
	if len(data) != 8 {
		return id, fmt.Errorf("network id: %w", ErrInvalidLength)
	}
	copy(id[:], data)
	return id, nil
}
