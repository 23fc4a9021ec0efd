package pdu

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

const (
	// ObfuscatedHeaderSize covers CTL|TTL, SEQ and SRC.
	ObfuscatedHeaderSize = 6
	// MaxTransportPDU is the largest transport payload a single network
	// PDU carries.
	MaxTransportPDU = 16
	// maxEncryptedAndMic is dst + transport payload + the 8-octet MIC.
	maxEncryptedAndMic = 2 + MaxTransportPDU + 8
	// minEncryptedAndMic is dst + one payload octet + the 4-octet MIC.
	minEncryptedAndMic = 2 + 1 + 4
)

// NetworkPDU is the on-the-wire form: everything after the IVI|NID octet is
// either obfuscated or encrypted.
type NetworkPDU struct {
	IVI             mesh.IVI
	NID             uint8
	Obfuscated      [ObfuscatedHeaderSize]byte
	EncryptedAndMic []byte
}

// ParseNetworkPDU decodes the wire framing without any cryptography.
func ParseNetworkPDU(data []byte) (*NetworkPDU, error) {
	s := cryptobyte.String(data)
	var iviNid uint8
	var obfuscated []byte
	if !s.ReadUint8(&iviNid) || !s.ReadBytes(&obfuscated, ObfuscatedHeaderSize) {
		return nil, fmt.Errorf("network pdu of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
	rest := []byte(s)
	if len(rest) < minEncryptedAndMic || len(rest) > maxEncryptedAndMic {
		return nil, fmt.Errorf("network pdu payload of %d bytes: %w", len(rest), mesh.ErrInvalidLength)
	}

	p := &NetworkPDU{
		IVI:             mesh.IVI(iviNid >> 7),
		NID:             iviNid & 0x7F,
		EncryptedAndMic: append([]byte{}, rest...),
	}
	copy(p.Obfuscated[:], obfuscated)
	return p, nil
}

// Emit encodes the wire framing.
func (p *NetworkPDU) Emit() []byte {
	out := make([]byte, 0, 1+ObfuscatedHeaderSize+len(p.EncryptedAndMic))
	out = append(out, byte(p.IVI)<<7|p.NID&0x7F)
	out = append(out, p.Obfuscated[:]...)
	return append(out, p.EncryptedAndMic...)
}

// CleartextNetworkPDU is a network PDU after deobfuscation and decryption,
// or before encryption on the way out.
type CleartextNetworkPDU struct {
	IVI          mesh.IVI
	NID          uint8
	CTL          mesh.CTL
	TTL          mesh.TTL
	Seq          mesh.Seq
	Src          mesh.UnicastAddress
	Dst          mesh.Address
	TransportPDU []byte
	Meta         NetworkMetadata
}

// Relay returns a copy with the TTL decremented, or false when the TTL has
// run out and the PDU must not be forwarded.
func (p *CleartextNetworkPDU) Relay() (*CleartextNetworkPDU, bool) {
	if p.TTL <= 1 {
		return nil, false
	}
	out := *p
	out.TTL = p.TTL.Decr()
	out.TransportPDU = append([]byte{}, p.TransportPDU...)
	return &out, true
}
